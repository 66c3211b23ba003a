package acquire

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// ErrNoImage reports an archive without a flashable image.
var ErrNoImage = errors.New("archive holds no .hex image")

// ExtractImage copies the flashable .hex image out of a zip archive into
// destDir. With several images, variant picks the one whose name contains it;
// no match or more than one match is an error.
func ExtractImage(archive, variant, destDir string) (string, error) {
	reader, err := zip.OpenReader(archive)
	if err != nil {
		return "", fmt.Errorf("open archive: %w", err)
	}
	defer reader.Close()

	entry, err := pickImage(reader.File, variant)
	if err != nil {
		return "", err
	}

	src, err := entry.Open()
	if err != nil {
		return "", fmt.Errorf("open %s: %w", entry.Name, err)
	}
	defer src.Close()

	target := filepath.Join(destDir, path.Base(entry.Name))
	dst, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", target, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return "", fmt.Errorf("extract %s: %w", entry.Name, err)
	}
	if err := dst.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", target, err)
	}
	return target, nil
}

func pickImage(files []*zip.File, variant string) (*zip.File, error) {
	var images []*zip.File
	for _, f := range files {
		if f.FileInfo().IsDir() {
			continue
		}
		base := path.Base(f.Name)
		if strings.HasPrefix(base, ".") || strings.HasPrefix(f.Name, "__MACOSX/") {
			continue
		}
		if strings.EqualFold(path.Ext(base), ".hex") {
			images = append(images, f)
		}
	}
	if len(images) == 0 {
		return nil, ErrNoImage
	}
	if len(images) == 1 {
		return images[0], nil
	}

	variant = strings.ToLower(strings.TrimSpace(variant))
	if variant == "" {
		return nil, fmt.Errorf("archive holds %d .hex images; set firmware.image_variant to choose one", len(images))
	}
	var matched []*zip.File
	for _, f := range images {
		if strings.Contains(strings.ToLower(path.Base(f.Name)), variant) {
			matched = append(matched, f)
		}
	}
	switch len(matched) {
	case 0:
		return nil, fmt.Errorf("no .hex image matches variant %q", variant)
	case 1:
		return matched[0], nil
	default:
		return nil, fmt.Errorf("%d .hex images match variant %q", len(matched), variant)
	}
}
