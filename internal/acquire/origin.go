package acquire

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pkg/xattr"

	"m8flash/internal/logging"
)

// Extended attributes recorded on cached downloads.
const (
	AttrOriginURL = "user.xdg.origin.url"
	AttrRunID     = "user.m8flash.run_id"
)

// tag records where a download came from. Filesystems without extended
// attribute support are tolerated.
func (p *Pipeline) tag(ctx context.Context, path, origin, runID string) {
	if err := TagOrigin(path, origin, runID); err != nil {
		logging.WithContext(ctx, p.logger).Debug("could not tag download origin",
			logging.String("path", path),
			logging.Error(err),
		)
	}
}

// TagOrigin writes the origin URL and run ID attributes.
func TagOrigin(path, origin, runID string) error {
	if err := xattr.Set(path, AttrOriginURL, []byte(origin)); err != nil {
		return err
	}
	if runID == "" {
		return nil
	}
	return xattr.Set(path, AttrRunID, []byte(runID))
}

// ReadOrigin returns the recorded origin URL and run ID, empty when absent.
func ReadOrigin(path string) (origin, runID string) {
	if value, err := xattr.Get(path, AttrOriginURL); err == nil {
		origin = string(value)
	}
	if value, err := xattr.Get(path, AttrRunID); err == nil {
		runID = string(value)
	}
	return origin, runID
}

// CachedImage describes one file in the download cache.
type CachedImage struct {
	Name     string
	Path     string
	Size     int64
	Modified time.Time
	Origin   string
	RunID    string
}

// ListCache returns the completed downloads in dir, newest first.
func ListCache(dir string) ([]CachedImage, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read download dir: %w", err)
	}
	var images []CachedImage
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasSuffix(name, ".part") || strings.HasSuffix(name, ".lock") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		full := filepath.Join(dir, name)
		origin, runID := ReadOrigin(full)
		images = append(images, CachedImage{
			Name:     name,
			Path:     full,
			Size:     info.Size(),
			Modified: info.ModTime(),
			Origin:   origin,
			RunID:    runID,
		})
	}
	sort.Slice(images, func(i, j int) bool {
		return images[i].Modified.After(images[j].Modified)
	})
	return images, nil
}
