package acquire

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"m8flash/internal/logging"
)

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// CacheName picks the download cache file name for a URL: its last path
// element when it has one, otherwise the version.
func CacheName(rawURL, version string) string {
	name := ""
	if parsed, err := url.Parse(rawURL); err == nil {
		name = path.Base(parsed.Path)
	}
	if name == "" || name == "." || name == "/" {
		name = strings.TrimSpace(version)
	}
	name = unsafeName.ReplaceAllString(name, "_")
	name = strings.Trim(name, "._")
	if name == "" {
		name = "firmware"
	}
	return name
}

// download streams rawURL into the cache and returns the cached path and its
// size.
func (p *Pipeline) download(ctx context.Context, runID, rawURL, version string) (string, uint64, error) {
	logger := logging.WithContext(ctx, p.logger)
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return "", 0, fmt.Errorf("malformed firmware url %q", rawURL)
	}
	if err := os.MkdirAll(p.cfg.DownloadDir, 0o755); err != nil {
		return "", 0, fmt.Errorf("create download dir: %w", err)
	}

	target := filepath.Join(p.cfg.DownloadDir, CacheName(rawURL, version))
	lock := flock.New(target + ".lock")
	locked, err := lock.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil {
		return "", 0, fmt.Errorf("lock download cache: %w", err)
	}
	if !locked {
		return "", 0, errors.New("download cache is locked by another process")
	}
	defer func() { _ = lock.Unlock() }()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", 0, fmt.Errorf("build request: %w", err)
	}
	p.headers.Apply(req)

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", 0, ctx.Err()
		}
		return "", 0, fmt.Errorf("download %s: %w", rawURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", 0, fmt.Errorf("download %s: unexpected status %s", rawURL, resp.Status)
	}

	var size uint64
	if resp.ContentLength > 0 {
		size = uint64(resp.ContentLength)
	}
	logger.Info("downloading firmware",
		logging.String("url", rawURL),
		logging.String("target", target),
		logging.Uint64("size", size),
	)

	partial := target + ".part"
	file, err := os.OpenFile(partial, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", 0, fmt.Errorf("create %s: %w", partial, err)
	}
	written, copyErr := p.copyWithProgress(ctx, file, resp.Body, size)
	closeErr := file.Close()
	if copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		_ = os.Remove(partial)
		return "", 0, copyErr
	}
	if err := os.Rename(partial, target); err != nil {
		_ = os.Remove(partial)
		return "", 0, fmt.Errorf("finalize download: %w", err)
	}
	p.tag(ctx, target, rawURL, runID)
	return target, written, nil
}

func (p *Pipeline) copyWithProgress(ctx context.Context, dst io.Writer, src io.Reader, size uint64) (uint64, error) {
	gate := &progressGate{interval: p.cfg.ProgressInterval, sampler: logging.NewProgressSampler(10)}
	buf := make([]byte, 32*1024)
	var written uint64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return written, fmt.Errorf("write download: %w", err)
			}
			written += uint64(n)
			if size != 0 && written > size {
				return written, fmt.Errorf("received %d bytes, more than the advertised %d", written, size)
			}
			if err := p.advance(ctx, written, size, gate, false); err != nil {
				return written, err
			}
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			if ctx.Err() != nil {
				return written, ctx.Err()
			}
			return written, fmt.Errorf("read download: %w", readErr)
		}
	}
	if size != 0 && written != size {
		return written, fmt.Errorf("download ended after %d of %d bytes", written, size)
	}
	if written == 0 {
		return 0, errors.New("download was empty")
	}
	if err := p.advance(ctx, written, size, gate, true); err != nil {
		return written, err
	}
	return written, nil
}
