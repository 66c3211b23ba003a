package acquire

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode"

	"m8flash/internal/config"
)

// Resolver turns a release version into a download URL.
type Resolver struct {
	template string
	client   *http.Client
	headers  Headers
}

// NewResolver builds a resolver over a URL template containing
// config.VersionPlaceholder.
func NewResolver(template string, client *http.Client, headers Headers) *Resolver {
	if client == nil {
		client = http.DefaultClient
	}
	return &Resolver{template: template, client: client, headers: headers}
}

// URL substitutes version into the template, dots turned into underscores.
func (r *Resolver) URL(version string) string {
	underscored := strings.ReplaceAll(strings.TrimSpace(version), ".", "_")
	return strings.ReplaceAll(r.template, config.VersionPlaceholder, underscored)
}

// Resolve returns the URL for version. When the release is not found and the
// version ends in a letter (a hotfix suffix), the letter is dropped and the
// lookup retried. If nothing is found, the URL for the original version is
// returned and the download reports the failure.
func (r *Resolver) Resolve(ctx context.Context, version string) (string, error) {
	version = strings.TrimSpace(version)
	if version == "" {
		return "", errors.New("version required")
	}
	candidate := version
	for {
		url := r.URL(candidate)
		ok, err := r.probe(ctx, url)
		if err != nil && ctx.Err() != nil {
			return "", ctx.Err()
		}
		if ok {
			return url, nil
		}
		last := rune(candidate[len(candidate)-1])
		if len(candidate) < 2 || !unicode.IsLetter(last) || last > unicode.MaxASCII {
			return r.URL(version), nil
		}
		candidate = candidate[:len(candidate)-1]
	}
}

func (r *Resolver) probe(ctx context.Context, url string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return false, fmt.Errorf("build probe: %w", err)
	}
	r.headers.Apply(req)
	resp, err := r.client.Do(req)
	if err != nil {
		return false, err
	}
	_ = resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300, nil
}
