package acquire

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ChangeType classifies a changelog entry.
type ChangeType string

const (
	ChangeChange   ChangeType = "change"
	ChangeFix      ChangeType = "fix"
	ChangeImproved ChangeType = "improved"
	ChangeNew      ChangeType = "new"
)

// ChangelogEntry is one line of release notes.
type ChangelogEntry struct {
	Type        ChangeType `yaml:"type"`
	Description string     `yaml:"description"`
	Details     []string   `yaml:"details,omitempty"`
}

// ChangelogSection groups entries under an optional title.
type ChangelogSection struct {
	ID      int              `yaml:"id"`
	Title   string           `yaml:"title,omitempty"`
	Entries []ChangelogEntry `yaml:"entries"`
}

// Firmware is one catalog release.
type Firmware struct {
	Version   string             `yaml:"version"`
	Path      string             `yaml:"path"`
	Date      string             `yaml:"date,omitempty"`
	Changelog []ChangelogSection `yaml:"changelog,omitempty"`
}

// Catalog lists known firmware releases, newest first.
type Catalog struct {
	Firmwares []Firmware `yaml:"firmwares"`

	dir string
}

// LoadCatalog reads and validates a YAML catalog.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var catalog Catalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	if err := catalog.validate(); err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	catalog.dir = filepath.Dir(path)
	return &catalog, nil
}

func (c *Catalog) validate() error {
	seen := make(map[string]struct{}, len(c.Firmwares))
	for i, fw := range c.Firmwares {
		version := strings.TrimSpace(fw.Version)
		if version == "" {
			return fmt.Errorf("firmware %d: version required", i)
		}
		if _, dup := seen[version]; dup {
			return fmt.Errorf("firmware %s listed twice", version)
		}
		seen[version] = struct{}{}
		for _, section := range fw.Changelog {
			for _, entry := range section.Entries {
				switch entry.Type {
				case ChangeChange, ChangeFix, ChangeImproved, ChangeNew:
				default:
					return fmt.Errorf("firmware %s: unknown changelog type %q", version, entry.Type)
				}
			}
		}
	}
	return nil
}

// Find returns the release with the given version.
func (c *Catalog) Find(version string) (Firmware, bool) {
	version = strings.TrimSpace(version)
	for _, fw := range c.Firmwares {
		if fw.Version == version {
			return fw, true
		}
	}
	return Firmware{}, false
}

// Latest returns the first listed release.
func (c *Catalog) Latest() (Firmware, bool) {
	if len(c.Firmwares) == 0 {
		return Firmware{}, false
	}
	return c.Firmwares[0], true
}

// Locate returns the source path for a release: its own URL, a file relative
// to the catalog, or the URL the resolver builds from the version.
func (c *Catalog) Locate(ctx context.Context, fw Firmware, resolver *Resolver) (string, error) {
	p := strings.TrimSpace(fw.Path)
	if strings.HasPrefix(p, "http://") || strings.HasPrefix(p, "https://") {
		return p, nil
	}
	if p != "" {
		candidate := p
		if !filepath.IsAbs(candidate) {
			candidate = filepath.Join(c.dir, candidate)
		}
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	if resolver == nil {
		return "", errors.New("release has no reachable path and no resolver is configured")
	}
	return resolver.Resolve(ctx, fw.Version)
}
