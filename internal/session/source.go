package session

import (
	"encoding/json"
	"errors"
	"strings"
)

// SourceKind tags the active ArchiveSource variant.
type SourceKind int

const (
	SourceNone SourceKind = iota
	SourceRemote
	SourceLocal
)

func (k SourceKind) String() string {
	switch k {
	case SourceRemote:
		return "remote"
	case SourceLocal:
		return "local"
	default:
		return "none"
	}
}

// ArchiveSource is the origin of a firmware archive: a remote URL or a local
// path. The zero value means no source has been selected. Values are
// immutable; a new selection replaces the whole value.
type ArchiveSource struct {
	kind     SourceKind
	location string
}

// ClassifySource builds a source from a submitted path. Paths prefixed with an
// http:// or https:// scheme are remote; everything else is local.
func ClassifySource(path string) ArchiveSource {
	lower := strings.ToLower(path)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return ArchiveSource{kind: SourceRemote, location: path}
	}
	return ArchiveSource{kind: SourceLocal, location: path}
}

// RemoteURL returns a remote source.
func RemoteURL(url string) ArchiveSource {
	return ArchiveSource{kind: SourceRemote, location: url}
}

// LocalPath returns a local source.
func LocalPath(path string) ArchiveSource {
	return ArchiveSource{kind: SourceLocal, location: path}
}

func (a ArchiveSource) Kind() SourceKind { return a.kind }

func (a ArchiveSource) Location() string { return a.location }

func (a ArchiveSource) IsZero() bool { return a.kind == SourceNone }

func (a ArchiveSource) String() string {
	if a.IsZero() {
		return "none"
	}
	return a.kind.String() + ":" + a.location
}

// MarshalJSON encodes {"RemoteUrl": "..."}, {"LocalPath": "..."}, or null.
func (a ArchiveSource) MarshalJSON() ([]byte, error) {
	switch a.kind {
	case SourceRemote:
		return json.Marshal(map[string]string{"RemoteUrl": a.location})
	case SourceLocal:
		return json.Marshal(map[string]string{"LocalPath": a.location})
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON decodes the forms produced by MarshalJSON.
func (a *ArchiveSource) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*a = ArchiveSource{}
		return nil
	}
	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != 1 {
		return errors.New("archive source must hold exactly one variant")
	}
	if url, ok := raw["RemoteUrl"]; ok {
		*a = RemoteURL(url)
		return nil
	}
	if path, ok := raw["LocalPath"]; ok {
		*a = LocalPath(path)
		return nil
	}
	return errors.New("unknown archive source variant")
}
