package tycmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"m8flash/internal/session"
)

// Action is the board event tycmd reports in list/watch output.
type Action string

const (
	ActionAdd    Action = "add"
	ActionChange Action = "change"
	ActionMiss   Action = "miss"
	ActionRemove Action = "remove"
)

// Entry is one board record from `tycmd list -O json -v`.
type Entry struct {
	Action       Action     `json:"action"`
	Tag          string     `json:"tag"`
	Serial       string     `json:"serial"`
	Location     string     `json:"location"`
	Model        string     `json:"model"`
	Description  string     `json:"description"`
	Capabilities []string   `json:"capabilities"`
	Interfaces   [][]string `json:"interfaces"`
}

// Device converts the entry into the session device model. Missing boards
// keep their record with state missing.
func (e Entry) Device() session.DeviceInfo {
	info := session.DeviceInfo{
		Serial:       strings.TrimSpace(e.Serial),
		Tag:          strings.TrimSpace(e.Tag),
		Location:     strings.TrimSpace(e.Location),
		Model:        strings.TrimSpace(e.Model),
		Description:  strings.TrimSpace(e.Description),
		Capabilities: append([]string{}, e.Capabilities...),
		Interfaces:   make([][2]string, 0, len(e.Interfaces)),
		State:        session.DeviceOnline,
	}
	for _, iface := range e.Interfaces {
		var pair [2]string
		copy(pair[:], iface)
		info.Interfaces = append(info.Interfaces, pair)
	}
	if e.Action == ActionMiss {
		info.State = session.DeviceMissing
	}
	return info
}

// Identity mirrors session.DeviceInfo.Identity for raw entries.
func (e Entry) Identity() string {
	return e.Device().Identity()
}

// List enumerates connected boards.
func (c *Client) List(ctx context.Context) ([]Entry, error) {
	var (
		entries []Entry
		bad     int
	)
	err := c.run(ctx, "list", c.listTimeout, []string{"list", "-O", "json", "-v"}, func(line string) {
		decoded, ok := DecodeLine(line)
		if !ok {
			if strings.TrimSpace(line) != "" {
				bad++
			}
			return
		}
		entries = append(entries, decoded...)
	})
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 && bad > 0 {
		return nil, fmt.Errorf("tycmd list: %d unparseable output lines", bad)
	}
	return Collapse(entries), nil
}

// Watch streams board events until ctx ends or tycmd exits. Each decoded
// entry is passed to onEntry in output order.
func (c *Client) Watch(ctx context.Context, onEntry func(Entry)) error {
	return c.run(ctx, "watch", 0, []string{"list", "-O", "json", "-v", "-w"}, func(line string) {
		decoded, ok := DecodeLine(line)
		if !ok {
			return
		}
		for _, entry := range decoded {
			onEntry(entry)
		}
	})
}

// DecodeLine parses one output line holding either a single JSON object or an
// array of objects. Non-JSON lines (warnings, banners) report false.
func DecodeLine(line string) ([]Entry, bool) {
	line = strings.TrimSpace(line)
	switch {
	case strings.HasPrefix(line, "{"):
		var entry Entry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			return nil, false
		}
		return []Entry{entry}, true
	case strings.HasPrefix(line, "["):
		var entries []Entry
		if err := json.Unmarshal([]byte(line), &entries); err != nil {
			return nil, false
		}
		return entries, true
	default:
		return nil, false
	}
}

// Collapse applies entries in order, keyed by identity: later records replace
// earlier ones and remove drops the board. Order of first appearance is kept.
func Collapse(entries []Entry) []Entry {
	order := make([]string, 0, len(entries))
	byID := make(map[string]Entry, len(entries))
	for _, entry := range entries {
		id := entry.Identity()
		if id == "" {
			continue
		}
		if entry.Action == ActionRemove {
			delete(byID, id)
			continue
		}
		if _, seen := byID[id]; !seen {
			order = append(order, id)
		}
		byID[id] = entry
	}
	out := make([]Entry, 0, len(byID))
	seen := make(map[string]struct{}, len(byID))
	for _, id := range order {
		entry, ok := byID[id]
		if !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, entry)
	}
	return out
}
