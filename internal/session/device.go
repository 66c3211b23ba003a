package session

import "strings"

// DeviceState reports bus presence of a device.
type DeviceState string

const (
	DeviceOnline  DeviceState = "online"
	DeviceMissing DeviceState = "missing"
)

// DeviceInfo describes a board seen on the serial/USB bus.
type DeviceInfo struct {
	Serial       string      `json:"serial"`
	Tag          string      `json:"tag"`
	Location     string      `json:"location"`
	Model        string      `json:"model"`
	Description  string      `json:"description"`
	Capabilities []string    `json:"capabilities"`
	Interfaces   [][2]string `json:"interfaces"`
	State        DeviceState `json:"state"`
}

// Identity returns the key devices are deduplicated on: the serial number
// when known, otherwise the bus location.
func (d DeviceInfo) Identity() string {
	if serial := strings.TrimSpace(d.Serial); serial != "" {
		return serial
	}
	return strings.TrimSpace(d.Location)
}

// HasCapability reports whether the board advertises name.
func (d DeviceInfo) HasCapability(name string) bool {
	for _, c := range d.Capabilities {
		if strings.EqualFold(c, name) {
			return true
		}
	}
	return false
}

// Equal compares every field.
func (d DeviceInfo) Equal(other DeviceInfo) bool {
	if d.Serial != other.Serial || d.Tag != other.Tag || d.Location != other.Location ||
		d.Model != other.Model || d.Description != other.Description || d.State != other.State {
		return false
	}
	if len(d.Capabilities) != len(other.Capabilities) || len(d.Interfaces) != len(other.Interfaces) {
		return false
	}
	for i := range d.Capabilities {
		if d.Capabilities[i] != other.Capabilities[i] {
			return false
		}
	}
	for i := range d.Interfaces {
		if d.Interfaces[i] != other.Interfaces[i] {
			return false
		}
	}
	return true
}

func (d DeviceInfo) clone() DeviceInfo {
	if d.Capabilities != nil {
		d.Capabilities = append([]string(nil), d.Capabilities...)
	}
	if d.Interfaces != nil {
		d.Interfaces = append([][2]string(nil), d.Interfaces...)
	}
	return d
}

// DedupDevices keeps the first entry for each identity, preserving order.
// Entries without any identity are dropped.
func DedupDevices(devices []DeviceInfo) []DeviceInfo {
	out := make([]DeviceInfo, 0, len(devices))
	seen := make(map[string]struct{}, len(devices))
	for _, dev := range devices {
		id := dev.Identity()
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, dev.clone())
	}
	return out
}

// CloneDevices deep-copies a device list.
func CloneDevices(devices []DeviceInfo) []DeviceInfo {
	if devices == nil {
		return nil
	}
	out := make([]DeviceInfo, len(devices))
	for i, dev := range devices {
		out[i] = dev.clone()
	}
	return out
}

// SameDevices reports whether two lists hold equal devices in the same order.
func SameDevices(a, b []DeviceInfo) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}
