package bridge

import (
	"errors"
	"strings"
)

// CommandKind identifies an inbound command.
type CommandKind int

const (
	CommandStartFirmwareDownload CommandKind = iota + 1
	CommandVersionSelected
	CommandShowLogs
	CommandFrontendLoaded
	CommandDeviceSelected
)

// EventKind identifies an outbound event.
type EventKind int

const (
	EventDeviceListUpdated EventKind = iota + 1
	EventFirmwareFlashingStatus
	EventCommandRejected
)

// Wire names. These tables are the only place names are spelled out.
var (
	commandNames = map[CommandKind]string{
		CommandStartFirmwareDownload: "start-firmware-download",
		CommandVersionSelected:       "version-selected",
		CommandShowLogs:              "show-logs",
		CommandFrontendLoaded:        "frontend-loaded",
		CommandDeviceSelected:        "device-selected",
	}
	eventNames = map[EventKind]string{
		EventDeviceListUpdated:      "device-list-updated",
		EventFirmwareFlashingStatus: "firmware-flashing-status",
		EventCommandRejected:        "command-rejected",
	}
	commandsByName = invert(commandNames)
	eventsByName   = invert(eventNames)
)

func invert[K comparable](m map[K]string) map[string]K {
	out := make(map[string]K, len(m))
	for k, v := range m {
		out[v] = k
	}
	return out
}

func (k CommandKind) String() string {
	if name, ok := commandNames[k]; ok {
		return name
	}
	return "unknown-command"
}

func (k EventKind) String() string {
	if name, ok := eventNames[k]; ok {
		return name
	}
	return "unknown-event"
}

// ParseCommand maps a wire name to its kind.
func ParseCommand(name string) (CommandKind, bool) {
	kind, ok := commandsByName[strings.TrimSpace(name)]
	return kind, ok
}

// ParseEvent maps a wire name to its kind.
func ParseEvent(name string) (EventKind, bool) {
	kind, ok := eventsByName[strings.TrimSpace(name)]
	return kind, ok
}

// Commands lists every command kind in declaration order.
func Commands() []CommandKind {
	return []CommandKind{
		CommandStartFirmwareDownload,
		CommandVersionSelected,
		CommandShowLogs,
		CommandFrontendLoaded,
		CommandDeviceSelected,
	}
}

// Empty is the payload of commands that carry none.
type Empty struct{}

// VersionSelected chooses the firmware source.
type VersionSelected struct {
	Path    string `json:"path"`
	Version string `json:"version,omitempty"`
}

// Validate requires a non-blank path.
func (v VersionSelected) Validate() error {
	if strings.TrimSpace(v.Path) == "" {
		return errors.New("path is required")
	}
	return nil
}

// DeviceSelected chooses the board to flash. An empty tag clears the choice.
type DeviceSelected struct {
	Tag string `json:"tag"`
}

// CommandRejected tells the shell a well-formed command was refused.
type CommandRejected struct {
	Command string `json:"command"`
	Reason  string `json:"reason"`
}
