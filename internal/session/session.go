package session

import (
	"fmt"
	"time"
)

// Outcome records how the most recent flash ended.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
)

// UpdateOutcome distinguishes a finished flash from one that never started;
// both leave the update status Stopped or Error.
type UpdateOutcome struct {
	Outcome    Outcome   `json:"outcome"`
	Board      string    `json:"board"`
	Version    string    `json:"version"`
	Message    string    `json:"message,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
}

// Session is the process-wide firmware transfer state.
type Session struct {
	ArchiveSource  ArchiveSource  `json:"archive_source"`
	Version        string         `json:"version"`
	Size           uint64         `json:"size"`
	DownloadStatus DownloadStatus `json:"download_status"`
	UpdateStatus   UpdateStatus   `json:"update_status"`
	Devices        []DeviceInfo   `json:"devices"`
	SelectedBoard  string         `json:"selected_board,omitempty"`
	LastUpdate     *UpdateOutcome `json:"last_update,omitempty"`
}

func newSession() Session {
	return Session{
		DownloadStatus: NewDownloadStatus(),
		UpdateStatus:   NewUpdateStatus(),
		Devices:        []DeviceInfo{},
	}
}

// SelectSource replaces the archive source and version. The size and the
// previous download status are cleared. A running download keeps its source.
func (s *Session) SelectSource(path, version string) error {
	if s.DownloadStatus.State.Active() {
		return fmt.Errorf("select source: %w", ErrDownloadActive)
	}
	s.ArchiveSource = ClassifySource(path)
	s.Version = version
	s.Size = 0
	s.DownloadStatus = NewDownloadStatus()
	return nil
}

// SetDevices replaces the device list, deduplicating by identity. It reports
// whether the stored list changed.
func (s *Session) SetDevices(devices []DeviceInfo) bool {
	next := DedupDevices(devices)
	if SameDevices(s.Devices, next) {
		return false
	}
	s.Devices = next
	return true
}

// FindDevice returns the device whose tag or identity matches key.
func (s *Session) FindDevice(key string) (DeviceInfo, bool) {
	for _, dev := range s.Devices {
		if dev.Tag == key || dev.Identity() == key {
			return dev.clone(), true
		}
	}
	return DeviceInfo{}, false
}

// Clone returns a deep copy safe to use after access is released.
func (s *Session) Clone() Session {
	out := *s
	out.DownloadStatus = s.DownloadStatus.clone()
	out.UpdateStatus = s.UpdateStatus.clone()
	out.Devices = CloneDevices(s.Devices)
	if s.LastUpdate != nil {
		last := *s.LastUpdate
		out.LastUpdate = &last
	}
	return out
}
