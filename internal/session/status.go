package session

import (
	"encoding/json"
	"errors"
	"fmt"
)

// DownloadState is the acquisition state machine.
type DownloadState string

const (
	DownloadStopped     DownloadState = "Stopped"
	DownloadStarting    DownloadState = "Starting"
	DownloadDownloading DownloadState = "Downloading"
	DownloadComplete    DownloadState = "Complete"
	DownloadError       DownloadState = "Error"
)

var downloadEdges = map[DownloadState][]DownloadState{
	DownloadStopped:     {DownloadStarting, DownloadError},
	DownloadStarting:    {DownloadDownloading, DownloadError},
	DownloadDownloading: {DownloadDownloading, DownloadComplete, DownloadError},
}

// Valid reports whether s is a known variant.
func (s DownloadState) Valid() bool {
	switch s {
	case DownloadStopped, DownloadStarting, DownloadDownloading, DownloadComplete, DownloadError:
		return true
	}
	return false
}

// Active reports whether a run is in flight.
func (s DownloadState) Active() bool {
	return s == DownloadStarting || s == DownloadDownloading
}

// Terminal reports whether the run ended.
func (s DownloadState) Terminal() bool {
	return s == DownloadComplete || s == DownloadError
}

// CanTransition reports whether from→to is a defined edge.
func (s DownloadState) CanTransition(to DownloadState) bool {
	for _, next := range downloadEdges[s] {
		if next == to {
			return true
		}
	}
	return false
}

// UpdateState is the flashing state machine.
type UpdateState string

const (
	UpdateStopped    UpdateState = "Stopped"
	UpdateStarting   UpdateState = "Starting"
	UpdateUpdating   UpdateState = "Updating"
	UpdateFinalizing UpdateState = "Finalizing"
	UpdateError      UpdateState = "Error"
)

var updateEdges = map[UpdateState][]UpdateState{
	UpdateStopped:    {UpdateStarting},
	UpdateStarting:   {UpdateUpdating, UpdateError},
	UpdateUpdating:   {UpdateUpdating, UpdateFinalizing, UpdateError},
	UpdateFinalizing: {UpdateFinalizing, UpdateStopped, UpdateError},
}

// Valid reports whether s is a known variant.
func (s UpdateState) Valid() bool {
	switch s {
	case UpdateStopped, UpdateStarting, UpdateUpdating, UpdateFinalizing, UpdateError:
		return true
	}
	return false
}

// Active reports whether a flash is in flight.
func (s UpdateState) Active() bool {
	return s == UpdateStarting || s == UpdateUpdating || s == UpdateFinalizing
}

// CanTransition reports whether from→to is a defined edge.
func (s UpdateState) CanTransition(to UpdateState) bool {
	for _, next := range updateEdges[s] {
		if next == to {
			return true
		}
	}
	return false
}

// LogLine returns a pointer suitable for the optional log fields.
func LogLine(line string) *string {
	if line == "" {
		return nil
	}
	return &line
}

// DownloadStatus reports acquisition progress. Size is 0 until known.
type DownloadStatus struct {
	BytesDownloaded uint64        `json:"bytes_downloaded"`
	Size            uint64        `json:"size"`
	Log             *string       `json:"log"`
	State           DownloadState `json:"state"`
}

// NewDownloadStatus returns the initial Stopped status.
func NewDownloadStatus() DownloadStatus {
	return DownloadStatus{State: DownloadStopped}
}

// Transition moves the status along a defined edge.
func (d *DownloadStatus) Transition(to DownloadState) error {
	if !d.State.CanTransition(to) {
		return fmt.Errorf("%w: download %s -> %s", ErrIllegalTransition, d.State, to)
	}
	d.State = to
	return nil
}

// Rearm resets a finished run to Stopped so a new run can begin. Active runs
// are left untouched.
func (d *DownloadStatus) Rearm() {
	if d.State.Terminal() {
		*d = NewDownloadStatus()
	}
}

// Advance records byte progress and moves Starting to Downloading. Bytes never
// decrease within a run and never exceed a known nonzero size; a size, once
// known, does not change.
func (d *DownloadStatus) Advance(bytes, size uint64) error {
	switch d.State {
	case DownloadStarting:
		if err := d.Transition(DownloadDownloading); err != nil {
			return err
		}
	case DownloadDownloading:
	default:
		return fmt.Errorf("%w: progress while %s", ErrIllegalTransition, d.State)
	}
	if d.Size != 0 && size != 0 && size != d.Size {
		return fmt.Errorf("size changed from %d to %d", d.Size, size)
	}
	if size != 0 {
		d.Size = size
	}
	if bytes < d.BytesDownloaded {
		return fmt.Errorf("progress went backwards: %d < %d", bytes, d.BytesDownloaded)
	}
	if d.Size != 0 && bytes > d.Size {
		return fmt.Errorf("received %d bytes, more than the advertised %d", bytes, d.Size)
	}
	d.BytesDownloaded = bytes
	return nil
}

// Fail moves the status to Error with a human-readable log line.
func (d *DownloadStatus) Fail(message string) error {
	if err := d.Transition(DownloadError); err != nil {
		return err
	}
	d.Log = LogLine(message)
	return nil
}

func (d DownloadStatus) clone() DownloadStatus {
	if d.Log != nil {
		d.Log = LogLine(*d.Log)
	}
	return d
}

// UpdateStatus reports flashing progress.
type UpdateStatus struct {
	Log   *string     `json:"log"`
	State UpdateState `json:"state"`
}

// NewUpdateStatus returns the initial Stopped status.
func NewUpdateStatus() UpdateStatus {
	return UpdateStatus{State: UpdateStopped}
}

// Transition moves the status along a defined edge.
func (u *UpdateStatus) Transition(to UpdateState) error {
	if !u.State.CanTransition(to) {
		return fmt.Errorf("%w: update %s -> %s", ErrIllegalTransition, u.State, to)
	}
	u.State = to
	return nil
}

// Rearm resets a failed flash to Stopped so a new flash can begin.
func (u *UpdateStatus) Rearm() {
	if u.State == UpdateError {
		*u = NewUpdateStatus()
	}
}

// Merge applies a status reported by the updater capability. Reported states
// that are unknown or off the defined edges are rejected and leave the status
// unchanged.
func (u *UpdateStatus) Merge(reported UpdateStatus) error {
	if !reported.State.Valid() {
		return fmt.Errorf("unknown update state %q", reported.State)
	}
	if err := u.Transition(reported.State); err != nil {
		return err
	}
	u.Log = nil
	if reported.Log != nil {
		u.Log = LogLine(*reported.Log)
	}
	return nil
}

func (u UpdateStatus) clone() UpdateStatus {
	if u.Log != nil {
		u.Log = LogLine(*u.Log)
	}
	return u
}

// FlashingStatus is the single progress value published to observers. Exactly
// one of Downloading or Updating is set.
type FlashingStatus struct {
	Downloading *DownloadStatus
	Updating    *UpdateStatus
}

// DownloadingStatus wraps a download status.
func DownloadingStatus(status DownloadStatus) FlashingStatus {
	status = status.clone()
	return FlashingStatus{Downloading: &status}
}

// UpdatingStatus wraps an update status.
func UpdatingStatus(status UpdateStatus) FlashingStatus {
	status = status.clone()
	return FlashingStatus{Updating: &status}
}

// MarshalJSON encodes the externally tagged form {"Downloading": {...}}.
func (f FlashingStatus) MarshalJSON() ([]byte, error) {
	switch {
	case f.Downloading != nil && f.Updating == nil:
		return json.Marshal(map[string]DownloadStatus{"Downloading": *f.Downloading})
	case f.Updating != nil && f.Downloading == nil:
		return json.Marshal(map[string]UpdateStatus{"Updating": *f.Updating})
	default:
		return nil, errors.New("flashing status must hold exactly one variant")
	}
}

// UnmarshalJSON decodes the externally tagged form.
func (f *FlashingStatus) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != 1 {
		return errors.New("flashing status must hold exactly one variant")
	}
	*f = FlashingStatus{}
	if body, ok := raw["Downloading"]; ok {
		var status DownloadStatus
		if err := json.Unmarshal(body, &status); err != nil {
			return err
		}
		f.Downloading = &status
		return nil
	}
	if body, ok := raw["Updating"]; ok {
		var status UpdateStatus
		if err := json.Unmarshal(body, &status); err != nil {
			return err
		}
		f.Updating = &status
		return nil
	}
	return errors.New("unknown flashing status variant")
}
