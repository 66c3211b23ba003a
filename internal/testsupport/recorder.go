package testsupport

import (
	"context"
	"sync"

	"m8flash/internal/session"
)

// StatusRecorder captures published flashing statuses in order.
type StatusRecorder struct {
	mu       sync.Mutex
	statuses []session.FlashingStatus
}

// PublishStatus records status.
func (r *StatusRecorder) PublishStatus(_ context.Context, status session.FlashingStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, status)
}

// Statuses returns a copy of everything recorded so far.
func (r *StatusRecorder) Statuses() []session.FlashingStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]session.FlashingStatus(nil), r.statuses...)
}

// DownloadStates lists the state of each recorded download status.
func (r *StatusRecorder) DownloadStates() []session.DownloadState {
	var out []session.DownloadState
	for _, status := range r.Statuses() {
		if status.Downloading != nil {
			out = append(out, status.Downloading.State)
		}
	}
	return out
}

// UpdateStates lists the state of each recorded update status.
func (r *StatusRecorder) UpdateStates() []session.UpdateState {
	var out []session.UpdateState
	for _, status := range r.Statuses() {
		if status.Updating != nil {
			out = append(out, status.Updating.State)
		}
	}
	return out
}

// LastDownload returns the most recent download status.
func (r *StatusRecorder) LastDownload() (session.DownloadStatus, bool) {
	statuses := r.Statuses()
	for i := len(statuses) - 1; i >= 0; i-- {
		if statuses[i].Downloading != nil {
			return *statuses[i].Downloading, true
		}
	}
	return session.DownloadStatus{}, false
}

// LastUpdate returns the most recent update status.
func (r *StatusRecorder) LastUpdate() (session.UpdateStatus, bool) {
	statuses := r.Statuses()
	for i := len(statuses) - 1; i >= 0; i-- {
		if statuses[i].Updating != nil {
			return *statuses[i].Updating, true
		}
	}
	return session.UpdateStatus{}, false
}
