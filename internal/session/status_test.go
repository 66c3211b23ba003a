package session_test

import (
	"encoding/json"
	"errors"
	"testing"

	"m8flash/internal/session"
)

var downloadStates = []session.DownloadState{
	session.DownloadStopped,
	session.DownloadStarting,
	session.DownloadDownloading,
	session.DownloadComplete,
	session.DownloadError,
}

var updateStates = []session.UpdateState{
	session.UpdateStopped,
	session.UpdateStarting,
	session.UpdateUpdating,
	session.UpdateFinalizing,
	session.UpdateError,
}

func TestDownloadEdges(t *testing.T) {
	allowed := map[[2]session.DownloadState]bool{
		{session.DownloadStopped, session.DownloadStarting}:        true,
		{session.DownloadStarting, session.DownloadDownloading}:    true,
		{session.DownloadDownloading, session.DownloadDownloading}: true,
		{session.DownloadDownloading, session.DownloadComplete}:    true,
		{session.DownloadStopped, session.DownloadError}:           true,
		{session.DownloadStarting, session.DownloadError}:          true,
		{session.DownloadDownloading, session.DownloadError}:       true,
	}
	for _, from := range downloadStates {
		for _, to := range downloadStates {
			want := allowed[[2]session.DownloadState{from, to}]
			if got := from.CanTransition(to); got != want {
				t.Errorf("%s -> %s: got %v, want %v", from, to, got, want)
			}
			status := session.DownloadStatus{State: from}
			err := status.Transition(to)
			if want && err != nil {
				t.Errorf("%s -> %s: unexpected error %v", from, to, err)
			}
			if !want {
				if !errors.Is(err, session.ErrIllegalTransition) {
					t.Errorf("%s -> %s: expected ErrIllegalTransition, got %v", from, to, err)
				}
				if status.State != from {
					t.Errorf("%s -> %s: rejected transition changed state to %s", from, to, status.State)
				}
			}
		}
	}
}

func TestUpdateEdges(t *testing.T) {
	allowed := map[[2]session.UpdateState]bool{
		{session.UpdateStopped, session.UpdateStarting}:      true,
		{session.UpdateStarting, session.UpdateUpdating}:     true,
		{session.UpdateUpdating, session.UpdateUpdating}:     true,
		{session.UpdateUpdating, session.UpdateFinalizing}:   true,
		{session.UpdateFinalizing, session.UpdateFinalizing}: true,
		{session.UpdateFinalizing, session.UpdateStopped}:    true,
		{session.UpdateStarting, session.UpdateError}:        true,
		{session.UpdateUpdating, session.UpdateError}:        true,
		{session.UpdateFinalizing, session.UpdateError}:      true,
	}
	for _, from := range updateStates {
		for _, to := range updateStates {
			want := allowed[[2]session.UpdateState{from, to}]
			if got := from.CanTransition(to); got != want {
				t.Errorf("%s -> %s: got %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestRearm(t *testing.T) {
	for _, state := range downloadStates {
		status := session.DownloadStatus{State: state, BytesDownloaded: 4, Size: 8}
		status.Rearm()
		if state.Terminal() {
			if status.State != session.DownloadStopped || status.BytesDownloaded != 0 || status.Size != 0 {
				t.Fatalf("rearm from %s: got %+v", state, status)
			}
			continue
		}
		if status.State != state || status.BytesDownloaded != 4 {
			t.Fatalf("rearm from %s should be a no-op, got %+v", state, status)
		}
	}

	update := session.UpdateStatus{State: session.UpdateError, Log: session.LogLine("boom")}
	update.Rearm()
	if update.State != session.UpdateStopped || update.Log != nil {
		t.Fatalf("update rearm: got %+v", update)
	}
}

func TestAdvanceKeepsBytesMonotoneAndBounded(t *testing.T) {
	status := session.NewDownloadStatus()
	if err := status.Advance(1, 10); !errors.Is(err, session.ErrIllegalTransition) {
		t.Fatalf("expected progress before Starting to be rejected, got %v", err)
	}
	if err := status.Transition(session.DownloadStarting); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := status.Advance(4, 10); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if status.State != session.DownloadDownloading {
		t.Fatalf("expected Downloading, got %s", status.State)
	}
	if err := status.Advance(3, 10); err == nil {
		t.Fatal("expected backwards progress to fail")
	}
	if err := status.Advance(11, 10); err == nil {
		t.Fatal("expected progress past size to fail")
	}
	if err := status.Advance(5, 12); err == nil {
		t.Fatal("expected size change to fail")
	}
	if err := status.Advance(10, 0); err != nil {
		t.Fatalf("advance with unknown size: %v", err)
	}
	if status.BytesDownloaded != 10 || status.Size != 10 {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestAdvanceUnknownSize(t *testing.T) {
	status := session.DownloadStatus{State: session.DownloadStarting}
	for _, n := range []uint64{100, 5000, 90000} {
		if err := status.Advance(n, 0); err != nil {
			t.Fatalf("advance %d: %v", n, err)
		}
	}
	if status.Size != 0 || status.BytesDownloaded != 90000 {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestUpdateMergeRejectsUnknownAndIllegal(t *testing.T) {
	status := session.UpdateStatus{State: session.UpdateUpdating}
	if err := status.Merge(session.UpdateStatus{State: "Exploded"}); err == nil {
		t.Fatal("expected unknown state to be rejected")
	}
	if err := status.Merge(session.UpdateStatus{State: session.UpdateStarting}); !errors.Is(err, session.ErrIllegalTransition) {
		t.Fatalf("expected illegal transition, got %v", err)
	}
	if status.State != session.UpdateUpdating {
		t.Fatalf("rejected merge changed state to %s", status.State)
	}
	if err := status.Merge(session.UpdateStatus{State: session.UpdateUpdating, Log: session.LogLine("Programming 50%")}); err != nil {
		t.Fatalf("merge: %v", err)
	}
	if status.Log == nil || *status.Log != "Programming 50%" {
		t.Fatalf("unexpected log %v", status.Log)
	}
}

func TestFlashingStatusWireForm(t *testing.T) {
	tests := []struct {
		name   string
		status session.FlashingStatus
		want   string
	}{
		{
			name:   "downloading",
			status: session.DownloadingStatus(session.DownloadStatus{BytesDownloaded: 1, Size: 2, State: session.DownloadDownloading}),
			want:   `{"Downloading":{"bytes_downloaded":1,"size":2,"log":null,"state":"Downloading"}}`,
		},
		{
			name:   "updating",
			status: session.UpdatingStatus(session.UpdateStatus{Log: session.LogLine("Booting"), State: session.UpdateFinalizing}),
			want:   `{"Updating":{"log":"Booting","state":"Finalizing"}}`,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			data, err := json.Marshal(tc.status)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			if string(data) != tc.want {
				t.Fatalf("got %s, want %s", data, tc.want)
			}
		})
	}

	if _, err := json.Marshal(session.FlashingStatus{}); err == nil {
		t.Fatal("expected empty flashing status to fail")
	}
	var decoded session.FlashingStatus
	if err := json.Unmarshal([]byte(`{"Downloading":{},"Updating":{}}`), &decoded); err == nil {
		t.Fatal("expected two variants to fail")
	}
}
