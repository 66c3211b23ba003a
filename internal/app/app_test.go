package app_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"m8flash/internal/app"
	"m8flash/internal/bridge"
	"m8flash/internal/devices"
	"m8flash/internal/flash"
	"m8flash/internal/session"
	"m8flash/internal/testsupport"
)

var teensy = session.DeviceInfo{
	Serial:       "111",
	Tag:          "111-Teensy",
	Location:     "usb-1-2",
	Model:        "Teensy 4.1",
	Capabilities: []string{"unique", "run", "upload", "serial"},
	State:        session.DeviceOnline,
}

type idleStream struct{}

func (idleStream) Next(ctx context.Context) (devices.Notification, error) {
	<-ctx.Done()
	return devices.Notification{}, ctx.Err()
}

func (idleStream) Close() error { return nil }

type staticBus struct {
	devices []session.DeviceInfo
}

func (b staticBus) List(context.Context) ([]session.DeviceInfo, error) {
	return session.CloneDevices(b.devices), nil
}

func (staticBus) Watch(context.Context) (devices.Stream, error) {
	return idleStream{}, nil
}

type scriptedUpdater struct {
	mu     sync.Mutex
	boards []string
}

func (u *scriptedUpdater) UpdateFirmware(_ context.Context, _, board string, onProgress func(session.UpdateStatus)) error {
	u.mu.Lock()
	u.boards = append(u.boards, board)
	u.mu.Unlock()
	onProgress(session.UpdateStatus{State: session.UpdateUpdating, Log: session.LogLine("Uploading to board '111-Teensy' (Teensy 4.1)")})
	onProgress(session.UpdateStatus{State: session.UpdateUpdating, Log: session.LogLine("Flashing: 100%")})
	onProgress(session.UpdateStatus{State: session.UpdateFinalizing, Log: session.LogLine("Sending reset command")})
	return nil
}

type memoryRecorder struct {
	mu      sync.Mutex
	records []flash.Record
}

func (r *memoryRecorder) RecordFlash(_ context.Context, record flash.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, record)
	return nil
}

func (r *memoryRecorder) all() []flash.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]flash.Record(nil), r.records...)
}

type fixture struct {
	app      *app.App
	updater  *scriptedUpdater
	recorder *memoryRecorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	f := &fixture{updater: &scriptedUpdater{}, recorder: &memoryRecorder{}}
	a, err := app.New(cfg, app.Options{
		Bus:      staticBus{devices: []session.DeviceInfo{teensy}},
		Updater:  f.updater,
		Recorder: f.recorder,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(a.Stop)
	f.app = a
	return f
}

func dispatch(t *testing.T, a *app.App, name string, payload any) {
	t.Helper()
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		raw = data
	}
	if err := a.Bridge().Dispatch(context.Background(), name, raw); err != nil {
		t.Fatalf("Dispatch(%s): %v", name, err)
	}
}

// collect drains events until stop returns true or the deadline passes.
func collect(t *testing.T, sub *bridge.Subscription, stop func(bridge.Event) bool) []bridge.Event {
	t.Helper()
	var events []bridge.Event
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				t.Fatal("subscription closed")
			}
			events = append(events, ev)
			if stop(ev) {
				return events
			}
		case <-deadline:
			t.Fatalf("timed out after %d events", len(events))
		}
	}
}

func decodeStatus(t *testing.T, ev bridge.Event) session.FlashingStatus {
	t.Helper()
	var status session.FlashingStatus
	if err := json.Unmarshal(ev.Payload, &status); err != nil {
		t.Fatalf("decode status %s: %v", ev.Payload, err)
	}
	return status
}

func isFlashDone(ev bridge.Event) bool {
	if ev.Kind != bridge.EventFirmwareFlashingStatus {
		return false
	}
	var status session.FlashingStatus
	if json.Unmarshal(ev.Payload, &status) != nil || status.Updating == nil {
		return false
	}
	return status.Updating.State == session.UpdateStopped || status.Updating.State == session.UpdateError
}

func TestRemoteDownloadThenFlash(t *testing.T) {
	image := bytes.Repeat(testsupport.HexImage(), 2000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(image)
	}))
	defer srv.Close()

	f := newFixture(t)
	sub := f.app.Bridge().Subscribe()

	dispatch(t, f.app, "frontend-loaded", nil)
	collect(t, sub, func(ev bridge.Event) bool {
		return ev.Kind == bridge.EventDeviceListUpdated && strings.Contains(string(ev.Payload), "111-Teensy")
	})

	dispatch(t, f.app, "version-selected", bridge.VersionSelected{Path: srv.URL + "/M8_V3_1_0_HEADLESS.hex", Version: "3.1.0"})
	dispatch(t, f.app, "start-firmware-download", nil)
	events := collect(t, sub, isFlashDone)

	var (
		downloads []session.DownloadState
		updates   []session.UpdateState
		lastBytes uint64
	)
	for _, ev := range events {
		if ev.Kind != bridge.EventFirmwareFlashingStatus {
			continue
		}
		status := decodeStatus(t, ev)
		switch {
		case status.Downloading != nil:
			if len(updates) > 0 {
				t.Fatal("download status published after flashing began")
			}
			if status.Downloading.BytesDownloaded < lastBytes {
				t.Fatalf("progress went backwards: %d < %d", status.Downloading.BytesDownloaded, lastBytes)
			}
			lastBytes = status.Downloading.BytesDownloaded
			downloads = append(downloads, status.Downloading.State)
		case status.Updating != nil:
			updates = append(updates, status.Updating.State)
		}
	}

	if len(downloads) < 3 || downloads[0] != session.DownloadStarting || downloads[len(downloads)-1] != session.DownloadComplete {
		t.Fatalf("download sequence = %v", downloads)
	}
	for _, state := range downloads[1 : len(downloads)-1] {
		if state != session.DownloadDownloading {
			t.Fatalf("unexpected mid-run state %s in %v", state, downloads)
		}
	}
	if lastBytes != uint64(len(image)) {
		t.Fatalf("final bytes = %d, want %d", lastBytes, len(image))
	}
	want := []session.UpdateState{
		session.UpdateStarting,
		session.UpdateUpdating,
		session.UpdateUpdating,
		session.UpdateUpdating,
		session.UpdateFinalizing,
		session.UpdateStopped,
	}
	if len(updates) != len(want) {
		t.Fatalf("update sequence = %v, want %v", updates, want)
	}
	for i := range want {
		if updates[i] != want[i] {
			t.Fatalf("update sequence = %v, want %v", updates, want)
		}
	}

	final := decodeStatus(t, events[len(events)-1])
	if final.Updating.Log == nil || *final.Updating.Log != "firmware update complete" {
		t.Fatalf("final log = %v", final.Updating.Log)
	}

	sess, err := f.app.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if sess.LastUpdate == nil || sess.LastUpdate.Outcome != session.OutcomeSucceeded || sess.LastUpdate.Board != "111-Teensy" {
		t.Fatalf("last update = %+v", sess.LastUpdate)
	}
	if sess.Size != uint64(len(image)) {
		t.Fatalf("session size = %d", sess.Size)
	}

	waitFor(t, func() bool { return len(f.recorder.all()) == 1 })
	if rec := f.recorder.all()[0]; rec.Version != "3.1.0" || filepath.Base(rec.Image) != "M8_V3_1_0_HEADLESS.hex" {
		t.Fatalf("record = %+v", rec)
	}
}

func TestSecondStartIsRejected(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1024")
		_, _ = w.Write(make([]byte, 512))
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	f := newFixture(t)
	sub := f.app.Bridge().Subscribe()
	dispatch(t, f.app, "version-selected", bridge.VersionSelected{Path: srv.URL + "/fw.hex"})
	dispatch(t, f.app, "start-firmware-download", nil)
	collect(t, sub, func(ev bridge.Event) bool {
		if ev.Kind != bridge.EventFirmwareFlashingStatus {
			return false
		}
		status := decodeStatus(t, ev)
		return status.Downloading != nil && status.Downloading.State == session.DownloadDownloading
	})

	dispatch(t, f.app, "start-firmware-download", nil)
	dispatch(t, f.app, "version-selected", bridge.VersionSelected{Path: "/tmp/other.hex"})
	events := collect(t, sub, func(ev bridge.Event) bool {
		return ev.Kind == bridge.EventCommandRejected && strings.Contains(string(ev.Payload), "version-selected")
	})
	var rejected []bridge.CommandRejected
	for _, ev := range events {
		if ev.Kind != bridge.EventCommandRejected {
			continue
		}
		var r bridge.CommandRejected
		if err := json.Unmarshal(ev.Payload, &r); err != nil {
			t.Fatalf("decode: %v", err)
		}
		rejected = append(rejected, r)
	}
	if len(rejected) != 2 || rejected[0].Command != "start-firmware-download" {
		t.Fatalf("rejections = %+v", rejected)
	}

	sess, _ := f.app.Status(context.Background())
	if sess.DownloadStatus.State != session.DownloadDownloading || sess.ArchiveSource.Location() != srv.URL+"/fw.hex" {
		t.Fatalf("running download disturbed: %+v", sess.DownloadStatus)
	}
}

func TestDeviceSelection(t *testing.T) {
	f := newFixture(t)
	if err := f.app.RefreshDevices(context.Background()); err != nil {
		t.Fatalf("RefreshDevices: %v", err)
	}
	sub := f.app.Bridge().Subscribe()

	dispatch(t, f.app, "device-selected", bridge.DeviceSelected{Tag: "999-Teensy"})
	collect(t, sub, func(ev bridge.Event) bool { return ev.Kind == bridge.EventCommandRejected })

	dispatch(t, f.app, "device-selected", bridge.DeviceSelected{Tag: "111-Teensy"})
	waitFor(t, func() bool {
		sess, _ := f.app.Status(context.Background())
		return sess.SelectedBoard == "111-Teensy"
	})
}

func TestMalformedCommandLeavesSessionUntouched(t *testing.T) {
	f := newFixture(t)
	before, err := f.app.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}

	err = f.app.Bridge().Dispatch(context.Background(), "version-selected", json.RawMessage(`{"bogus":1}`))
	if session.KindOf(err) != session.KindMalformedCommand {
		t.Fatalf("Dispatch err = %v", err)
	}

	after, err := f.app.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !reflect.DeepEqual(before, after) {
		t.Fatalf("session changed:\nbefore %+v\nafter  %+v", before, after)
	}
	if after.ArchiveSource.Location() != "" {
		t.Fatalf("archive source set to %q", after.ArchiveSource.Location())
	}
}

func TestFlashOnceLocalFile(t *testing.T) {
	f := newFixture(t)
	path := filepath.Join(t.TempDir(), "fw.hex")
	testsupport.WriteFile(t, path, 4096)

	if err := f.app.FlashOnce(context.Background(), path, "3.0.0", ""); err != nil {
		t.Fatalf("FlashOnce: %v", err)
	}
	if got := f.updater.boards; len(got) != 1 || got[0] != "111-Teensy" {
		t.Fatalf("updater boards = %v", got)
	}
	records := f.recorder.all()
	if len(records) != 1 || records[0].Outcome != session.OutcomeSucceeded {
		t.Fatalf("records = %+v", records)
	}
}

func TestFlashOnceMissingSource(t *testing.T) {
	f := newFixture(t)
	err := f.app.FlashOnce(context.Background(), filepath.Join(t.TempDir(), "missing.hex"), "", "")
	if session.KindOf(err) != session.KindAcquisition {
		t.Fatalf("err kind = %v (%v)", session.KindOf(err), err)
	}
	if len(f.updater.boards) != 0 {
		t.Fatal("updater invoked after failed acquisition")
	}
}

func TestSingleInstanceLock(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	opts := app.Options{Bus: staticBus{}, Updater: &scriptedUpdater{}}
	first, err := app.New(cfg, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := first.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer first.Stop()

	second, err := app.New(cfg, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := second.Start(context.Background()); !errors.Is(err, app.ErrAlreadyRunning) {
		t.Fatalf("second Start err = %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met")
}
