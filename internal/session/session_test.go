package session_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"m8flash/internal/session"
)

func TestClassifySource(t *testing.T) {
	tests := []struct {
		path string
		kind session.SourceKind
	}{
		{"https://example.com/fw.zip", session.SourceRemote},
		{"http://example.com/fw.zip", session.SourceRemote},
		{"HTTPS://EXAMPLE.COM/FW.ZIP", session.SourceRemote},
		{"/home/user/fw.hex", session.SourceLocal},
		{"ftp://example.com/fw.zip", session.SourceLocal},
		{"fw.zip", session.SourceLocal},
	}
	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			src := session.ClassifySource(tc.path)
			if src.Kind() != tc.kind {
				t.Fatalf("kind = %s, want %s", src.Kind(), tc.kind)
			}
			if src.Location() != tc.path {
				t.Fatalf("location = %q", src.Location())
			}
		})
	}
}

func TestArchiveSourceJSON(t *testing.T) {
	data, err := json.Marshal(session.RemoteURL("https://x/y.zip"))
	if err != nil || string(data) != `{"RemoteUrl":"https://x/y.zip"}` {
		t.Fatalf("remote: %s %v", data, err)
	}
	data, err = json.Marshal(session.ArchiveSource{})
	if err != nil || string(data) != "null" {
		t.Fatalf("none: %s %v", data, err)
	}

	var src session.ArchiveSource
	if err := json.Unmarshal([]byte(`{"LocalPath":"/tmp/fw.hex"}`), &src); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if src.Kind() != session.SourceLocal || src.Location() != "/tmp/fw.hex" {
		t.Fatalf("decoded %v", src)
	}
	if err := json.Unmarshal([]byte(`{"Ftp":"x"}`), &src); err == nil {
		t.Fatal("expected unknown variant error")
	}
}

func TestSelectSourceResetsSizeAndStatus(t *testing.T) {
	store := session.NewStore()
	ctx := context.Background()
	err := store.Update(ctx, func(s *session.Session) error {
		s.Size = 4096
		s.DownloadStatus = session.DownloadStatus{BytesDownloaded: 4096, Size: 4096, State: session.DownloadComplete}
		return s.SelectSource("/tmp/fw.hex", "3.0.0")
	})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	snap, err := store.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.ArchiveSource.Kind() != session.SourceLocal || snap.Version != "3.0.0" {
		t.Fatalf("unexpected source %v version %q", snap.ArchiveSource, snap.Version)
	}
	if snap.Size != 0 || snap.DownloadStatus.State != session.DownloadStopped || snap.DownloadStatus.BytesDownloaded != 0 {
		t.Fatalf("expected reset download state, got size=%d status=%+v", snap.Size, snap.DownloadStatus)
	}
}

func TestSelectSourceRejectedWhileDownloading(t *testing.T) {
	s := session.Session{DownloadStatus: session.DownloadStatus{State: session.DownloadDownloading}}
	s.ArchiveSource = session.RemoteURL("https://a/b.zip")
	if err := s.SelectSource("/tmp/other.hex", ""); !errors.Is(err, session.ErrDownloadActive) {
		t.Fatalf("expected ErrDownloadActive, got %v", err)
	}
	if s.ArchiveSource.Location() != "https://a/b.zip" {
		t.Fatalf("source replaced during download: %v", s.ArchiveSource)
	}
}

func TestSetDevicesDedupsByIdentity(t *testing.T) {
	var s session.Session
	changed := s.SetDevices([]session.DeviceInfo{
		{Serial: "111", Tag: "111-Teensy", State: session.DeviceOnline},
		{Serial: "111", Tag: "dup", State: session.DeviceOnline},
		{Location: "usb-1-2", Tag: "no-serial", State: session.DeviceOnline},
		{Tag: "anonymous"},
	})
	if !changed {
		t.Fatal("expected change")
	}
	if len(s.Devices) != 2 || s.Devices[0].Tag != "111-Teensy" || s.Devices[1].Identity() != "usb-1-2" {
		t.Fatalf("unexpected devices %+v", s.Devices)
	}
	if s.SetDevices(s.Devices) {
		t.Fatal("expected identical list to report no change")
	}
}

func TestCloneIsDeep(t *testing.T) {
	s := session.Session{Devices: []session.DeviceInfo{{Serial: "1", Capabilities: []string{"upload"}}}}
	s.UpdateStatus.Log = session.LogLine("a")
	c := s.Clone()
	c.Devices[0].Capabilities[0] = "changed"
	*c.UpdateStatus.Log = "b"
	if s.Devices[0].Capabilities[0] != "upload" || *s.UpdateStatus.Log != "a" {
		t.Fatal("clone shares memory with original")
	}
}

func TestLockHonoursContext(t *testing.T) {
	store := session.NewStore()
	guard, err := store.Lock(context.Background())
	if err != nil {
		t.Fatalf("lock: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := store.Lock(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	guard.Release()
	if guard.Session() != nil || !errors.Is(guard.Err(), session.ErrGuardReleased) {
		t.Fatal("expected released guard to refuse access")
	}
	guard.Release()

	if err := store.Update(context.Background(), func(*session.Session) error { return nil }); err != nil {
		t.Fatalf("update after release: %v", err)
	}
}

func TestUpdateSerializesWriters(t *testing.T) {
	store := session.NewStore()
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = store.Update(ctx, func(s *session.Session) error {
				s.Size++
				return nil
			})
		}()
	}
	wg.Wait()
	snap, _ := store.Snapshot(ctx)
	if snap.Size != 50 {
		t.Fatalf("expected 50 serialized increments, got %d", snap.Size)
	}
}

func TestSnapshotDevicesPayload(t *testing.T) {
	store := session.NewStore()
	ctx := context.Background()
	snap, err := store.SnapshotDevices(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if string(snap.Payload) != "[]" {
		t.Fatalf("expected empty array payload, got %s", snap.Payload)
	}
	_ = store.Update(ctx, func(s *session.Session) error {
		s.SetDevices([]session.DeviceInfo{{Serial: "9", Tag: "9-Teensy", State: session.DeviceOnline}})
		return nil
	})
	snap, _ = store.SnapshotDevices(ctx)
	var decoded []session.DeviceInfo
	if err := json.Unmarshal(snap.Payload, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(decoded) != 1 || decoded[0].Tag != "9-Teensy" {
		t.Fatalf("unexpected payload %s", snap.Payload)
	}
}

func TestKindOf(t *testing.T) {
	err := session.AcquisitionError("download", errors.New("reset by peer"))
	if session.KindOf(err) != session.KindAcquisition {
		t.Fatalf("unexpected kind %q", session.KindOf(err))
	}
	if session.SourceSelectionError("start", nil) != nil {
		t.Fatal("expected nil for nil cause")
	}
	wrapped := session.SourceSelectionError("start", session.ErrNoSourceSelected)
	if !errors.Is(wrapped, session.ErrNoSourceSelected) {
		t.Fatal("expected sentinel to unwrap")
	}
}
