package main

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"testing"

	"m8flash/internal/preflight"
	"m8flash/internal/session"
)

func TestRenderStatusLineNoColor(t *testing.T) {
	got := renderStatusLine("tycmd", statusError, "not found", false)
	want := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, "tycmd:", "[ERROR] not found")
	if got != want {
		t.Fatalf("renderStatusLine mismatch\n got: %q\nwant: %q", got, want)
	}
}

func TestRenderStatusLineWithColor(t *testing.T) {
	got := renderStatusLine("Boards", statusOK, "No boards attached", true)
	if !strings.HasPrefix(got, ansiGreen) || !strings.HasSuffix(got, ansiReset) {
		t.Fatalf("expected green line, got %q", got)
	}
}

func TestCheckLinesPutsFailuresLast(t *testing.T) {
	lines := checkLines([]preflight.Result{
		{Name: "ntfy", Passed: false, Detail: "unreachable"},
		{Name: "Data directory", Passed: true, Detail: "/tmp/data"},
	}, false)
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if !strings.Contains(lines[0], "[OK] /tmp/data") || !strings.Contains(lines[1], "[ERROR] unreachable") {
		t.Fatalf("unexpected order: %q", lines)
	}
}

func TestShouldColorizeNonFile(t *testing.T) {
	if shouldColorize(io.Discard) {
		t.Fatal("expected non-file writer to disable color")
	}
}

func TestRenderDevices(t *testing.T) {
	if got := renderDevices(nil); got != "No boards attached" {
		t.Fatalf("empty list rendered %q", got)
	}
	out := renderDevices([]session.DeviceInfo{{
		Tag:          "4242-Teensy",
		Model:        "Teensy 4.1",
		Serial:       "4242",
		Location:     "usb-1-2",
		State:        session.DeviceOnline,
		Capabilities: []string{"upload", "reset"},
	}})
	for _, want := range []string{"4242-Teensy", "Teensy 4.1", "Online", "upload, reset"} {
		requireContains(t, out, want)
	}
}

func TestProgressViewPlainOutput(t *testing.T) {
	var buf bytes.Buffer
	view := newProgressView(&buf, false)
	dl := func(state session.DownloadState, bytes, size uint64) session.FlashingStatus {
		return session.DownloadingStatus(session.DownloadStatus{State: state, BytesDownloaded: bytes, Size: size})
	}
	up := func(state session.UpdateState, log string) session.FlashingStatus {
		return session.UpdatingStatus(session.UpdateStatus{State: state, Log: session.LogLine(log)})
	}
	for _, status := range []session.FlashingStatus{
		dl(session.DownloadStarting, 0, 0),
		dl(session.DownloadDownloading, 0, 4096),
		dl(session.DownloadDownloading, 512, 4096),
		dl(session.DownloadDownloading, 2048, 4096),
		dl(session.DownloadDownloading, 4096, 4096),
		dl(session.DownloadComplete, 4096, 4096),
		up(session.UpdateStarting, ""),
		up(session.UpdateUpdating, "Uploading 50%"),
		up(session.UpdateUpdating, "Uploading 50%"),
		up(session.UpdateFinalizing, "Sending reset command"),
		up(session.UpdateStopped, "firmware update complete"),
	} {
		view.render(status)
	}

	want := strings.Join([]string{
		"Fetching firmware",
		"Downloaded 0 B of 4.0 KiB (0%)",
		"Downloaded 2.0 KiB of 4.0 KiB (50%)",
		"Downloaded 4.0 KiB of 4.0 KiB (100%)",
		"Firmware ready (4.0 KiB)",
		"Starting",
		"Updating: Uploading 50%",
		"Finalizing: Sending reset command",
		"Stopped: firmware update complete",
	}, "\n") + "\n"
	if buf.String() != want {
		t.Fatalf("progress output mismatch\n got:\n%s\nwant:\n%s", buf.String(), want)
	}
}

func TestTitleWord(t *testing.T) {
	cases := map[string]string{"": "-", "succeeded": "Succeeded", "online": "Online"}
	for in, want := range cases {
		if got := titleWord(in); got != want {
			t.Fatalf("titleWord(%q) = %q, want %q", in, got, want)
		}
	}
}
