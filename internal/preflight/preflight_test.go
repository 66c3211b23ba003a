package preflight

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"m8flash/internal/config"
	"m8flash/internal/session"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed || result.Detail == "" {
		t.Fatalf("expected failure with detail for missing dir, got %+v", result)
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if result := CheckDirectoryAccess("test", f); result.Passed {
		t.Fatal("expected failure for file path")
	}
	if result := CheckReadableDirectory("test", ""); result.Passed || result.Detail != "not configured" {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestCheckReachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			t.Errorf("method = %s", r.Method)
		}
		if strings.HasSuffix(r.URL.Path, "/broken") {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	if result := CheckReachable(context.Background(), "host", srv.URL+"/topic"); !result.Passed {
		t.Fatalf("expected 404 to count as reachable, got %+v", result)
	}
	if result := CheckReachable(context.Background(), "host", srv.URL+"/broken"); result.Passed {
		t.Fatalf("expected 502 to fail, got %+v", result)
	}
	if result := CheckReachable(context.Background(), "host", ""); result.Passed {
		t.Fatal("expected empty url to fail")
	}
}

func TestReleaseHost(t *testing.T) {
	got := releaseHost("https://github.com/Dirtywave/M8Firmware/raw/main/Releases/M8_V" + config.VersionPlaceholder + "_HEADLESS.hex")
	if got != "https://github.com/" {
		t.Fatalf("releaseHost = %q", got)
	}
	if releaseHost("not a url") != "" {
		t.Fatal("expected empty host for relative template")
	}
}

func TestRunAllReportsMissingTycmd(t *testing.T) {
	cfg := config.Default()
	base := t.TempDir()
	cfg.Paths.DataDir = base
	cfg.Paths.DownloadDir = base
	cfg.Paths.LogDir = base
	cfg.TyCmd.Binary = "definitely-not-tycmd"
	cfg.Firmware.ReleaseURLTemplate = ""

	results := RunAll(context.Background(), &cfg)
	failed := Failed(results)
	if len(failed) != 1 || failed[0].Name != "tycmd" {
		t.Fatalf("expected only tycmd to fail, got %+v", failed)
	}
}

type fakeLister struct {
	devices []session.DeviceInfo
	err     error
}

func (f fakeLister) List(context.Context) ([]session.DeviceInfo, error) {
	return f.devices, f.err
}

func TestCheckBoards(t *testing.T) {
	ctx := context.Background()
	if r := CheckBoards(ctx, fakeLister{}); !r.Passed || r.Detail != "No boards attached" {
		t.Fatalf("empty: %+v", r)
	}
	devices := []session.DeviceInfo{
		{Tag: "1-Teensy", Serial: "1"},
		{Tag: "1-Teensy", Serial: "1"},
		{Tag: "2-Teensy", Serial: "2"},
	}
	if r := CheckBoards(ctx, fakeLister{devices: devices}); !r.Passed || r.Detail != "2 attached: 1-Teensy, 2-Teensy" {
		t.Fatalf("listed: %+v", r)
	}
	if r := CheckBoards(ctx, fakeLister{err: errors.New("usb gone")}); r.Passed {
		t.Fatalf("expected failure, got %+v", r)
	}
}
