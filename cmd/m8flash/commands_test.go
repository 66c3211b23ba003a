package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"m8flash/internal/config"
	"m8flash/internal/flash"
	"m8flash/internal/history"
	"m8flash/internal/session"
	"m8flash/internal/testsupport"
)

func TestHistoryCommand(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"history"}, env.configPath)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	requireContains(t, out, "No flashes recorded")

	ctx := context.Background()
	store, err := history.Open(ctx, env.cfg.HistoryPath())
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	finished := time.Now().Add(-time.Minute)
	for _, rec := range []flash.Record{
		{Board: "111-Teensy", Version: "3.1.0", Outcome: session.OutcomeSucceeded, StartedAt: finished.Add(-20 * time.Second), FinishedAt: finished},
		{Board: "222-Teensy", Version: "3.2.0", Outcome: session.OutcomeFailed, Message: "board vanished", StartedAt: finished, FinishedAt: finished.Add(5 * time.Second)},
	} {
		if err := store.RecordFlash(ctx, rec); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	_ = store.Close()

	out, _, err = runCLI(t, []string{"history"}, env.configPath)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	for _, want := range []string{"111-Teensy", "222-Teensy", "Succeeded", "Failed", "board vanished", "20s"} {
		requireContains(t, out, want)
	}

	out, _, err = runCLI(t, []string{"history", "--outcome", "failed"}, env.configPath)
	if err != nil {
		t.Fatalf("history --outcome: %v", err)
	}
	if strings.Contains(out, "111-Teensy") {
		t.Fatalf("filter ignored:\n%s", out)
	}

	if _, _, err := runCLI(t, []string{"history", "--outcome", "maybe"}, env.configPath); err == nil {
		t.Fatal("expected unknown outcome error")
	}
}

func TestCacheListAndClear(t *testing.T) {
	env := setupCLITestEnv(t)
	if err := os.MkdirAll(env.cfg.Paths.DownloadDir, 0o755); err != nil {
		t.Fatal(err)
	}
	testsupport.WriteFile(t, filepath.Join(env.cfg.Paths.DownloadDir, "M8_V3_1_0.zip"), 2048)
	testsupport.WriteFile(t, filepath.Join(env.cfg.Paths.DownloadDir, "M8_V3_2_0.zip.part"), 10)

	out, _, err := runCLI(t, []string{"cache", "list"}, env.configPath)
	if err != nil {
		t.Fatalf("cache list: %v", err)
	}
	requireContains(t, out, "M8_V3_1_0.zip")
	requireContains(t, out, "2.0 KiB")
	if strings.Contains(out, ".part") {
		t.Fatalf("partial download listed:\n%s", out)
	}

	out, _, err = runCLI(t, []string{"cache", "clear"}, env.configPath)
	if err != nil {
		t.Fatalf("cache clear: %v", err)
	}
	requireContains(t, out, "Removed 1 image(s), freed 2.0 KiB")

	out, _, err = runCLI(t, []string{"cache", "list"}, env.configPath)
	if err != nil {
		t.Fatalf("cache list: %v", err)
	}
	requireContains(t, out, "No firmware cached")
}

func TestReleasesCommand(t *testing.T) {
	dir := t.TempDir()
	catalog := filepath.Join(dir, "releases.yaml")
	content := `firmwares:
  - version: 3.2.0
    path: https://example.invalid/M8_V3_2_0.zip
    date: "2024-05-01"
    changelog:
      - id: 1
        title: Sequencer
        entries:
          - type: new
            description: Groove presets
`
	if err := os.WriteFile(catalog, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	env := setupCLITestEnv(t)
	env.cfg.Firmware.CatalogPath = catalog
	rewriteConfig(t, env)

	out, _, err := runCLI(t, []string{"releases"}, env.configPath)
	if err != nil {
		t.Fatalf("releases: %v", err)
	}
	requireContains(t, out, "3.2.0")
	requireContains(t, out, "2024-05-01")

	out, _, err = runCLI(t, []string{"releases", "3.2.0"}, env.configPath)
	if err != nil {
		t.Fatalf("releases 3.2.0: %v", err)
	}
	requireContains(t, out, "[New] Groove presets")

	if _, _, err := runCLI(t, []string{"releases", "9.9.9"}, env.configPath); err == nil {
		t.Fatal("expected unknown version error")
	}
}

func TestResolveFlashSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/M8_V3_1_0.zip" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	cfg := testsupport.NewConfig(t, testsupport.WithReleaseTemplate(srv.URL+"/M8_V"+config.VersionPlaceholder+".zip"))
	ctx := context.Background()

	local := filepath.Join(t.TempDir(), "m8.hex")
	testsupport.WriteFile(t, local, 16)
	source, version, err := resolveFlashSource(ctx, cfg, local, "custom")
	if err != nil || source != local || version != "custom" {
		t.Fatalf("local file: %q %q %v", source, version, err)
	}

	source, _, err = resolveFlashSource(ctx, cfg, "https://example.invalid/fw.zip", "")
	if err != nil || source != "https://example.invalid/fw.zip" {
		t.Fatalf("url: %q %v", source, err)
	}

	if _, _, err := resolveFlashSource(ctx, cfg, "missing/firmware.hex", ""); err == nil {
		t.Fatal("expected missing file error")
	}

	source, version, err = resolveFlashSource(ctx, cfg, "3.1.0a", "")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if source != srv.URL+"/M8_V3_1_0.zip" || version != "3.1.0a" {
		t.Fatalf("version resolved to %q %q", source, version)
	}

	cfg.Firmware.ReleaseURLTemplate = ""
	if _, _, err := resolveFlashSource(ctx, cfg, "3.1.0", ""); err == nil {
		t.Fatal("expected error without template or catalog")
	}
}
