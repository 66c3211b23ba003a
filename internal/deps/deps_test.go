package deps

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeStub(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	return path
}

func TestCheckBinaries(t *testing.T) {
	binDir := t.TempDir()
	present := writeStub(t, binDir, "present", "exit 0")
	reqs := []Requirement{
		{Name: "Present", Command: present},
		{Name: "Missing", Command: "clearly-not-present-binary"},
		{Name: "Blank", Command: "  ", Optional: true},
	}

	results := CheckBinaries(context.Background(), reqs)
	if len(results) != len(reqs) {
		t.Fatalf("expected %d results, got %d", len(reqs), len(results))
	}
	if !results[0].Available || results[0].Detail != "" || results[0].Path != present {
		t.Fatalf("expected first requirement to be available, got %#v", results[0])
	}
	if results[1].Available || results[1].Detail == "" || results[1].Satisfied() {
		t.Fatalf("expected missing binary to be unavailable, got %#v", results[1])
	}
	if results[1].Command != "clearly-not-present-binary" {
		t.Fatalf("unexpected command recorded: %s", results[1].Command)
	}
	if results[2].Detail != "command not configured" || !results[2].Satisfied() {
		t.Fatalf("unexpected blank result %#v", results[2])
	}
}

func TestCheckBinariesProbesVersion(t *testing.T) {
	binDir := t.TempDir()
	tycmd := writeStub(t, binDir, "tycmd", `echo ""; echo "tycmd 0.9.9"; echo "extra"`)
	results := CheckBinaries(context.Background(), []Requirement{{Name: "tycmd", Command: tycmd, VersionArgs: []string{"--version"}}})
	if results[0].Version != "tycmd 0.9.9" {
		t.Fatalf("version = %q", results[0].Version)
	}

	failing := writeStub(t, binDir, "failing", "exit 3")
	results = CheckBinaries(context.Background(), []Requirement{{Name: "failing", Command: failing, VersionArgs: []string{"--version"}}})
	if !results[0].Available || results[0].Version != "" {
		t.Fatalf("unexpected status %#v", results[0])
	}
}
