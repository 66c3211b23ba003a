package notifications_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"m8flash/internal/config"
	"m8flash/internal/notifications"
)

type captured struct {
	title    string
	tags     string
	priority string
	body     string
}

func newNtfy(t *testing.T, status int) (*httptest.Server, chan captured) {
	t.Helper()
	requests := make(chan captured, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		requests <- captured{
			title:    r.Header.Get("Title"),
			tags:     r.Header.Get("Tags"),
			priority: r.Header.Get("Priority"),
			body:     string(body),
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte("topic closed"))
	}))
	t.Cleanup(srv.Close)
	return srv, requests
}

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = ""
	svc := notifications.NewService(&cfg)
	if err := svc.NotifyFlashFailed(context.Background(), "1-Teensy", errors.New("boom")); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

func TestNtfyServiceFormatsPayloads(t *testing.T) {
	srv, requests := newNtfy(t, http.StatusOK)
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = srv.URL
	cfg.Notifications.Downloads = true
	svc := notifications.NewService(&cfg)
	ctx := context.Background()

	tests := []struct {
		name         string
		send         func() error
		wantTitle    string
		wantMessage  string
		wantTags     string
		wantPriority string
	}{
		{
			name:        "flash succeeded",
			send:        func() error { return svc.NotifyFlashSucceeded(ctx, "4242-Teensy", "3.1.0") },
			wantTitle:   "m8flash - Flash Complete",
			wantMessage: "✅ Flashed 4242-Teensy with firmware 3.1.0",
			wantTags:    "m8flash,flash,completed",
		},
		{
			name:         "flash failed",
			send:         func() error { return svc.NotifyFlashFailed(ctx, "4242-Teensy", errors.New("board vanished")) },
			wantTitle:    "m8flash - Flash Failed",
			wantMessage:  "❌ Flash failed on 4242-Teensy: board vanished",
			wantTags:     "m8flash,flash,error",
			wantPriority: "high",
		},
		{
			name:        "download complete",
			send:        func() error { return svc.NotifyDownloadComplete(ctx, "M8_V3_1_0.zip", 2048) },
			wantTitle:   "m8flash - Download Complete",
			wantMessage: "Firmware downloaded: M8_V3_1_0.zip (2.0 KiB)",
			wantTags:    "m8flash,download,completed",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.send(); err != nil {
				t.Fatalf("send: %v", err)
			}
			got := <-requests
			if got.title != tc.wantTitle || got.body != tc.wantMessage || got.tags != tc.wantTags || got.priority != tc.wantPriority {
				t.Fatalf("got %+v", got)
			}
		})
	}
}

func TestDisabledMilestonesAreSkipped(t *testing.T) {
	srv, requests := newNtfy(t, http.StatusOK)
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = srv.URL
	cfg.Notifications.FlashSucceeded = false
	svc := notifications.NewService(&cfg)

	if err := svc.NotifyFlashSucceeded(context.Background(), "1-Teensy", ""); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if err := svc.NotifyDownloadComplete(context.Background(), "fw.zip", 1); err != nil {
		t.Fatalf("notify: %v", err)
	}
	select {
	case got := <-requests:
		t.Fatalf("unexpected request %+v", got)
	default:
	}
}

func TestNtfyErrorStatusSurfaces(t *testing.T) {
	srv, _ := newNtfy(t, http.StatusForbidden)
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = srv.URL
	svc := notifications.NewService(&cfg)
	err := svc.TestNotification(context.Background())
	if err == nil || !strings.Contains(err.Error(), "403") || !strings.Contains(err.Error(), "topic closed") {
		t.Fatalf("expected status error, got %v", err)
	}
}
