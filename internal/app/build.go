package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"m8flash/internal/config"
	"m8flash/internal/devices"
	"m8flash/internal/history"
	"m8flash/internal/notifications"
	"m8flash/internal/services/tycmd"
)

// Build constructs an App backed by tycmd, the configured device notifier,
// the SQLite history store, and ntfy. The returned close function releases
// the history database.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, func() error, error) {
	client, err := NewTycmdClient(cfg)
	if err != nil {
		return nil, nil, err
	}
	bus, err := devices.NewBus(cfg, client, logger)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, nil, fmt.Errorf("ensure directories: %w", err)
	}
	store, err := history.Open(ctx, cfg.HistoryPath())
	if err != nil {
		return nil, nil, fmt.Errorf("open history: %w", err)
	}
	a, err := New(cfg, Options{
		Bus:      bus,
		Updater:  client,
		Recorder: store,
		Notifier: notifications.NewService(cfg),
		Logger:   logger,
	})
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	return a, store.Close, nil
}

// NewTycmdClient builds the tycmd client from the [tycmd] settings.
func NewTycmdClient(cfg *config.Config) (*tycmd.Client, error) {
	return tycmd.New(cfg.TyCmd.Binary,
		tycmd.WithTimeouts(
			time.Duration(cfg.TyCmd.ListTimeout)*time.Second,
			time.Duration(cfg.TyCmd.UploadTimeout)*time.Second,
		),
		tycmd.WithNoCheck(cfg.TyCmd.NoCheck),
	)
}
