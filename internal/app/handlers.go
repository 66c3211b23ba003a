package app

import (
	"context"
	"errors"
	"fmt"

	"m8flash/internal/acquire"
	"m8flash/internal/bridge"
	"m8flash/internal/logging"
	"m8flash/internal/session"
)

func (a *App) registerHandlers() {
	bridge.Register(a.bridge, bridge.CommandVersionSelected, a.onVersionSelected)
	bridge.Register(a.bridge, bridge.CommandStartFirmwareDownload, a.onStartDownload)
	bridge.Register(a.bridge, bridge.CommandShowLogs, a.onShowLogs)
	bridge.Register(a.bridge, bridge.CommandFrontendLoaded, a.onFrontendLoaded)
	bridge.Register(a.bridge, bridge.CommandDeviceSelected, a.onDeviceSelected)
}

func (a *App) onVersionSelected(ctx context.Context, p bridge.VersionSelected) error {
	err := a.store.Update(ctx, func(s *session.Session) error {
		return s.SelectSource(p.Path, p.Version)
	})
	if errors.Is(err, session.ErrDownloadActive) {
		a.bridge.Reject(bridge.CommandVersionSelected, "a firmware download is running")
		return nil
	}
	if err != nil {
		return err
	}
	source := session.ClassifySource(p.Path)
	logging.WithContext(ctx, a.logger).Info("firmware source selected",
		logging.String(logging.FieldEventType, "source_selected"),
		logging.String(logging.FieldSource, source.String()),
		logging.String(logging.FieldVersion, p.Version),
	)
	return nil
}

func (a *App) onStartDownload(ctx context.Context, _ bridge.Empty) error {
	root := a.Context()
	if root == nil {
		root = ctx
	}
	_, err := a.acquire.Start(root)
	if errors.Is(err, acquire.ErrAcquisitionInFlight) {
		a.bridge.Reject(bridge.CommandStartFirmwareDownload, "a firmware download or flash is already running")
		return nil
	}
	return err
}

func (a *App) onShowLogs(ctx context.Context, _ bridge.Empty) error {
	logging.WithContext(ctx, a.logger).Info("log directory",
		logging.String(logging.FieldEventType, "show_logs"),
		logging.String("path", a.cfg.Paths.LogDir),
	)
	return nil
}

func (a *App) onFrontendLoaded(ctx context.Context, _ bridge.Empty) error {
	root := a.Context()
	if root == nil {
		root = ctx
	}
	a.watcher.Start(root, a.bridge)
	return nil
}

func (a *App) onDeviceSelected(ctx context.Context, p bridge.DeviceSelected) error {
	var rejected string
	err := a.store.Update(ctx, func(s *session.Session) error {
		if p.Tag == "" {
			s.SelectedBoard = ""
			return nil
		}
		if _, ok := s.FindDevice(p.Tag); !ok {
			rejected = fmt.Sprintf("board %s is not connected", p.Tag)
			return nil
		}
		s.SelectedBoard = p.Tag
		return nil
	})
	if err != nil {
		return err
	}
	if rejected != "" {
		a.bridge.Reject(bridge.CommandDeviceSelected, rejected)
		return nil
	}
	logging.WithContext(ctx, a.logger).Info("board selected",
		logging.String(logging.FieldEventType, "board_selected"),
		logging.String(logging.FieldBoard, p.Tag),
	)
	return nil
}
