package devices

import (
	"fmt"
	"log/slog"
	"time"

	"m8flash/internal/config"
	"m8flash/internal/services/tycmd"
)

// NewBus selects the notifier configured in devices.notifier. Listing always
// goes through tycmd.
func NewBus(cfg *config.Config, client *tycmd.Client, logger *slog.Logger) (Bus, error) {
	lister := NewTycmdBus(client)
	switch cfg.Devices.Notifier {
	case "", config.NotifierTycmd:
		return lister, nil
	case config.NotifierNetlink:
		return Combine(lister, NewNetlinkNotifier(cfg.Devices.VendorID, logger)), nil
	case config.NotifierDevfs:
		return Combine(lister, NewDevfsNotifier(cfg.Devices.DevfsDir, nil, logger)), nil
	default:
		return nil, fmt.Errorf("unknown device notifier %q", cfg.Devices.Notifier)
	}
}

// BackoffFromConfig returns the WithBackoff option for the configured delays.
func BackoffFromConfig(cfg *config.Config) Option {
	return WithBackoff(
		time.Duration(cfg.Devices.RetryInitialMS)*time.Millisecond,
		time.Duration(cfg.Devices.RetryMaxSeconds)*time.Second,
	)
}
