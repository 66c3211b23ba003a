package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateFirmware(); err != nil {
		return err
	}
	if err := c.validateTimings(); err != nil {
		return err
	}
	if err := c.validateDevices(); err != nil {
		return err
	}
	if err := c.validateBridge(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateFirmware() error {
	if !strings.Contains(c.Firmware.ReleaseURLTemplate, VersionPlaceholder) {
		return fmt.Errorf("firmware.release_url_template must contain %s", VersionPlaceholder)
	}
	parsed, err := url.Parse(strings.ReplaceAll(c.Firmware.ReleaseURLTemplate, VersionPlaceholder, "1_0_0"))
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return errors.New("firmware.release_url_template must be an absolute http(s) URL")
	}
	return nil
}

func (c *Config) validateTimings() error {
	if err := ensurePositiveMap(map[string]int{
		"firmware.download_timeout":     c.Firmware.DownloadTimeout,
		"firmware.progress_interval_ms": c.Firmware.ProgressIntervalMS,
		"tycmd.upload_timeout":          c.TyCmd.UploadTimeout,
		"tycmd.list_timeout":            c.TyCmd.ListTimeout,
		"devices.retry_initial_ms":      c.Devices.RetryInitialMS,
		"devices.retry_max_seconds":     c.Devices.RetryMaxSeconds,
		"notifications.request_timeout": c.Notifications.RequestTimeout,
		"bridge.command_queue":          c.Bridge.CommandQueue,
		"bridge.observer_buffer":        c.Bridge.ObserverBuffer,
	}); err != nil {
		return err
	}
	if c.TyCmd.FinalizeSeconds < 0 {
		return errors.New("tycmd.finalize_seconds must not be negative")
	}
	return nil
}

func (c *Config) validateDevices() error {
	switch c.Devices.Notifier {
	case NotifierTycmd, NotifierNetlink, NotifierDevfs:
	default:
		return fmt.Errorf("devices.notifier must be one of %q, %q, %q", NotifierTycmd, NotifierNetlink, NotifierDevfs)
	}
	if c.Devices.Notifier == NotifierNetlink && c.Devices.VendorID == "" {
		return errors.New("devices.vendor_id must be set when devices.notifier is netlink")
	}
	return nil
}

func (c *Config) validateBridge() error {
	if _, _, err := net.SplitHostPort(c.Bridge.Bind); err != nil {
		return fmt.Errorf("bridge.bind: %w", err)
	}
	for _, origin := range c.Bridge.AllowedOrigins {
		parsed, err := url.Parse(origin)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("bridge.allowed_origins: invalid origin %q", origin)
		}
	}
	return nil
}

func (c *Config) validateNotifications() error {
	if c.Notifications.NtfyTopic == "" {
		return nil
	}
	parsed, err := url.Parse(c.Notifications.NtfyTopic)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return errors.New("notifications.ntfy_topic must be a full URL (https://ntfy.sh/<topic>)")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	if c.Logging.RetentionDays < 0 {
		return errors.New("logging.retention_days must not be negative")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
