package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeFirmware(); err != nil {
		return err
	}
	c.normalizeTyCmd()
	c.normalizeDevices()
	c.normalizeBridge()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.DownloadDir) == "" {
		c.Paths.DownloadDir = defaultDownloadDir
	}
	if c.Paths.DownloadDir, err = expandPath(c.Paths.DownloadDir); err != nil {
		return fmt.Errorf("paths.download_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeFirmware() error {
	c.Firmware.ReleaseURLTemplate = strings.TrimSpace(c.Firmware.ReleaseURLTemplate)
	if c.Firmware.ReleaseURLTemplate == "" {
		c.Firmware.ReleaseURLTemplate = defaultReleaseURLTemplate
	}
	c.Firmware.GitHubToken = strings.TrimSpace(c.Firmware.GitHubToken)
	if c.Firmware.GitHubToken == "" {
		if value, ok := os.LookupEnv("M8FLASH_GITHUB_TOKEN"); ok {
			c.Firmware.GitHubToken = strings.TrimSpace(value)
		} else if value, ok := os.LookupEnv("GITHUB_API_TOKEN"); ok {
			c.Firmware.GitHubToken = strings.TrimSpace(value)
		}
	}
	c.Firmware.UserAgent = strings.TrimSpace(c.Firmware.UserAgent)
	if c.Firmware.UserAgent == "" {
		c.Firmware.UserAgent = defaultUserAgent
	}
	c.Firmware.ImageVariant = strings.TrimSpace(c.Firmware.ImageVariant)
	if strings.TrimSpace(c.Firmware.CatalogPath) != "" {
		var err error
		if c.Firmware.CatalogPath, err = expandPath(c.Firmware.CatalogPath); err != nil {
			return fmt.Errorf("firmware.catalog_path: %w", err)
		}
	}
	return nil
}

func (c *Config) normalizeTyCmd() {
	c.TyCmd.Binary = strings.TrimSpace(c.TyCmd.Binary)
	if c.TyCmd.Binary == "" {
		c.TyCmd.Binary = defaultTycmdBinary
	}
}

func (c *Config) normalizeDevices() {
	c.Devices.Notifier = strings.ToLower(strings.TrimSpace(c.Devices.Notifier))
	if c.Devices.Notifier == "" {
		c.Devices.Notifier = defaultNotifier
	}
	c.Devices.VendorID = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(c.Devices.VendorID), "0x"))
	c.Devices.DevfsDir = strings.TrimSpace(c.Devices.DevfsDir)
	if c.Devices.DevfsDir == "" {
		c.Devices.DevfsDir = defaultDevfsDir
	}
	c.Devices.UploadCapability = strings.TrimSpace(c.Devices.UploadCapability)
	if c.Devices.UploadCapability == "" {
		c.Devices.UploadCapability = defaultUploadCapability
	}
}

func (c *Config) normalizeBridge() {
	c.Bridge.Bind = strings.TrimSpace(c.Bridge.Bind)
	if c.Bridge.Bind == "" {
		c.Bridge.Bind = defaultBridgeBind
	}
	c.Bridge.Token = strings.TrimSpace(c.Bridge.Token)
	if c.Bridge.Token == "" {
		if value, ok := os.LookupEnv("M8FLASH_BRIDGE_TOKEN"); ok {
			c.Bridge.Token = strings.TrimSpace(value)
		}
	}
	origins := c.Bridge.AllowedOrigins[:0]
	for _, origin := range c.Bridge.AllowedOrigins {
		if trimmed := strings.TrimRight(strings.TrimSpace(origin), "/"); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	c.Bridge.AllowedOrigins = origins
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.NtfyTopic == "" {
		if value, ok := os.LookupEnv("M8FLASH_NTFY_TOPIC"); ok {
			c.Notifications.NtfyTopic = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
