package config

const (
	defaultConfigPath         = "~/.config/m8flash/config.toml"
	projectConfigName         = "m8flash.toml"
	defaultDataDir            = "~/.local/share/m8flash"
	defaultDownloadDir        = "~/.local/share/m8flash/downloads"
	defaultLogDir             = "~/.local/share/m8flash/logs"
	defaultReleaseURLTemplate = "https://github.com/Dirtywave/M8Firmware/raw/refs/heads/main/Releases/M8Firmware_V<VERSION>.zip"
	defaultUserAgent          = "m8flash"
	defaultDownloadTimeout    = 300
	defaultProgressInterval   = 100
	defaultTycmdBinary        = "tycmd"
	defaultUploadTimeout      = 180
	defaultListTimeout        = 15
	defaultFinalizeSeconds    = 3
	defaultNotifier           = "tycmd"
	defaultVendorID           = "16c0"
	defaultDevfsDir           = "/dev"
	defaultUploadCapability   = "upload"
	defaultRetryInitialMS     = 500
	defaultRetryMaxSeconds    = 30
	defaultBridgeBind         = "127.0.0.1:7878"
	defaultCommandQueue       = 64
	defaultObserverBuffer     = 64
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
	defaultLogRetentionDays   = 30
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:     defaultDataDir,
			DownloadDir: defaultDownloadDir,
			LogDir:      defaultLogDir,
		},
		Firmware: Firmware{
			ReleaseURLTemplate: defaultReleaseURLTemplate,
			UserAgent:          defaultUserAgent,
			DownloadTimeout:    defaultDownloadTimeout,
			ProgressIntervalMS: defaultProgressInterval,
		},
		TyCmd: TyCmd{
			Binary:          defaultTycmdBinary,
			UploadTimeout:   defaultUploadTimeout,
			ListTimeout:     defaultListTimeout,
			FinalizeSeconds: defaultFinalizeSeconds,
		},
		Devices: Devices{
			Notifier:         defaultNotifier,
			VendorID:         defaultVendorID,
			DevfsDir:         defaultDevfsDir,
			UploadCapability: defaultUploadCapability,
			RetryInitialMS:   defaultRetryInitialMS,
			RetryMaxSeconds:  defaultRetryMaxSeconds,
		},
		Bridge: Bridge{
			Bind:           defaultBridgeBind,
			CommandQueue:   defaultCommandQueue,
			ObserverBuffer: defaultObserverBuffer,
		},
		Notifications: Notifications{
			RequestTimeout: 10,
			FlashSucceeded: true,
			FlashFailed:    true,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}

// VersionPlaceholder is replaced in firmware.release_url_template with the
// release version, dots turned into underscores.
const VersionPlaceholder = "<VERSION>"

// Device notifier backends.
const (
	NotifierTycmd   = "tycmd"
	NotifierNetlink = "netlink"
	NotifierDevfs   = "devfs"
)
