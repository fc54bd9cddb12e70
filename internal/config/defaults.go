package config

import "time"

// Default values for configuration options.
const (
	// DefaultUpdateInterval is the default time between samples (1 second).
	DefaultUpdateInterval = time.Second
	// DefaultTopCount is the default number of processes in a listing.
	DefaultTopCount = 10
	// DefaultSource selects the counter source for the running OS.
	DefaultSource = "auto"
	// DefaultLogLevel is the default log level.
	DefaultLogLevel = "info"
	// DefaultRemotePort is the default SSH port.
	DefaultRemotePort = 22
	// DefaultRemoteStatPath is the counter file read on remote hosts.
	DefaultRemoteStatPath = "/proc/stat"
	// DefaultCommandTimeout bounds a single remote read.
	DefaultCommandTimeout = 5 * time.Second
)

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		Monitor: MonitorConfig{
			UpdateInterval: DefaultUpdateInterval,
			Source:         DefaultSource,
			PerCore:        false,
		},
		Processes: ProcessConfig{
			TopCount:        DefaultTopCount,
			RefreshInterval: 0,
			Lister:          DefaultSource,
		},
		Logging: LoggingConfig{
			Level:  DefaultLogLevel,
			Format: LogFormatText,
		},
		Remote: RemoteConfig{
			Port:           DefaultRemotePort,
			StatPath:       DefaultRemoteStatPath,
			CommandTimeout: DefaultCommandTimeout,
		},
	}
}
