// Package config provides configuration data structures for cpumon.
// It reads the Lua format (cpumon.config = { ... }) and the legacy
// "key value" format, expands environment variable references, applies
// CPUMON_* environment overrides and validates the result.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config represents the complete cpumon configuration.
type Config struct {
	// Monitor contains sampling settings.
	Monitor MonitorConfig
	// Processes contains top-process listing settings.
	Processes ProcessConfig
	// Logging contains log level and format.
	Logging LoggingConfig
	// Remote contains the SSH connection used by the ssh source.
	Remote RemoteConfig
	// MetricsAddr is the listen address for /metrics and /debug/vars.
	// Empty disables the endpoint.
	MetricsAddr string
	// WatchConfig enables reloading the configuration file when it changes.
	WatchConfig bool
}

// MonitorConfig holds CPU sampling settings.
type MonitorConfig struct {
	// UpdateInterval is the time between samples.
	UpdateInterval time.Duration
	// Source names the counter source: auto, procfs, native, gopsutil or ssh.
	Source string
	// PerCore enables per-core utilization.
	PerCore bool
}

// ProcessConfig holds top-process listing settings.
type ProcessConfig struct {
	// TopCount is how many processes a listing returns.
	TopCount int
	// RefreshInterval refreshes the listing automatically when positive.
	// Zero means listings are only taken on request.
	RefreshInterval time.Duration
	// Lister names the process lister: auto, procfs or gopsutil.
	Lister string
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is debug, info, warn or error.
	Level string
	// Format selects the log encoding.
	Format LogFormat
}

// RemoteConfig holds the SSH settings for the ssh counter source.
type RemoteConfig struct {
	Host       string
	Port       int
	User       string
	Password   string
	KeyFile    string
	Passphrase string
	// UseAgent authenticates through SSH_AUTH_SOCK.
	UseAgent bool
	// KnownHosts is the known_hosts file; empty selects ~/.ssh/known_hosts.
	KnownHosts string
	// InsecureIgnoreHostKey disables host key verification.
	InsecureIgnoreHostKey bool
	// StatPath is the counter file on the remote host.
	StatPath string
	// CommandTimeout bounds a single remote read.
	CommandTimeout time.Duration
}

// LogFormat represents the log output encoding.
type LogFormat int

const (
	// LogFormatText is human-readable console output.
	LogFormatText LogFormat = iota
	// LogFormatJSON is one JSON object per line.
	LogFormatJSON
)

// String returns the string representation of a LogFormat.
func (f LogFormat) String() string {
	switch f {
	case LogFormatText:
		return "text"
	case LogFormatJSON:
		return "json"
	default:
		return "unknown"
	}
}

// ParseLogFormat parses a string into a LogFormat.
func ParseLogFormat(s string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "text", "console":
		return LogFormatText, nil
	case "json":
		return LogFormatJSON, nil
	default:
		return LogFormatText, fmt.Errorf("unknown log format: %s", s)
	}
}

// logLevels lists the accepted log level names.
var logLevels = []string{"debug", "info", "warn", "error"}

// ParseLogLevel normalizes a log level name.
func ParseLogLevel(s string) (string, error) {
	level := strings.ToLower(strings.TrimSpace(s))
	if level == "warning" {
		level = "warn"
	}
	for _, l := range logLevels {
		if l == level {
			return level, nil
		}
	}
	return "", fmt.Errorf("unknown log level: %s", s)
}
