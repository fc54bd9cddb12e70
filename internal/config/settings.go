package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// directive applies the textual value of one configuration key to cfg.
// Both file formats funnel every key through the same table, so a setting
// means the same thing whichever format it is written in.
type directive func(cfg *Config, value string) error

// remotePrefix is prepended to keys of the nested Lua remote table to form
// the flat legacy name.
const remotePrefix = "remote_"

var directives = map[string]directive{
	"update_interval":          secondsValue(func(c *Config) *time.Duration { return &c.Monitor.UpdateInterval }),
	"source":                   stringValue(func(c *Config) *string { return &c.Monitor.Source }),
	"per_core":                 boolValue(func(c *Config) *bool { return &c.Monitor.PerCore }),
	"top_processes":            intValue(func(c *Config) *int { return &c.Processes.TopCount }),
	"process_refresh_interval": secondsValue(func(c *Config) *time.Duration { return &c.Processes.RefreshInterval }),
	"process_lister":           stringValue(func(c *Config) *string { return &c.Processes.Lister }),
	"log_level":                setLogLevel,
	"log_format":               setLogFormat,
	"metrics_addr":             stringValue(func(c *Config) *string { return &c.MetricsAddr }),
	"watch_config":             boolValue(func(c *Config) *bool { return &c.WatchConfig }),

	"remote_host":                     stringValue(func(c *Config) *string { return &c.Remote.Host }),
	"remote_port":                     intValue(func(c *Config) *int { return &c.Remote.Port }),
	"remote_user":                     stringValue(func(c *Config) *string { return &c.Remote.User }),
	"remote_password":                 stringValue(func(c *Config) *string { return &c.Remote.Password }),
	"remote_key_file":                 stringValue(func(c *Config) *string { return &c.Remote.KeyFile }),
	"remote_passphrase":               stringValue(func(c *Config) *string { return &c.Remote.Passphrase }),
	"remote_use_agent":                boolValue(func(c *Config) *bool { return &c.Remote.UseAgent }),
	"remote_known_hosts":              stringValue(func(c *Config) *string { return &c.Remote.KnownHosts }),
	"remote_insecure_ignore_host_key": boolValue(func(c *Config) *bool { return &c.Remote.InsecureIgnoreHostKey }),
	"remote_stat_path":                stringValue(func(c *Config) *string { return &c.Remote.StatPath }),
	"remote_command_timeout":          secondsValue(func(c *Config) *time.Duration { return &c.Remote.CommandTimeout }),
}

// applyDirective sets key on cfg after expanding environment references in
// value through getenv (nil reads the process environment). Unknown keys are
// ignored so configuration files stay usable across versions.
func applyDirective(cfg *Config, key, value string, getenv func(string) string) error {
	d, ok := directives[strings.ToLower(key)]
	if !ok {
		return nil
	}
	if getenv == nil {
		getenv = os.Getenv
	}
	if err := d(cfg, ExpandEnvWith(value, getenv)); err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	return nil
}

// KnownKey reports whether key is a recognized configuration setting.
func KnownKey(key string) bool {
	_, ok := directives[strings.ToLower(key)]
	return ok
}

func stringValue(field func(*Config) *string) directive {
	return func(cfg *Config, value string) error {
		*field(cfg) = value
		return nil
	}
}

func boolValue(field func(*Config) *bool) directive {
	return func(cfg *Config, value string) error {
		*field(cfg) = parseBool(value)
		return nil
	}
}

func intValue(field func(*Config) *int) directive {
	return func(cfg *Config, value string) error {
		n, err := parseInt(value)
		if err != nil {
			return err
		}
		*field(cfg) = n
		return nil
	}
}

// secondsValue parses a (possibly fractional) number of seconds.
func secondsValue(field func(*Config) *time.Duration) directive {
	return func(cfg *Config, value string) error {
		secs, err := parseFloat(value)
		if err != nil {
			return err
		}
		*field(cfg) = time.Duration(secs * float64(time.Second))
		return nil
	}
}

func setLogLevel(cfg *Config, value string) error {
	level, err := ParseLogLevel(value)
	if err != nil {
		return err
	}
	cfg.Logging.Level = level
	return nil
}

func setLogFormat(cfg *Config, value string) error {
	f, err := ParseLogFormat(value)
	if err != nil {
		return err
	}
	cfg.Logging.Format = f
	return nil
}

// parseBool parses a boolean value from common string representations.
// Accepts: yes, no, true, false, 1, 0
func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "yes", "true", "1", "on":
		return true
	default:
		return false
	}
}

// parseFloat parses a float64 from a string.
func parseFloat(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}

// parseInt parses an int from a string.
func parseInt(s string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(s))
}
