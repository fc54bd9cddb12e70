package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix prefixes every environment override, e.g. CPUMON_UPDATE_INTERVAL.
const EnvPrefix = "CPUMON_"

// envOverrides mirrors the configuration keys. Fields stay nil unless the
// variable is set, so only explicitly provided values replace file settings.
type envOverrides struct {
	UpdateInterval         *string `env:"UPDATE_INTERVAL"`
	Source                 *string `env:"SOURCE"`
	PerCore                *string `env:"PER_CORE"`
	TopProcesses           *string `env:"TOP_PROCESSES"`
	ProcessRefreshInterval *string `env:"PROCESS_REFRESH_INTERVAL"`
	ProcessLister          *string `env:"PROCESS_LISTER"`
	LogLevel               *string `env:"LOG_LEVEL"`
	LogFormat              *string `env:"LOG_FORMAT"`
	MetricsAddr            *string `env:"METRICS_ADDR"`
	WatchConfig            *string `env:"WATCH_CONFIG"`

	RemoteHost                  *string `env:"REMOTE_HOST"`
	RemotePort                  *string `env:"REMOTE_PORT"`
	RemoteUser                  *string `env:"REMOTE_USER"`
	RemotePassword              *string `env:"REMOTE_PASSWORD"`
	RemoteKeyFile               *string `env:"REMOTE_KEY_FILE"`
	RemotePassphrase            *string `env:"REMOTE_PASSPHRASE"`
	RemoteUseAgent              *string `env:"REMOTE_USE_AGENT"`
	RemoteKnownHosts            *string `env:"REMOTE_KNOWN_HOSTS"`
	RemoteInsecureIgnoreHostKey *string `env:"REMOTE_INSECURE_IGNORE_HOST_KEY"`
	RemoteStatPath              *string `env:"REMOTE_STAT_PATH"`
	RemoteCommandTimeout        *string `env:"REMOTE_COMMAND_TIMEOUT"`
}

func (o *envOverrides) values() map[string]*string {
	return map[string]*string{
		"update_interval":                 o.UpdateInterval,
		"source":                          o.Source,
		"per_core":                        o.PerCore,
		"top_processes":                   o.TopProcesses,
		"process_refresh_interval":        o.ProcessRefreshInterval,
		"process_lister":                  o.ProcessLister,
		"log_level":                       o.LogLevel,
		"log_format":                      o.LogFormat,
		"metrics_addr":                    o.MetricsAddr,
		"watch_config":                    o.WatchConfig,
		"remote_host":                     o.RemoteHost,
		"remote_port":                     o.RemotePort,
		"remote_user":                     o.RemoteUser,
		"remote_password":                 o.RemotePassword,
		"remote_key_file":                 o.RemoteKeyFile,
		"remote_passphrase":               o.RemotePassphrase,
		"remote_use_agent":                o.RemoteUseAgent,
		"remote_known_hosts":              o.RemoteKnownHosts,
		"remote_insecure_ignore_host_key": o.RemoteInsecureIgnoreHostKey,
		"remote_stat_path":                o.RemoteStatPath,
		"remote_command_timeout":          o.RemoteCommandTimeout,
	}
}

// ApplyEnvOverrides replaces settings in cfg with CPUMON_* variables from
// environ. A nil environ reads the process environment. References inside
// the values are expanded from the same environment.
func ApplyEnvOverrides(cfg *Config, environ map[string]string) error {
	if cfg == nil {
		return nil
	}

	overrides, err := env.ParseAsWithOptions[envOverrides](env.Options{
		Prefix:      EnvPrefix,
		Environment: environ,
	})
	if err != nil {
		return fmt.Errorf("parsing environment overrides: %w", err)
	}

	getenv := EnvLookup(environ)
	for key, value := range overrides.values() {
		if value == nil {
			continue
		}
		if err := applyDirective(cfg, key, *value, getenv); err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, strings.ToUpper(key), err)
		}
	}
	return nil
}
