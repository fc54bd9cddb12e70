// Package config provides configuration parsing and validation for cpumon.
// This file implements validation for configuration values.
package config

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"
)

// ValidationError represents a configuration validation error.
// It contains the field name and a description of the issue.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (ve ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", ve.Field, ve.Message)
}

// ValidationResult holds the results of a configuration validation.
type ValidationResult struct {
	// Errors contains all validation errors found.
	Errors []ValidationError
	// Warnings contains non-fatal issues.
	Warnings []ValidationError
}

// IsValid returns true if there are no validation errors.
func (vr *ValidationResult) IsValid() bool {
	return len(vr.Errors) == 0
}

// Error returns a combined error message if there are errors, nil otherwise.
func (vr *ValidationResult) Error() error {
	if len(vr.Errors) == 0 {
		return nil
	}

	messages := make([]string, 0, len(vr.Errors))
	for _, e := range vr.Errors {
		messages = append(messages, e.Error())
	}
	return fmt.Errorf("validation failed: %s", strings.Join(messages, "; "))
}

// AddError adds a validation error.
func (vr *ValidationResult) AddError(field, message string) {
	vr.Errors = append(vr.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning adds a validation warning.
func (vr *ValidationResult) AddWarning(field, message string) {
	vr.Warnings = append(vr.Warnings, ValidationError{Field: field, Message: message})
}

// Merge combines another ValidationResult into this one.
func (vr *ValidationResult) Merge(other *ValidationResult) {
	if other == nil {
		return
	}
	vr.Errors = append(vr.Errors, other.Errors...)
	vr.Warnings = append(vr.Warnings, other.Warnings...)
}

// Source and lister names accepted in configuration.
var (
	knownSources = []string{"auto", "procfs", "native", "gopsutil", "ssh"}
	knownListers = []string{"auto", "procfs", "gopsutil"}
)

// Validator checks a Config for values the monitor cannot run with.
type Validator struct {
	// strictMode promotes warnings to errors.
	strictMode bool
	// statFile checks that referenced files exist.
	statFile func(string) (os.FileInfo, error)
}

// NewValidator creates a new Validator with default settings.
func NewValidator() *Validator {
	return &Validator{
		statFile: os.Stat,
	}
}

// WithStrictMode enables strict validation where warnings are errors.
func (v *Validator) WithStrictMode(strict bool) *Validator {
	v.strictMode = strict
	return v
}

// Validate performs validation of a Config.
func (v *Validator) Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	v.validateMonitor(&cfg.Monitor, result)
	v.validateProcesses(&cfg.Processes, result)
	v.validateLogging(&cfg.Logging, result)
	v.validateMetricsAddr(cfg.MetricsAddr, result)
	v.validateRemote(cfg, result)

	if v.strictMode {
		result.Errors = append(result.Errors, result.Warnings...)
		result.Warnings = nil
	}
	return result
}

// validateMonitor validates MonitorConfig settings.
func (v *Validator) validateMonitor(mc *MonitorConfig, result *ValidationResult) {
	if mc.UpdateInterval <= 0 {
		result.AddError("monitor.update_interval",
			fmt.Sprintf("must be positive, got %v", mc.UpdateInterval))
	}
	validateInterval("monitor.update_interval", mc.UpdateInterval, result)

	if !oneOf(mc.Source, knownSources) {
		result.AddError("monitor.source",
			fmt.Sprintf("unknown source %q (expected one of %s)", mc.Source, strings.Join(knownSources, ", ")))
	}
}

// validateProcesses validates ProcessConfig settings.
func (v *Validator) validateProcesses(pc *ProcessConfig, result *ValidationResult) {
	if pc.TopCount < 0 {
		result.AddError("processes.top_count",
			fmt.Sprintf("must be non-negative, got %d", pc.TopCount))
	}
	if pc.TopCount > 1000 {
		result.AddWarning("processes.top_count",
			fmt.Sprintf("unusually large value %d", pc.TopCount))
	}

	if pc.RefreshInterval < 0 {
		result.AddError("processes.refresh_interval",
			fmt.Sprintf("must be non-negative, got %v", pc.RefreshInterval))
	}
	validateInterval("processes.refresh_interval", pc.RefreshInterval, result)

	if !oneOf(pc.Lister, knownListers) {
		result.AddError("processes.lister",
			fmt.Sprintf("unknown lister %q (expected one of %s)", pc.Lister, strings.Join(knownListers, ", ")))
	}
}

// validateInterval warns about intervals that are valid but unlikely to be
// intended.
func validateInterval(field string, d time.Duration, result *ValidationResult) {
	// Warn on very fast update intervals (< 100ms)
	if d > 0 && d < 100*time.Millisecond {
		result.AddWarning(field,
			fmt.Sprintf("very fast interval %v may cause high CPU usage", d))
	}

	// Warn on very slow update intervals (> 1 hour)
	if d > time.Hour {
		result.AddWarning(field, fmt.Sprintf("very slow interval %v", d))
	}
}

// validateLogging validates LoggingConfig settings.
func (v *Validator) validateLogging(lc *LoggingConfig, result *ValidationResult) {
	if _, err := ParseLogLevel(lc.Level); err != nil {
		result.AddError("logging.level", err.Error())
	}
	if lc.Format > LogFormatJSON {
		result.AddError("logging.format", fmt.Sprintf("unknown format: %d", lc.Format))
	}
}

// validateMetricsAddr validates the metrics listen address.
func (v *Validator) validateMetricsAddr(addr string, result *ValidationResult) {
	if addr == "" {
		return
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		result.AddError("metrics_addr", fmt.Sprintf("invalid listen address %q: %v", addr, err))
	}
}

// validateRemote validates RemoteConfig settings. They are only required
// when the ssh source is selected.
func (v *Validator) validateRemote(cfg *Config, result *ValidationResult) {
	rc := &cfg.Remote
	if !strings.EqualFold(cfg.Monitor.Source, "ssh") {
		if rc.Host != "" {
			result.AddWarning("remote.host", "ignored unless monitor.source is ssh")
		}
		return
	}

	if rc.Host == "" {
		result.AddError("remote.host", "required for the ssh source")
	}
	if rc.User == "" {
		result.AddError("remote.user", "required for the ssh source")
	}
	if rc.Port <= 0 || rc.Port > 65535 {
		result.AddError("remote.port", fmt.Sprintf("must be between 1 and 65535, got %d", rc.Port))
	}
	if rc.Password == "" && rc.KeyFile == "" && !rc.UseAgent {
		result.AddError("remote", "no authentication method: set password, key_file or use_agent")
	}
	if rc.KeyFile != "" && !strings.HasPrefix(rc.KeyFile, "~") {
		if _, err := v.statFile(rc.KeyFile); err != nil {
			result.AddWarning("remote.key_file", fmt.Sprintf("cannot access %s: %v", rc.KeyFile, err))
		}
	}
	if rc.CommandTimeout < 0 {
		result.AddError("remote.command_timeout",
			fmt.Sprintf("must be non-negative, got %v", rc.CommandTimeout))
	}
	if rc.StatPath == "" {
		result.AddError("remote.stat_path", "must not be empty")
	}
	if rc.InsecureIgnoreHostKey {
		result.AddWarning("remote.insecure_ignore_host_key", "host key verification is disabled")
	}
}

// oneOf reports whether s names one of options. Empty selects the default.
func oneOf(s string, options []string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return true
	}
	for _, o := range options {
		if s == o {
			return true
		}
	}
	return false
}

// ValidateConfig is a convenience function to validate a Config with default settings.
// Returns nil if the config is valid, or an error describing validation failures.
func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	validator := NewValidator()
	result := validator.Validate(cfg)
	return result.Error()
}

// ValidateConfigStrict validates a Config with strict mode enabled.
// Warnings are treated as errors.
func ValidateConfigStrict(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	validator := NewValidator().WithStrictMode(true)
	result := validator.Validate(cfg)
	return result.Error()
}
