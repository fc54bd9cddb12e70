// Package config provides configuration parsing for cpumon.
// This file implements environment variable expansion support for configuration values.
package config

import (
	"os"
	"regexp"
	"strings"
)

// envVarPattern matches environment variable references in configuration values.
// Supports formats:
//   - ${VAR_NAME} - standard shell-like format
//   - ${VAR_NAME:-default} - with default value if unset or empty
//   - $VAR_NAME - simple format (word characters only)
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}|\$([a-zA-Z_][a-zA-Z0-9_]*)`)

// ExpandEnv expands environment variable references in a string using the
// process environment. Every configuration value passes through it before it
// is interpreted, so numeric settings may be given as "${INTERVAL:-1}".
//
// Unknown or unset variables without defaults are replaced with empty string.
func ExpandEnv(s string) string {
	return ExpandEnvWith(s, os.Getenv)
}

// EnvLookup returns a variable lookup over environ. A nil environ reads the
// process environment.
func EnvLookup(environ map[string]string) func(string) string {
	if environ == nil {
		return os.Getenv
	}
	return func(name string) string {
		return environ[name]
	}
}

// ExpandEnvWith is ExpandEnv with a custom variable lookup.
func ExpandEnvWith(s string, getenv func(string) string) string {
	if !strings.Contains(s, "$") {
		return s
	}
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		// Check for ${VAR} or ${VAR:-default} format
		if strings.HasPrefix(match, "${") && strings.HasSuffix(match, "}") {
			inner := match[2 : len(match)-1]

			if varName, defaultVal, ok := strings.Cut(inner, ":-"); ok {
				if val := getenv(varName); val != "" {
					return val
				}
				return defaultVal
			}

			return getenv(inner)
		}

		return getenv(match[1:])
	})
}
