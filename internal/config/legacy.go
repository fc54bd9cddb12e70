// Package config provides configuration parsing for cpumon.
// This file implements the legacy "key value" parser.

package config

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"
)

// LegacyParser parses legacy configuration files: one "key value" directive
// per line, "#" comments, and bare keys as boolean flags.
type LegacyParser struct {
	// getenv resolves ${VAR} references in values; nil reads the process
	// environment.
	getenv func(string) string
}

// NewLegacyParser creates a new LegacyParser instance.
func NewLegacyParser() *LegacyParser {
	return &LegacyParser{}
}

// Parse parses a legacy configuration from content bytes.
// It returns a Config with parsed values or an error if parsing fails.
func (p *LegacyParser) Parse(content []byte) (*Config, error) {
	cfg := DefaultConfig()
	scanner := bufio.NewScanner(bytes.NewReader(content))
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		trimmed := strings.TrimSpace(scanner.Text())

		// Skip empty and comment lines
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}

		if err := p.parseDirective(&cfg, trimmed); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading configuration: %w", err)
	}

	return &cfg, nil
}

// parseDirective parses a single configuration directive line.
// Format: "key value" or "key" (for boolean flags).
func (p *LegacyParser) parseDirective(cfg *Config, line string) error {
	key, value, found := strings.Cut(line, " ")
	key = strings.ToLower(strings.TrimSpace(key))
	value = strings.TrimSpace(value)

	// A bare key switches a flag on.
	if !found {
		value = "yes"
	}

	// Values may be quoted to keep leading or trailing spaces.
	if len(value) >= 2 && value[0] == '"' && value[len(value)-1] == '"' {
		value = value[1 : len(value)-1]
	}

	return applyDirective(cfg, key, value, p.getenv)
}
