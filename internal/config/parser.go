// Package config provides configuration parsing for cpumon.
// This file implements the unified parser that auto-detects the configuration format.

package config

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"regexp"
)

// Parser provides a unified interface for parsing cpumon configuration files.
// It automatically detects whether a file uses the legacy or the Lua format.
type Parser struct {
	legacyParser *LegacyParser
	luaParser    *LuaConfigParser
}

// NewParser creates a new Parser that can handle both legacy and Lua configurations.
func NewParser() (*Parser, error) {
	luaParser, err := NewLuaConfigParser()
	if err != nil {
		return nil, fmt.Errorf("failed to create Lua parser: %w", err)
	}

	return &Parser{
		legacyParser: NewLegacyParser(),
		luaParser:    luaParser,
	}, nil
}

// SetEnviron makes later parses expand ${VAR} references from environ instead
// of the process environment. A nil environ restores the process environment.
func (p *Parser) SetEnviron(environ map[string]string) {
	var getenv func(string) string
	if environ != nil {
		getenv = EnvLookup(environ)
	}
	p.legacyParser.getenv = getenv
	p.luaParser.mu.Lock()
	p.luaParser.getenv = getenv
	p.luaParser.mu.Unlock()
}

// ParseFile reads and parses a configuration file, auto-detecting the format.
// Returns a Config on success or an error if parsing fails.
func (p *Parser) ParseFile(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return p.Parse(content)
}

// Parse parses configuration content, auto-detecting the format.
func (p *Parser) Parse(content []byte) (*Config, error) {
	if isLuaConfig(content) {
		return p.luaParser.Parse(content)
	}
	return p.legacyParser.Parse(content)
}

// luaConfigPattern matches "cpumon.config" followed by optional whitespace
// and "=" at the start of a line, so a legacy comment mentioning it does
// not switch formats.
var luaConfigPattern = regexp.MustCompile(`(?m)^\s*cpumon\.config\s*=`)

// isLuaConfig determines if the content is a Lua configuration.
func isLuaConfig(content []byte) bool {
	return luaConfigPattern.Match(content)
}

// ParseFromFS reads and parses a configuration file from a filesystem.
// It auto-detects the format (legacy or Lua) based on content.
func (p *Parser) ParseFromFS(fsys fs.FS, path string) (*Config, error) {
	content, err := fs.ReadFile(fsys, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config from FS %s: %w", path, err)
	}

	return p.Parse(content)
}

// ParseReader parses configuration from an io.Reader.
// The format parameter must be "legacy", "lua" or "" to auto-detect.
func (p *Parser) ParseReader(r io.Reader, format string) (*Config, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	switch format {
	case "":
		return p.Parse(content)
	case "lua":
		return p.luaParser.Parse(content)
	case "legacy":
		return p.legacyParser.Parse(content)
	default:
		return nil, fmt.Errorf("unknown format: %s (expected 'lua' or 'legacy')", format)
	}
}

// Close releases resources associated with the parser.
func (p *Parser) Close() error {
	if p.luaParser != nil {
		return p.luaParser.Close()
	}
	return nil
}

// Load reads the configuration at path, applies CPUMON_* overrides from the
// process environment and validates the result. An empty path starts from
// DefaultConfig. Validation warnings are returned alongside a usable Config.
func Load(path string) (*Config, []ValidationError, error) {
	cfg := DefaultConfig()
	result := &cfg

	if path != "" {
		p, err := NewParser()
		if err != nil {
			return nil, nil, err
		}
		defer p.Close()

		result, err = p.ParseFile(path)
		if err != nil {
			return nil, nil, err
		}
	}

	return Finalize(result, nil)
}

// Finalize applies environment overrides from environ (nil reads the process
// environment) to cfg and validates it. A cfg parsed from a file should come
// from a Parser given the same environ with SetEnviron.
func Finalize(cfg *Config, environ map[string]string) (*Config, []ValidationError, error) {
	if err := ApplyEnvOverrides(cfg, environ); err != nil {
		return nil, nil, err
	}

	validation := NewValidator().Validate(cfg)
	if err := validation.Error(); err != nil {
		return nil, validation.Warnings, err
	}
	return cfg, validation.Warnings, nil
}
