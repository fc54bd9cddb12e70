// Package config provides configuration parsing for cpumon.
// This file implements the Lua configuration parser (cpumon.config = { ... }).

package config

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/arnodel/golua/lib"
	rt "github.com/arnodel/golua/runtime"
)

// luaGlobal is the global table a Lua configuration assigns its settings to.
const luaGlobal = "cpumon"

// LuaConfigParser parses Lua configuration files.
// It uses the Golua runtime to execute Lua code and extract configuration values
// from the cpumon.config table. Connection settings may be written either as
// flat remote_* keys or as a nested remote table.
type LuaConfigParser struct {
	runtime *rt.Runtime
	cleanup func()
	getenv  func(string) string
	mu      sync.Mutex
}

// NewLuaConfigParser creates a new LuaConfigParser with a fresh Lua runtime.
func NewLuaConfigParser() (*LuaConfigParser, error) {
	return NewLuaConfigParserWithOutput(io.Discard)
}

// NewLuaConfigParserWithOutput creates a LuaConfigParser with custom output
// for Lua print calls.
func NewLuaConfigParserWithOutput(stdout io.Writer) (*LuaConfigParser, error) {
	if stdout == nil {
		stdout = os.Stdout
	}

	runtime := rt.New(stdout)
	cleanup := lib.LoadAll(runtime)

	return &LuaConfigParser{
		runtime: runtime,
		cleanup: cleanup,
	}, nil
}

// Parse parses a Lua configuration from content bytes. Scripts that exceed
// the CPU or memory limit fail with an error.
func (p *LuaConfigParser) Parse(content []byte) (cfg *Config, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cleanup == nil {
		return nil, fmt.Errorf("lua parser is closed")
	}

	p.initGlobal()

	closure, err := p.runtime.CompileAndLoadLuaChunk(
		"config",
		content,
		rt.TableValue(p.runtime.GlobalEnv()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to compile Lua configuration: %w", err)
	}

	// Execute with resource limits
	ctx := rt.RuntimeContextDef{
		HardLimits: rt.RuntimeResources{
			Cpu:    10_000_000,
			Memory: 50 * 1024 * 1024, // 50 MB
		},
	}
	p.runtime.PushContext(ctx)
	defer p.runtime.PopContext()

	// golua panics when a hard limit is exceeded.
	defer func() {
		if r := recover(); r != nil {
			cfg, err = nil, fmt.Errorf("lua configuration exceeded resource limits: %v", r)
		}
	}()

	thread := p.runtime.MainThread()
	if _, err := rt.Call1(thread, rt.FunctionValue(closure)); err != nil {
		return nil, fmt.Errorf("failed to execute Lua configuration: %w", err)
	}

	return p.extractConfig()
}

// initGlobal resets the cpumon global table so settings from a previous
// parse never leak into the next one.
func (p *LuaConfigParser) initGlobal() {
	global := rt.NewTable()
	global.Set(rt.StringValue("config"), rt.TableValue(rt.NewTable()))
	p.runtime.GlobalEnv().Set(rt.StringValue(luaGlobal), rt.TableValue(global))
}

// extractConfig extracts configuration values from the cpumon global table.
func (p *LuaConfigParser) extractConfig() (*Config, error) {
	cfg := DefaultConfig()

	globalVal := p.runtime.GlobalEnv().Get(rt.StringValue(luaGlobal))
	if globalVal == rt.NilValue {
		return &cfg, nil
	}

	global, ok := globalVal.TryTable()
	if !ok {
		return nil, fmt.Errorf("%s is not a table", luaGlobal)
	}

	configVal := global.Get(rt.StringValue("config"))
	if configVal == rt.NilValue {
		return &cfg, nil
	}
	configTable, ok := configVal.TryTable()
	if !ok {
		return nil, fmt.Errorf("%s.config is not a table", luaGlobal)
	}

	if err := extractConfigTable(&cfg, configTable, p.getenv); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// extractConfigTable applies every known key present in table. A nested
// remote table is applied after the flat keys, so it wins on conflict.
func extractConfigTable(cfg *Config, table *rt.Table, getenv func(string) string) error {
	for key := range directives {
		value, ok := getTableValue(table, key)
		if !ok {
			continue
		}
		if err := applyDirective(cfg, key, value, getenv); err != nil {
			return err
		}
	}

	remoteVal := table.Get(rt.StringValue("remote"))
	if remoteVal == rt.NilValue {
		return nil
	}
	remote, ok := remoteVal.TryTable()
	if !ok {
		return fmt.Errorf("remote must be a table")
	}
	for key := range directives {
		short, found := strings.CutPrefix(key, remotePrefix)
		if !found {
			continue
		}
		value, ok := getTableValue(remote, short)
		if !ok {
			continue
		}
		if err := applyDirective(cfg, key, value, getenv); err != nil {
			return err
		}
	}
	return nil
}

// Close releases resources associated with the parser's Lua runtime.
func (p *LuaConfigParser) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cleanup != nil {
		p.cleanup()
		p.cleanup = nil
	}
	return nil
}

// getTableValue retrieves a scalar value from a Lua table as text.
// Returns false if the key doesn't exist or holds a non-scalar value.
func getTableValue(table *rt.Table, key string) (string, bool) {
	val := table.Get(rt.StringValue(key))
	if val == rt.NilValue {
		return "", false
	}

	if b, ok := val.TryBool(); ok {
		return strconv.FormatBool(b), true
	}
	if n, ok := val.TryInt(); ok {
		return strconv.FormatInt(n, 10), true
	}
	if f, ok := val.TryFloat(); ok {
		return strconv.FormatFloat(f, 'g', -1, 64), true
	}
	if s, ok := val.TryString(); ok {
		return s, true
	}
	return "", false
}
