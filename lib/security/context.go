// Copyright 2026 The Flux-IMP Authors
// SPDX-License-Identifier: Apache-2.0

package security

import (
	"fmt"
	"os"
)

// ConfigPatternEnv names the environment variable holding the glob
// pattern for IMP and sign configuration files.
const ConfigPatternEnv = "FLUX_IMP_CONFIG_PATTERN"

// defaultConfigPattern is used when no pattern is given and
// FLUX_IMP_CONFIG_PATTERN is unset.
const defaultConfigPattern = "/etc/flux/imp/conf.d/*.toml"

// Context is the process-scoped security context. Library operations
// that fail record a human-readable message here, retrievable via
// LastError; the message is replaced on each failure.
type Context struct {
	config    *Config
	lastError string
	aux       map[string]any
}

// New creates an unconfigured security context. Configure must be
// called before the context is usable.
func New() *Context {
	return &Context{aux: make(map[string]any)}
}

// NewFromConfig creates a context around an already-loaded
// configuration. Used by tests and embedders that manage config
// loading themselves.
func NewFromConfig(config *Config) *Context {
	return &Context{config: config, aux: make(map[string]any)}
}

// Configure loads configuration files matching pattern. An empty
// pattern falls back to FLUX_IMP_CONFIG_PATTERN, then to the packaged
// default. The failure message is recorded on the context.
func (c *Context) Configure(pattern string) error {
	if pattern == "" {
		pattern = os.Getenv(ConfigPatternEnv)
	}
	if pattern == "" {
		pattern = defaultConfigPattern
	}
	config, err := LoadConfigGlob(pattern)
	if err != nil {
		return c.Fail(err)
	}
	c.config = config
	return nil
}

// Config returns the loaded configuration, or nil before Configure.
func (c *Context) Config() *Config {
	return c.config
}

// LastError returns the message recorded by the most recent failure,
// or the empty string if no operation has failed.
func (c *Context) LastError() string {
	return c.lastError
}

// Fail records err as the context's last error and returns it
// unchanged. Every error that escapes a library operation on this
// context passes through here.
func (c *Context) Fail(err error) error {
	c.lastError = err.Error()
	return err
}

// Failf formats a message, records it, and returns it as an error.
func (c *Context) Failf(format string, args ...any) error {
	return c.Fail(fmt.Errorf(format, args...))
}

// Aux returns the value stored under key, or nil. Aux storage ties
// lazily-created engine state (the sign engine, mechanism state) to
// the context lifetime.
func (c *Context) Aux(key string) any {
	return c.aux[key]
}

// SetAux stores value under key, replacing any previous value.
func (c *Context) SetAux(key string, value any) {
	c.aux[key] = value
}
