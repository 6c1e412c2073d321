// Copyright 2026 The Flux-IMP Authors
// SPDX-License-Identifier: Apache-2.0

package security

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/pelletier/go-toml/v2"
)

// TestDisableTTL is the sentinel max-ttl value that disables signature
// expiry. Accepted only so tests can exercise long-lived envelopes;
// any other non-positive max-ttl is rejected.
const TestDisableTTL = -100

// Config is the merged content of all configuration files matching the
// IMP config pattern.
type Config struct {
	Sign SignConfig `toml:"sign"`
	Exec ExecConfig `toml:"exec"`
}

// SignConfig is the [sign] subtree consumed by the sign engine.
type SignConfig struct {
	// MaxTTL is the maximum signature lifetime in seconds. Must be
	// positive, or exactly TestDisableTTL.
	MaxTTL int64 `toml:"max-ttl"`

	// DefaultType is the mechanism used when a wrap call does not
	// name one.
	DefaultType string `toml:"default-type"`

	// AllowedTypes is the ordered list of mechanisms unwrap accepts.
	AllowedTypes []string `toml:"allowed-types"`

	// Curve configures the public-key mechanism.
	Curve CurveConfig `toml:"curve"`

	// Munge configures the shared-secret mechanism.
	Munge MungeConfig `toml:"munge"`
}

// CurveConfig is the [sign.curve] subtree.
type CurveConfig struct {
	// CertPath overrides the signing certificate location. Intended
	// for tests; production signers load from the caller's home
	// directory.
	CertPath string `toml:"cert-path"`

	// KeystorePath is a directory of per-uid public certificates used
	// to authenticate the key in an envelope header. When empty, the
	// principal's home directory is consulted instead.
	KeystorePath string `toml:"keystore-path"`
}

// MungeConfig is the [sign.munge] subtree.
type MungeConfig struct {
	// SocketPath is the authentication daemon socket. Passed through
	// to whatever Authenticator the embedding program installs.
	SocketPath string `toml:"socket-path"`
}

// ExecConfig is the [exec] subtree consumed by the IMP exec pipeline.
type ExecConfig struct {
	// AllowedUsers lists the usernames permitted to invoke the IMP.
	AllowedUsers []string `toml:"allowed-users"`

	// AllowedShells lists the job shell paths the IMP will exec.
	AllowedShells []string `toml:"allowed-shells"`

	// AllowUnprivilegedExec permits direct exec in the caller's
	// identity when the IMP is not installed setuid. Test
	// installations only.
	AllowUnprivilegedExec bool `toml:"allow-unprivileged-exec"`

	// PAMSupport opens a PAM session for the target user around the
	// job shell.
	PAMSupport bool `toml:"pam-support"`
}

// LoadConfigGlob loads every file matching pattern, in lexical order,
// each strictly decoded (unknown keys rejected) with later files
// overriding earlier ones. At least one file must match.
func LoadConfigGlob(pattern string) (*Config, error) {
	paths, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("config pattern %q: %w", pattern, err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("config pattern %q matched no files", pattern)
	}
	slices.Sort(paths)

	config := &Config{}
	for _, path := range paths {
		if err := loadConfigFile(path, config); err != nil {
			return nil, err
		}
	}
	return config, nil
}

func loadConfigFile(path string, config *Config) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	defer file.Close()

	decoder := toml.NewDecoder(file)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(config); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return fmt.Errorf("config %s: unknown keys:\n%s", path, strict.String())
		}
		return fmt.Errorf("config %s: %w", path, err)
	}
	return nil
}

// Validate checks the [sign] subtree against the engine's rules.
// isMechanism reports whether a name resolves to a registered
// mechanism; it is injected so the config layer stays independent of
// the mechanism registry.
func (c *SignConfig) Validate(isMechanism func(string) bool) error {
	if c.MaxTTL <= 0 && c.MaxTTL != TestDisableTTL {
		return errors.New("sign: max-ttl should be greater than zero")
	}
	if len(c.AllowedTypes) == 0 {
		return errors.New("sign: allowed-types array is empty")
	}
	for _, name := range c.AllowedTypes {
		if !isMechanism(name) {
			return fmt.Errorf("sign: unknown mechanism=%s", name)
		}
	}
	if !isMechanism(c.DefaultType) {
		return fmt.Errorf("sign: default-type %q is not a known mechanism", c.DefaultType)
	}
	return nil
}

// MechanismAllowed reports whether name appears in allowed-types.
func (c *SignConfig) MechanismAllowed(name string) bool {
	return slices.Contains(c.AllowedTypes, name)
}

// UserAllowed reports whether username appears in allowed-users.
func (c *ExecConfig) UserAllowed(username string) bool {
	return slices.Contains(c.AllowedUsers, username)
}

// ShellAllowed reports whether shell appears in allowed-shells.
func (c *ExecConfig) ShellAllowed(shell string) bool {
	return slices.Contains(c.AllowedShells, shell)
}
