// Copyright 2026 The Flux-IMP Authors
// SPDX-License-Identifier: Apache-2.0

package security

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func isTestMechanism(name string) bool {
	switch name {
	case "none", "munge", "curve":
		return true
	}
	return false
}

func TestLoadConfigGlob(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "imp.toml", `
[sign]
max-ttl = 30
default-type = "none"
allowed-types = [ "none", "curve" ]

[exec]
allowed-users = [ "flux" ]
allowed-shells = [ "/bin/true" ]
allow-unprivileged-exec = true
`)

	config, err := LoadConfigGlob(filepath.Join(dir, "*.toml"))
	if err != nil {
		t.Fatalf("LoadConfigGlob: %v", err)
	}

	if config.Sign.MaxTTL != 30 {
		t.Errorf("max-ttl = %d, want 30", config.Sign.MaxTTL)
	}
	if config.Sign.DefaultType != "none" {
		t.Errorf("default-type = %q, want none", config.Sign.DefaultType)
	}
	if len(config.Sign.AllowedTypes) != 2 {
		t.Errorf("allowed-types = %v, want two entries", config.Sign.AllowedTypes)
	}
	if !config.Exec.UserAllowed("flux") {
		t.Error("UserAllowed(flux) = false")
	}
	if config.Exec.UserAllowed("mallory") {
		t.Error("UserAllowed(mallory) = true")
	}
	if !config.Exec.ShellAllowed("/bin/true") {
		t.Error("ShellAllowed(/bin/true) = false")
	}
	if !config.Exec.AllowUnprivilegedExec {
		t.Error("allow-unprivileged-exec not loaded")
	}
	if config.Exec.PAMSupport {
		t.Error("pam-support defaulted true")
	}
}

func TestLoadConfigGlobMerge(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "01-sign.toml", `
[sign]
max-ttl = 30
default-type = "none"
allowed-types = [ "none" ]
`)
	writeConfig(t, dir, "02-exec.toml", `
[exec]
allowed-users = [ "flux" ]

[sign]
max-ttl = 60
`)

	config, err := LoadConfigGlob(filepath.Join(dir, "*.toml"))
	if err != nil {
		t.Fatalf("LoadConfigGlob: %v", err)
	}

	// Later file overrides the scalar, earlier sections survive.
	if config.Sign.MaxTTL != 60 {
		t.Errorf("max-ttl = %d, want 60 (later file wins)", config.Sign.MaxTTL)
	}
	if config.Sign.DefaultType != "none" {
		t.Errorf("default-type = %q, want none", config.Sign.DefaultType)
	}
	if !config.Exec.UserAllowed("flux") {
		t.Error("exec section from second file missing")
	}
}

func TestLoadConfigGlobNoMatch(t *testing.T) {
	if _, err := LoadConfigGlob(filepath.Join(t.TempDir(), "*.toml")); err == nil {
		t.Error("LoadConfigGlob accepted a pattern matching no files")
	}
}

func TestLoadConfigGlobUnknownKey(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "imp.toml", `
[sign]
max-ttl = 30
default-type = "none"
allowed-types = [ "none" ]
surprise = true
`)

	if _, err := LoadConfigGlob(filepath.Join(dir, "*.toml")); err == nil {
		t.Error("LoadConfigGlob accepted an unknown key")
	}
}

func TestLoadConfigGlobNonStringAllowedType(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "imp.toml", `
[sign]
max-ttl = 30
default-type = "none"
allowed-types = [ "none", 42 ]
`)

	if _, err := LoadConfigGlob(filepath.Join(dir, "*.toml")); err == nil {
		t.Error("LoadConfigGlob accepted a non-string allowed-types element")
	}
}

func TestSignConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		config SignConfig
		ok     bool
	}{
		{
			name:   "valid",
			config: SignConfig{MaxTTL: 30, DefaultType: "none", AllowedTypes: []string{"none"}},
			ok:     true,
		},
		{
			name:   "test sentinel ttl",
			config: SignConfig{MaxTTL: TestDisableTTL, DefaultType: "none", AllowedTypes: []string{"none"}},
			ok:     true,
		},
		{
			name:   "zero ttl",
			config: SignConfig{MaxTTL: 0, DefaultType: "none", AllowedTypes: []string{"none"}},
			ok:     false,
		},
		{
			name:   "negative ttl",
			config: SignConfig{MaxTTL: -5, DefaultType: "none", AllowedTypes: []string{"none"}},
			ok:     false,
		},
		{
			name:   "empty allowed-types",
			config: SignConfig{MaxTTL: 30, DefaultType: "none"},
			ok:     false,
		},
		{
			name:   "unknown allowed type",
			config: SignConfig{MaxTTL: 30, DefaultType: "none", AllowedTypes: []string{"rot13"}},
			ok:     false,
		},
		{
			name:   "unknown default type",
			config: SignConfig{MaxTTL: 30, DefaultType: "rot13", AllowedTypes: []string{"none"}},
			ok:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate(isTestMechanism)
			if tt.ok && err != nil {
				t.Errorf("Validate: %v", err)
			}
			if !tt.ok && err == nil {
				t.Error("Validate accepted an invalid config")
			}
		})
	}
}

func TestContextFail(t *testing.T) {
	ctx := New()

	if ctx.LastError() != "" {
		t.Errorf("fresh context LastError = %q", ctx.LastError())
	}

	err := ctx.Failf("sign-wrap: unknown mechanism: %s", "bogus")
	if err == nil {
		t.Fatal("Failf returned nil")
	}
	if !strings.Contains(ctx.LastError(), "bogus") {
		t.Errorf("LastError = %q, want mention of bogus", ctx.LastError())
	}

	// Replaced on next failure.
	ctx.Failf("second failure")
	if ctx.LastError() != "second failure" {
		t.Errorf("LastError = %q, want second failure", ctx.LastError())
	}
}

func TestContextConfigure(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "imp.toml", `
[sign]
max-ttl = 30
default-type = "none"
allowed-types = [ "none" ]
`)

	ctx := New()
	if err := ctx.Configure(filepath.Join(dir, "*.toml")); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if ctx.Config() == nil || ctx.Config().Sign.MaxTTL != 30 {
		t.Error("Configure did not load config")
	}

	bad := New()
	if err := bad.Configure(filepath.Join(dir, "nothing-*.toml")); err == nil {
		t.Fatal("Configure accepted an empty glob")
	}
	if bad.LastError() == "" {
		t.Error("Configure failure did not record LastError")
	}
}
