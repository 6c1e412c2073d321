// Copyright 2026 The Flux-IMP Authors
// SPDX-License-Identifier: Apache-2.0

// flux-imp is the independent minister of privilege: a setuid helper
// that lets an unprivileged scheduling daemon launch job shells as
// other unprivileged users, given a cryptographically attested
// authorization token.
//
// Usage:
//
//	flux-imp exec <shell_path> <arg>...
//	flux-imp kill <signal> <pid>
//	flux-imp version
//
// When installed setuid root, each subcommand splits into an
// unprivileged half (runs first, under the caller's identity) and a
// privileged half, connected by a narrow pipe channel. Without setuid
// installation the unprivileged half runs alone, subject to
// allow-unprivileged-exec.
package main

import (
	"fmt"
	"os"

	"github.com/flux-framework/flux-imp/lib/security"
)

const impVersion = "0.1.0"

// impCommand pairs the two halves of a privilege-separated
// subcommand. The unprivileged half validates input and, in setuid
// mode, forwards a request bundle to the privileged half.
type impCommand struct {
	name         string
	unprivileged func(imp *impState)
	privileged   func(imp *impState, request requestBundle)
}

var impCommands = []impCommand{
	{name: "exec", unprivileged: execUnprivileged, privileged: execPrivileged},
	{name: "kill", unprivileged: killUnprivileged, privileged: killPrivileged},
}

// impState is the per-invocation state shared by both halves.
type impState struct {
	// args is os.Args[1:]: the subcommand name and its arguments.
	args []string

	// conf is the merged IMP configuration.
	conf *security.Config

	// ps is the privilege-separation channel, nil when the IMP is not
	// installed setuid.
	ps *privsep
}

func main() {
	if len(os.Args) < 2 {
		die(1, "usage: flux-imp exec|kill|version ...")
	}

	switch os.Args[1] {
	case "version", "--version":
		fmt.Printf("flux-imp %s\n", impVersion)
		return
	case "help", "--help", "-h":
		fmt.Println("usage: flux-imp exec|kill|version ...")
		return
	}

	for _, command := range impCommands {
		if command.name == os.Args[1] {
			runCommand(command)
			return
		}
	}
	die(1, "unknown subcommand %q", os.Args[1])
}

// runCommand loads configuration and routes to the right half of the
// subcommand based on process role: re-executed privsep child,
// privileged setuid parent, or plain unprivileged invocation.
func runCommand(command impCommand) {
	imp := &impState{args: os.Args[1:]}

	pattern := os.Getenv(security.ConfigPatternEnv)
	conf, err := security.LoadConfigGlob(firstNonEmpty(pattern, defaultConfigPattern))
	if err != nil {
		die(1, "loading config: %v", err)
	}
	imp.conf = conf

	if os.Getenv(privsepChildEnv) != "" {
		// Re-executed unprivileged child: privileges are dropped
		// before the subcommand runs. Configuration has already been
		// loaded above.
		ps, err := privsepChildInit()
		if err != nil {
			die(1, "privsep child: %v", err)
		}
		imp.ps = ps
		command.unprivileged(imp)
		os.Exit(0)
	}

	if privsepRequired() {
		ps, err := privsepInit()
		if err != nil {
			die(1, "privsep: %v", err)
		}
		imp.ps = ps
		request, err := ps.readRequest()
		if err != nil {
			die(1, "%s: reading request from unprivileged child: %v", command.name, err)
		}
		command.privileged(imp, request)
		return
	}

	command.unprivileged(imp)
}

// defaultConfigPattern mirrors the packaged install location; tests
// and non-root runs override it via FLUX_IMP_CONFIG_PATTERN.
const defaultConfigPattern = "/etc/flux/imp/conf.d/*.toml"

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
