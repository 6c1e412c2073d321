// Copyright 2026 The Flux-IMP Authors
// SPDX-License-Identifier: Apache-2.0

// sign reads a payload from stdin and writes one signed envelope line
// to stdout.
//
// Usage:
//
//	sign [--mechanism=NAME] <input >output
//
// Configuration comes from files matching FLUX_IMP_CONFIG_PATTERN
// (overridable with --config-pattern). Exits 0 on success, 1 on any
// failure with a diagnostic on stderr.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/flux-framework/flux-imp/lib/security"
	"github.com/flux-framework/flux-imp/lib/sign"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "sign: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flags := pflag.NewFlagSet("sign", pflag.ContinueOnError)
	mechanism := flags.String("mechanism", "", "signing mechanism (default: configured default-type)")
	configPattern := flags.String("config-pattern", "", "glob for configuration files (default: $FLUX_IMP_CONFIG_PATTERN)")
	if err := flags.Parse(os.Args[1:]); err != nil {
		return err
	}
	if flags.NArg() != 0 {
		return fmt.Errorf("usage: sign <input >output")
	}

	ctx := security.New()
	if err := ctx.Configure(*configPattern); err != nil {
		return fmt.Errorf("loading security configuration: %s", ctx.LastError())
	}

	if term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Fprintln(os.Stderr, "sign: reading payload from terminal, end with ^D")
	}
	payload, err := io.ReadAll(os.Stdin)
	if err != nil {
		return fmt.Errorf("reading stdin: %w", err)
	}

	envelope, err := sign.Wrap(ctx, payload, *mechanism, 0)
	if err != nil {
		return fmt.Errorf("wrap: %s", ctx.LastError())
	}

	fmt.Println(envelope)
	return nil
}
