// Copyright 2026 The Flux-IMP Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"log/slog"
	"os"
)

// logger is the IMP's structured logger. Everything goes to stderr:
// stdout belongs to the job shell.
var logger = slog.New(slog.NewTextHandler(os.Stderr, nil))

// warn logs a non-fatal condition.
func warn(format string, args ...any) {
	logger.Warn(fmt.Sprintf(format, args...))
}

// die writes one diagnostic line to stderr and exits with code. The
// IMP never attempts to continue after a security-relevant failure.
func die(code int, format string, args ...any) {
	fmt.Fprintf(os.Stderr, "flux-imp: "+format+"\n", args...)
	os.Exit(code)
}
