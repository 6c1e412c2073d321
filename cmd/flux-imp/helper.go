// Copyright 2026 The Flux-IMP Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// execHelperEnv optionally names a command whose stdout supplies the
// JSON exec request instead of stdin.
const execHelperEnv = "FLUX_IMP_EXEC_HELPER"

// argSplit splits a helper command line on whitespace. Helper commands
// are operator-configured, not shell-interpreted: no quoting, no
// expansion.
func argSplit(command string) []string {
	return strings.Fields(command)
}

// runHelper executes the helper command and returns its stdout. A
// helper that exits nonzero aborts the invocation.
func runHelper(command string) ([]byte, error) {
	argv := argSplit(command)
	if len(argv) == 0 {
		return nil, errors.New("helper command is empty")
	}

	helper := exec.Command(argv[0], argv[1:]...)
	helper.Stderr = os.Stderr
	output, err := helper.Output()
	if err != nil {
		var exit *exec.ExitError
		if errors.As(err, &exit) {
			return nil, fmt.Errorf("helper %s failed with status %d", argv[0], exit.ExitCode())
		}
		return nil, fmt.Errorf("invoking helper %s: %w", argv[0], err)
	}
	return output, nil
}
