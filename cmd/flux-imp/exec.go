// Copyright 2026 The Flux-IMP Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/flux-framework/flux-imp/lib/codec"
	"github.com/flux-framework/flux-imp/lib/security"
	"github.com/flux-framework/flux-imp/lib/sign"
)

// Exit codes for job shell exec failures, distinct from the generic
// policy-failure exit of 1.
const (
	exitExecPermission = 126 // shell exists but cannot be executed
	exitExecFailure    = 127 // shell missing or exec failed otherwise
)

// impExec is the per-invocation exec pipeline state.
type impExec struct {
	imp  *impState
	ctx  *security.Context
	conf *security.ExecConfig

	// J is the signed authorization envelope.
	J string

	// shell and argv are the job shell path and its full argument
	// vector (argv[0] is the shell itself).
	shell string
	argv  []string

	// target is the authenticated user from unwrapping J. Privileged
	// half only.
	target *targetUser
}

// execInput is the JSON object supplying the envelope on stdin (or on
// the helper's stdout).
type execInput struct {
	J string `json:"J"`
}

func newImpExec(imp *impState) *impExec {
	ctx := security.New()
	if err := ctx.Configure(""); err != nil {
		die(1, "exec: error loading security context: %s", ctx.LastError())
	}
	return &impExec{
		imp:  imp,
		ctx:  ctx,
		conf: &imp.conf.Exec,
	}
}

// checkCallerAllowed dies unless the calling (real) user appears in
// allowed-users.
func (e *impExec) checkCallerAllowed() {
	username, err := currentUsername()
	if err != nil {
		die(1, "exec: failed to find IMP user: %v", err)
	}
	if !e.conf.UserAllowed(username) {
		die(1, "exec: user %s not in allowed-users list", username)
	}
}

// unwrapEnvelope verifies the signed envelope and resolves the
// authenticated userid to a full identity. Every field of the request
// other than J is untrusted; this is the step that converts the
// attested claim into the target user.
func (e *impExec) unwrapEnvelope() {
	result, err := sign.Unwrap(e.ctx, e.J, 0)
	if err != nil {
		die(1, "exec: signature validation failed: %s", e.ctx.LastError())
	}
	target, err := lookupUser(result.UserID)
	if err != nil {
		hostname, _ := os.Hostname()
		die(1, "exec: userid %d is invalid on %s", result.UserID, hostname)
	}
	e.target = target
}

// readInput obtains the JSON exec request from the helper command, if
// configured, else from stdin, and records the envelope.
func (e *impExec) readInput() {
	var data []byte
	var err error

	if helper, ok := os.LookupEnv(execHelperEnv); ok {
		if helper == "" {
			die(1, "exec: %s is empty", execHelperEnv)
		}
		if data, err = runHelper(helper); err != nil {
			die(1, "exec: %v", err)
		}
	} else {
		if data, err = io.ReadAll(os.Stdin); err != nil {
			die(1, "exec: reading stdin: %v", err)
		}
	}

	var input execInput
	if err := json.Unmarshal(data, &input); err != nil {
		die(1, "exec: invalid json input: %v", err)
	}
	if input.J == "" {
		die(1, "exec: invalid json input: key J missing")
	}
	e.J = input.J
}

// request serializes the exec state into the privsep request
// bundle.
func (e *impExec) request() requestBundle {
	return requestBundle{
		"J":          e.J,
		"shell_path": e.shell,
		"args":       map[string]any(codec.EncodeArgv(e.argv)),
	}
}

// initFromRequest loads exec state from the privsep request bundle
// sent by the unprivileged child.
func (e *impExec) initFromRequest(request requestBundle) {
	var err error
	if e.J, err = request.String("J"); err != nil {
		die(1, "exec: error decoding J: %v", err)
	}
	if e.shell, err = request.String("shell_path"); err != nil {
		die(1, "exec: failed to get job shell path: %v", err)
	}
	args, err := request.Sub("args")
	if err != nil {
		die(1, "exec: failed to get job shell arguments: %v", err)
	}
	if e.argv, err = args.Argv(); err != nil {
		die(1, "exec: failed to get job shell arguments: %v", err)
	}
	if len(e.argv) == 0 {
		die(1, "exec: empty job shell argument vector")
	}
}

// execUnprivileged is the half that runs under the caller's identity.
// It validates what it can, then either forwards the request to the
// privileged parent or (test installations only) execs the shell
// directly.
func execUnprivileged(imp *impState) {
	e := newImpExec(imp)
	e.checkCallerAllowed()

	// flux-imp exec <shell_path> <arg>...
	if len(imp.args) < 3 {
		die(1, "exec: missing arguments to exec subcommand")
	}
	e.shell = imp.args[1]
	e.argv = imp.args[1:]

	e.readInput()
	e.unwrapEnvelope()

	if imp.ps != nil {
		if !e.conf.ShellAllowed(e.shell) {
			die(1, "exec: shell not in allowed-shells")
		}
		if err := imp.ps.writeRequest(e.request()); err != nil {
			die(1, "exec: failed to communicate with privsep parent: %v", err)
		}
		return
	}

	if !e.conf.AllowUnprivilegedExec {
		die(1, "exec: IMP not installed setuid, operation disabled")
	}
	warn("Running without privilege, userid switching not available")
	directExec(e.shell, e.argv)
}

// execPrivileged is the half that retains root. Nothing from the
// request is trusted except as input to signature verification; the
// target user comes from the verified envelope alone.
func execPrivileged(imp *impState, request requestBundle) {
	e := newImpExec(imp)
	e.checkCallerAllowed()
	e.initFromRequest(request)
	e.unwrapEnvelope()

	if e.target.UID == 0 {
		die(1, "exec: switching to user root not supported")
	}
	if !e.conf.ShellAllowed(e.shell) {
		die(1, "exec: shell not in allowed-shells")
	}

	// The unprivileged child must have exited cleanly before any
	// privileged work happens.
	if err := imp.ps.wait(); err != nil {
		os.Exit(1)
	}

	if e.conf.PAMSupport {
		if err := pamSetup(e.target.Username); err != nil {
			die(1, "exec: %v", err)
		}
	}

	// Capture forwarded signals before the child exists so none are
	// lost to default dispositions across the start window.
	fwd := newForwarder()

	shell := &exec.Cmd{
		Path:   e.shell,
		Args:   e.argv,
		Dir:    "/",
		Env:    os.Environ(),
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		SysProcAttr: &syscall.SysProcAttr{
			Credential: e.target.credential(),
		},
	}
	if !strings.Contains(e.shell, "/") {
		if resolved, err := exec.LookPath(e.shell); err == nil {
			shell.Path = resolved
		}
	}

	if err := shell.Start(); err != nil {
		die(execFailureCode(err), "%s: %v", e.shell, err)
	}
	fwd.start(shell.Process.Pid)

	// Wait restarts internally on EINTR; forwarded signals keep
	// flowing to the child until it reports.
	_ = shell.Wait()
	fwd.stop()

	if e.conf.PAMSupport {
		pamFinish()
	}

	// Drain any processes lingering in a delegated imp-shell cgroup
	// before giving the exit status back to the caller.
	if cgroup, cgErr := newCgroupInfo(); cgErr == nil {
		cgroup.waitForEmpty()
	}

	os.Exit(shellExitCode(shell))
}

// shellExitCode maps the job shell's wait outcome onto the IMP's exit
// code: the shell's own code, 128+signal for signal death, 1
// otherwise.
func shellExitCode(shell *exec.Cmd) int {
	state := shell.ProcessState
	if state == nil {
		return 1
	}
	status, ok := state.Sys().(syscall.WaitStatus)
	if !ok {
		return 1
	}
	switch {
	case status.Exited():
		return status.ExitStatus()
	case status.Signaled():
		return 128 + int(status.Signal())
	}
	return 1
}

// execFailureCode distinguishes "exists but not executable" (126)
// from every other exec failure (127).
func execFailureCode(err error) int {
	if errors.Is(err, fs.ErrPermission) || errors.Is(err, unix.EACCES) || errors.Is(err, unix.EPERM) {
		return exitExecPermission
	}
	return exitExecFailure
}

// directExec replaces the current process with the job shell in the
// caller's identity. Unprivileged-exec mode only.
func directExec(shell string, argv []string) {
	if err := os.Chdir("/"); err != nil {
		die(1, "exec: failed to chdir to /: %v", err)
	}
	path := shell
	if !strings.Contains(shell, "/") {
		if resolved, err := exec.LookPath(shell); err == nil {
			path = resolved
		}
	}
	err := unix.Exec(path, argv, os.Environ())
	// Exec only returns on failure.
	die(execFailureCode(err), "%s: %v", shell, fmt.Errorf("execvp: %w", err))
}
