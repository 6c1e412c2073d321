// Copyright 2026 The Flux-IMP Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"strconv"

	"golang.org/x/sys/unix"
)

// flux-imp kill - signal tasks on behalf of the requestor when
// authorized. The requesting user may signal a process when either the
// process itself or its delegated systemd cgroup is owned by that
// user; this covers jobs running as other users inside a cgroup the
// execution system owns.

// killUnprivileged parses SIGNAL and PID from the command line and
// either forwards them to the privileged parent or (non-setuid test
// installations) performs the authorization and kill directly.
func killUnprivileged(imp *impState) {
	// flux-imp kill SIGNAL PID
	if len(imp.args) < 3 {
		die(1, "kill: Usage: flux-imp kill SIGNAL PID")
	}

	signum, err := strconv.ParseInt(imp.args[1], 10, 32)
	if err != nil || signum <= 0 {
		die(1, "kill: invalid SIGNAL %s", imp.args[1])
	}

	// A pid of 0 would address the IMP's own process group.
	pid, err := strconv.ParseInt(imp.args[2], 10, 64)
	if err != nil || pid == 0 {
		die(1, "kill: invalid PID %s", imp.args[2])
	}

	if imp.ps == nil {
		checkAndKill(imp, pid, unix.Signal(signum))
		return
	}

	request := requestBundle{"pid": pid, "signal": signum}
	if err := imp.ps.writeRequest(request); err != nil {
		die(1, "kill: failed to communicate with privsep parent: %v", err)
	}
}

// killPrivileged reads pid and signal from the privsep request and
// performs the authorization and kill with privilege.
func killPrivileged(imp *impState, request requestBundle) {
	pid, err := request.Int64("pid")
	if err != nil {
		die(1, "kill: failed to get pid: %v", err)
	}
	signum, err := request.Int64("signal")
	if err != nil {
		die(1, "kill: failed to get signal: %v", err)
	}
	checkAndKill(imp, pid, unix.Signal(signum))
}

// checkAndKill authorizes the request against the caller's real uid
// and delivers the signal. Authorization uses the exec allowed-users
// list (the same set of users allowed to launch jobs).
func checkAndKill(imp *impState, pid int64, sig unix.Signal) {
	username, err := currentUsername()
	if err != nil {
		die(1, "kill: unable to lookup user: %v", err)
	}
	if !imp.conf.Exec.UserAllowed(username) {
		die(1, "kill command not allowed")
	}

	uid := uint32(unix.Getuid())
	info, err := newPidInfo(int(pid))
	if err != nil {
		die(1, "kill: failed to initialize pid info: %v", err)
	}
	if info.cgroupOwner != uid && info.pidOwner != uid {
		die(1, "kill: refusing request from uid=%d to kill pid %d (owner=%d)",
			uid, pid, info.cgroupOwner)
	}

	if err := unix.Kill(int(pid), sig); err != nil {
		die(1, "kill: %d sig=%d: %v", pid, sig, err)
	}
}
