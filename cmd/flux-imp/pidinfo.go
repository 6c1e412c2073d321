// Copyright 2026 The Flux-IMP Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"
	"syscall"
)

// systemdCgroupMountDir is the fixed mount point used to resolve an
// arbitrary pid's systemd cgroup for kill authorization.
const systemdCgroupMountDir = "/sys/fs/cgroup/systemd"

// pidInfo captures the ownership facts kill authorization needs about
// a target process: who owns the process, and who owns its cgroup
// directory.
type pidInfo struct {
	pid         int
	pidOwner    uint32
	cgroupPath  string
	cgroupOwner uint32
}

// newPidInfo resolves ownership for pid. A negative pid (process
// group) is resolved via its absolute value.
func newPidInfo(pid int) (*pidInfo, error) {
	if pid < 0 {
		pid = -pid
	}
	info := &pidInfo{pid: pid}

	owner, err := pathOwner(fmt.Sprintf("/proc/%d", pid))
	if err != nil {
		return nil, fmt.Errorf("pid %d: %w", pid, err)
	}
	info.pidOwner = owner

	file, err := os.Open(fmt.Sprintf("/proc/%d/cgroup", pid))
	if err != nil {
		return nil, fmt.Errorf("pid %d: %w", pid, err)
	}
	defer file.Close()

	relpath, err := parseCgroupRelPath(file, false)
	if err != nil {
		return nil, fmt.Errorf("pid %d: systemd cgroup: %w", pid, err)
	}
	info.cgroupPath = systemdCgroupMountDir + relpath

	if info.cgroupOwner, err = pathOwner(info.cgroupPath); err != nil {
		return nil, fmt.Errorf("cgroup %s: %w", info.cgroupPath, err)
	}
	return info, nil
}

// pathOwner returns the owning uid of path.
func pathOwner(path string) (uint32, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, fmt.Errorf("stat %s: no owner information", path)
	}
	return stat.Uid, nil
}
