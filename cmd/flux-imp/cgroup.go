// Copyright 2026 The Flux-IMP Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// cgroupInfo describes the cgroup the IMP is running in: the
// discovered mount directory, the absolute path of the current
// process's cgroup, and whether the hierarchy is unified (v2) or
// legacy (v1).
//
// The reaper is armed only when the cgroup basename begins with
// "imp-shell": that prefix marks a per-job cgroup the execution system
// delegated to the IMP, where draining stragglers is safe.
type cgroupInfo struct {
	mountDir      string
	path          string
	unified       bool
	useCgroupKill bool
}

// cgroupKillPrefix arms the reaper.
const cgroupKillPrefix = "imp-shell"

// newCgroupInfo discovers the hierarchy flavor and resolves the
// current process's cgroup path.
func newCgroupInfo() (*cgroupInfo, error) {
	cg := &cgroupInfo{}
	if err := cg.initMountDirAndType(); err != nil {
		return nil, err
	}

	file, err := os.Open("/proc/self/cgroup")
	if err != nil {
		return nil, err
	}
	defer file.Close()

	relpath, err := parseCgroupRelPath(file, cg.unified)
	if err != nil {
		return nil, err
	}
	cg.path = cg.mountDir + relpath

	cg.useCgroupKill = cgroupKillArmed(cg.path)
	return cg, nil
}

// cgroupKillArmed reports whether path names a per-job cgroup the
// reaper may drain.
func cgroupKillArmed(path string) bool {
	return strings.HasPrefix(filepath.Base(path), cgroupKillPrefix)
}

// initMountDirAndType determines whether the system uses the unified
// (v2) or legacy (v1) hierarchy, and where systemd-managed cgroups are
// mounted:
//
//  1. /sys/fs/cgroup mounted cgroup2: unified.
//  2. /sys/fs/cgroup/unified mounted cgroup2: unified (hybrid).
//  3. /sys/fs/cgroup is tmpfs with /sys/fs/cgroup/systemd mounted as
//     legacy cgroupfs: not unified.
func (cg *cgroupInfo) initMountDirAndType() error {
	var fs unix.Statfs_t

	cg.unified = true
	cg.mountDir = "/sys/fs/cgroup"
	if err := unix.Statfs(cg.mountDir, &fs); err != nil {
		return fmt.Errorf("statfs %s: %w", cg.mountDir, err)
	}
	if fs.Type == unix.CGROUP2_SUPER_MAGIC {
		return nil
	}
	rootType := fs.Type

	cg.mountDir = "/sys/fs/cgroup/unified"
	if err := unix.Statfs(cg.mountDir, &fs); err == nil && fs.Type == unix.CGROUP2_SUPER_MAGIC {
		return nil
	}

	if rootType == unix.TMPFS_MAGIC {
		cg.mountDir = "/sys/fs/cgroup/systemd"
		if err := unix.Statfs(cg.mountDir, &fs); err == nil && fs.Type == unix.CGROUP_SUPER_MAGIC {
			cg.unified = false
			return nil
		}
	}

	return errors.New("unable to determine cgroup mount point and hierarchy type")
}

// parseCgroupRelPath extracts the relative cgroup path from
// /proc/<pid>/cgroup content ("hierarchy:subsys:relpath" lines). The
// unified hierarchy uses the line with an empty subsys field, legacy
// the "name=systemd" line. Leading "/.." segments are stripped: they
// appear when running inside a container whose cgroup root is nested.
func parseCgroupRelPath(r io.Reader, unified bool) (string, error) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		first := strings.IndexByte(line, ':')
		if first < 0 {
			continue
		}
		rest := line[first+1:]
		second := strings.IndexByte(rest, ':')
		if second < 0 {
			continue
		}
		subsys := rest[:second]
		relpath := rest[second+1:]

		for strings.HasPrefix(relpath, "/..") {
			relpath = relpath[3:]
		}

		if (unified && subsys == "") || (!unified && subsys == "name=systemd") {
			return relpath, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return "", errors.New("no matching cgroup hierarchy line")
}

// kill sends sig to every pid in the cgroup except the current
// process. Returns the number of signals sent. Individual send
// failures are logged and skipped; an error is returned only when at
// least one send failed and none succeeded.
func (cg *cgroupInfo) kill(sig unix.Signal) (int, error) {
	file, err := os.Open(filepath.Join(cg.path, "cgroup.procs"))
	if err != nil {
		return 0, err
	}
	defer file.Close()

	count := 0
	var firstError error
	self := os.Getpid()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		pid, err := strconv.Atoi(strings.TrimSpace(scanner.Text()))
		if err != nil {
			continue
		}
		if pid == self {
			continue
		}
		if err := unix.Kill(pid, sig); err != nil {
			if firstError == nil {
				firstError = err
			}
			warn("failed to send signal %d to pid %d: %v", sig, pid, err)
			continue
		}
		count++
	}
	if count == 0 && firstError != nil {
		return 0, firstError
	}
	return count, nil
}

// waitForEmpty polls until no process other than the IMP remains in
// the cgroup. No-op unless the reaper is armed. inotify and poll do
// not work on the cgroup.procs virtual file, so this is a sleep loop:
// at most one second per probe.
func (cg *cgroupInfo) waitForEmpty() {
	if !cg.useCgroupKill {
		return
	}
	for {
		n, err := cg.kill(0)
		if err != nil || n <= 0 {
			return
		}
		time.Sleep(time.Second)
	}
}
