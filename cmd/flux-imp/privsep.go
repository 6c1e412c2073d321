// Copyright 2026 The Flux-IMP Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"

	"golang.org/x/sys/unix"

	"github.com/flux-framework/flux-imp/lib/codec"
)

// requestBundle is the key/value object that crosses the privsep
// channel: strictly one bundle from the unprivileged child to the
// privileged parent per invocation.
type requestBundle = codec.Bundle

// privsepChildEnv marks the re-executed unprivileged child process.
const privsepChildEnv = "FLUX_IMP_PRIVSEP_CHILD"

// privsepMaxFrame caps the request bundle size on the wire.
const privsepMaxFrame = 4 << 20

// Child-side pipe ends land on these descriptors via ExtraFiles.
const (
	childReadFd  = 3
	childWriteFd = 4
)

// privsep is the byte-framed channel between the unprivileged child
// and the privileged parent. The halves run in separate processes:
// the parent re-executes the IMP binary, which drops privileges itself
// on startup, rather than forking, since a forked Go runtime cannot
// safely continue past fork without exec.
type privsep struct {
	r io.Reader
	w io.Writer

	// child is the unprivileged process, parent side only.
	child *exec.Cmd

	// closers are the parent's pipe ends, closed at wait.
	closers []*os.File
}

// privsepRequired reports whether this process runs with setuid
// privilege: effective root on behalf of a non-root caller.
func privsepRequired() bool {
	return os.Geteuid() == 0 && os.Getuid() != 0
}

// privsepInit is the privileged parent half of channel setup: create
// the pipe pair, re-execute this binary as the unprivileged child, and
// wake it once the parent is ready to read.
func privsepInit() (*privsep, error) {
	if !privsepRequired() {
		return nil, errors.New("privsep: called when not setuid")
	}

	// upR/upW: parent wakes the child. ppR/ppW: child sends the
	// request bundle to the parent.
	upR, upW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("privsep: pipe: %w", err)
	}
	ppR, ppW, err := os.Pipe()
	if err != nil {
		upR.Close()
		upW.Close()
		return nil, fmt.Errorf("privsep: pipe: %w", err)
	}

	child := exec.Command("/proc/self/exe", os.Args[1:]...)
	child.Stdin = os.Stdin
	child.Stdout = os.Stdout
	child.Stderr = os.Stderr
	child.Env = append(os.Environ(), privsepChildEnv+"=1")
	child.ExtraFiles = []*os.File{upR, ppW} // fds 3 and 4 in the child

	if err := child.Start(); err != nil {
		upR.Close()
		upW.Close()
		ppR.Close()
		ppW.Close()
		return nil, fmt.Errorf("privsep: starting unprivileged child: %w", err)
	}

	// The child's ends live on in the child only.
	upR.Close()
	ppW.Close()

	ps := &privsep{
		r:       ppR,
		w:       upW,
		child:   child,
		closers: []*os.File{ppR, upW},
	}
	if err := ps.wakeupChild(); err != nil {
		return nil, err
	}
	return ps, nil
}

// privsepChildInit is the unprivileged child half: drop privileges
// irreversibly before touching anything else, pick up the inherited
// pipe ends, and wait for the parent's wakeup byte.
func privsepChildInit() (*privsep, error) {
	if err := dropPrivileges(); err != nil {
		return nil, err
	}
	ps := &privsep{
		r: os.NewFile(childReadFd, "privsep-read"),
		w: os.NewFile(childWriteFd, "privsep-write"),
	}
	if err := ps.waitForParent(); err != nil {
		return nil, err
	}
	return ps, nil
}

// dropPrivileges switches real, effective, and saved uid and gid to
// the caller's real identity, then verifies privilege cannot be
// restored. The x/sys/unix wrappers apply the change to every runtime
// thread.
func dropPrivileges() error {
	ruid := unix.Getuid()
	rgid := unix.Getgid()

	if err := unix.Setresgid(rgid, rgid, rgid); err != nil {
		return fmt.Errorf("privsep: setresgid: %w", err)
	}
	if err := unix.Setresuid(ruid, ruid, ruid); err != nil {
		return fmt.Errorf("privsep: setresuid: %w", err)
	}
	if err := unix.Setreuid(-1, 0); err == nil {
		return fmt.Errorf("privsep: irreversible switch to uid %d failed", ruid)
	}
	return nil
}

func (ps *privsep) wakeupChild() error {
	if _, err := ps.w.Write([]byte{0}); err != nil {
		return fmt.Errorf("privsep: waking child: %w", err)
	}
	return nil
}

func (ps *privsep) waitForParent() error {
	var b [1]byte
	if _, err := io.ReadFull(ps.r, b[:]); err != nil {
		return fmt.Errorf("privsep: waiting for parent: %w", err)
	}
	return nil
}

// writeRequest frames and sends the request bundle. Child side.
func (ps *privsep) writeRequest(request requestBundle) error {
	return writeFrame(ps.w, request)
}

// readRequest receives one framed request bundle. Parent side.
func (ps *privsep) readRequest() (requestBundle, error) {
	return readFrame(ps.r)
}

// wait collects the unprivileged child's exit status. A child that
// exited nonzero (or died to a signal) poisons the invocation: the
// privileged half must not proceed.
func (ps *privsep) wait() error {
	for _, f := range ps.closers {
		f.Close()
	}
	ps.closers = nil

	if ps.child == nil {
		return errors.New("privsep: wait called on child side")
	}
	if err := ps.child.Wait(); err != nil {
		return fmt.Errorf("privsep: unprivileged child: %w", err)
	}
	return nil
}

// writeFrame writes a length-prefixed CBOR bundle.
func writeFrame(w io.Writer, bundle codec.Bundle) error {
	data, err := codec.EncodeBundle(bundle)
	if err != nil {
		return err
	}
	if len(data) > privsepMaxFrame {
		return fmt.Errorf("privsep: frame of %d bytes exceeds limit", len(data))
	}
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(data)))
	if _, err := w.Write(length[:]); err != nil {
		return fmt.Errorf("privsep: writing frame length: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("privsep: writing frame: %w", err)
	}
	return nil
}

// readFrame reads one length-prefixed CBOR bundle.
func readFrame(r io.Reader) (codec.Bundle, error) {
	var length [4]byte
	if _, err := io.ReadFull(r, length[:]); err != nil {
		return nil, fmt.Errorf("privsep: reading frame length: %w", err)
	}
	size := binary.BigEndian.Uint32(length[:])
	if size == 0 || size > privsepMaxFrame {
		return nil, fmt.Errorf("privsep: frame of %d bytes exceeds limit", size)
	}
	data := make([]byte, size)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("privsep: reading frame: %w", err)
	}
	return codec.DecodeBundle(data)
}
