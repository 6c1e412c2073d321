// Copyright 2026 The Flux-IMP Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"
	"os/signal"

	"golang.org/x/sys/unix"
)

// forwardedSignals is the set the IMP relays to the job shell. SIGKILL
// and SIGSTOP cannot be caught; everything else keeps its default
// disposition in the IMP itself.
var forwardedSignals = []os.Signal{
	unix.SIGTERM,
	unix.SIGINT,
	unix.SIGHUP,
	unix.SIGCONT,
	unix.SIGALRM,
	unix.SIGWINCH,
	unix.SIGTTIN,
	unix.SIGTTOU,
}

// forwarder relays the forwarded signal set to a single child process
// or process group. Only one exec pipeline is ever in flight per IMP,
// so a single target cell is sufficient.
//
// Construction captures signals immediately into a buffered channel;
// nothing is delivered until start names the target. This is the
// fork-window guarantee: a signal arriving between child creation and
// handler installation queues instead of killing the IMP or being
// lost.
type forwarder struct {
	ch   chan os.Signal
	done chan struct{}
}

// newForwarder begins capturing the forwarded signal set.
func newForwarder() *forwarder {
	f := &forwarder{
		ch:   make(chan os.Signal, 32),
		done: make(chan struct{}),
	}
	signal.Notify(f.ch, forwardedSignals...)
	return f
}

// start relays captured and future signals to target. A negative
// target addresses the process group -target, handled transparently
// by kill(2).
func (f *forwarder) start(target int) {
	go func() {
		defer close(f.done)
		for sig := range f.ch {
			signum, ok := sig.(unix.Signal)
			if !ok {
				continue
			}
			if err := unix.Kill(target, signum); err != nil {
				warn("forwarding signal %d to %d: %v", signum, target, err)
			}
		}
	}()
}

// stop ends forwarding and restores default dispositions.
func (f *forwarder) stop() {
	signal.Stop(f.ch)
	close(f.ch)
	<-f.done
}
