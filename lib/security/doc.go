// Copyright 2026 The Flux-IMP Authors
// SPDX-License-Identifier: Apache-2.0

// Package security provides the process-scoped security context shared
// by the signing library and the IMP: validated TOML configuration and
// the last-error slot that library operations report through.
//
// A Context is strictly single-threaded. Its aux storage and last-error
// slot are context-local; concurrent use requires one context per
// goroutine.
package security
