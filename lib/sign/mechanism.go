// Copyright 2026 The Flux-IMP Authors
// SPDX-License-Identifier: Apache-2.0

package sign

import (
	"errors"

	"github.com/flux-framework/flux-imp/lib/codec"
	"github.com/flux-framework/flux-imp/lib/security"
)

// Error kinds surfaced by wrap and unwrap. Operations wrap these with
// context; match with errors.Is.
var (
	// ErrInvalidInput covers malformed envelopes, bad arguments, and
	// headers missing required fields.
	ErrInvalidInput = errors.New("sign: invalid input")

	// ErrPolicyDenied marks an envelope whose mechanism is not in
	// allowed-types.
	ErrPolicyDenied = errors.New("sign: mechanism not allowed")

	// ErrSignatureInvalid marks a failed cryptographic or identity
	// check.
	ErrSignatureInvalid = errors.New("sign: signature invalid")

	// ErrMechanismUnknown marks a mechanism name with no registered
	// implementation.
	ErrMechanismUnknown = errors.New("sign: unknown mechanism")

	// ErrMechanismUnavailable marks a known mechanism that cannot
	// operate in this process (e.g. no authentication daemon client
	// installed).
	ErrMechanismUnavailable = errors.New("sign: mechanism unavailable")
)

// Mechanism is the capability set every signing back-end satisfies.
// Sign produces the signature over the HEADER.PAYLOAD prefix bytes;
// Verify checks a signature against the prefix and the decoded header.
type Mechanism interface {
	Name() string
	Sign(ctx *security.Context, prefix []byte, flags int) (string, error)
	Verify(ctx *security.Context, header codec.Bundle, prefix []byte, signature string, flags int) error
}

// initializer is the optional one-time setup hook, called before the
// first sign or verify on a context.
type initializer interface {
	Init(ctx *security.Context, config *security.SignConfig) error
}

// preparer is the optional hook that adds mechanism-specific fields to
// the header during wrap.
type preparer interface {
	Prep(ctx *security.Context, header codec.Bundle, flags int) error
}

// lookupMechanism resolves a mechanism name. The set is compile-time
// known; names are stable identifiers and are never reused for a
// different implementation.
func lookupMechanism(name string) Mechanism {
	switch name {
	case "none":
		return mechNone{}
	case "munge":
		return mechMunge{}
	case "curve":
		return mechCurve{}
	}
	return nil
}

// IsMechanism reports whether name resolves to a registered mechanism.
func IsMechanism(name string) bool {
	return lookupMechanism(name) != nil
}

func mechInit(ctx *security.Context, mech Mechanism, config *security.SignConfig) error {
	if init, ok := mech.(initializer); ok {
		return init.Init(ctx, config)
	}
	return nil
}

func mechPrep(ctx *security.Context, mech Mechanism, header codec.Bundle, flags int) error {
	if prep, ok := mech.(preparer); ok {
		return prep.Prep(ctx, header, flags)
	}
	return nil
}
