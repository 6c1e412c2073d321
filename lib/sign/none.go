// Copyright 2026 The Flux-IMP Authors
// SPDX-License-Identifier: Apache-2.0

package sign

import (
	"github.com/flux-framework/flux-imp/lib/codec"
	"github.com/flux-framework/flux-imp/lib/security"
)

// mechNone is the null mechanism: the signature is the literal string
// "none" and verification accepts any envelope carrying it. It exists
// for replay and integration tests and must not appear in
// allowed-types in production configurations.
type mechNone struct{}

func (mechNone) Name() string { return "none" }

func (mechNone) Sign(ctx *security.Context, prefix []byte, flags int) (string, error) {
	return "none", nil
}

func (mechNone) Verify(ctx *security.Context, header codec.Bundle, prefix []byte, signature string, flags int) error {
	if signature != "none" {
		return ctx.Failf("sign-none-verify: %w: signature is not \"none\"", ErrSignatureInvalid)
	}
	return nil
}
