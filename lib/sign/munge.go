// Copyright 2026 The Flux-IMP Authors
// SPDX-License-Identifier: Apache-2.0

package sign

import (
	"bytes"

	"github.com/flux-framework/flux-imp/lib/codec"
	"github.com/flux-framework/flux-imp/lib/security"
)

// Authenticator is the narrow interface to the external shared-secret
// authentication daemon. Encode submits payload bytes and returns an
// opaque credential attesting both the bytes and the caller's uid;
// Decode submits a credential and returns the recovered bytes and the
// daemon-authenticated uid of the encoder.
//
// The concrete daemon transport lives outside this module. Embedding
// programs install a client with SetAuthenticator; tests install an
// in-process fake.
type Authenticator interface {
	Encode(payload []byte) (credential string, err error)
	Decode(credential string) (payload []byte, uid int64, err error)
}

const auxAuthenticator = "sign::munge::authenticator"

// SetAuthenticator installs the authentication daemon client used by
// the munge mechanism on this context.
func SetAuthenticator(ctx *security.Context, auth Authenticator) {
	ctx.SetAux(auxAuthenticator, auth)
}

// mechMunge is the shared-secret mechanism. The signature is the
// daemon credential over the HEADER.PAYLOAD prefix; verification
// recovers the prefix from the credential and cross-checks the
// daemon-authenticated uid against the header's claimed userid.
type mechMunge struct{}

func (mechMunge) Name() string { return "munge" }

func (mechMunge) Init(ctx *security.Context, config *security.SignConfig) error {
	if _, err := authenticator(ctx); err != nil {
		return err
	}
	return nil
}

func (mechMunge) Sign(ctx *security.Context, prefix []byte, flags int) (string, error) {
	auth, err := authenticator(ctx)
	if err != nil {
		return "", err
	}
	credential, err := auth.Encode(prefix)
	if err != nil {
		return "", ctx.Failf("sign-munge: encode: %v", err)
	}
	return credential, nil
}

func (mechMunge) Verify(ctx *security.Context, header codec.Bundle, prefix []byte, signature string, flags int) error {
	auth, err := authenticator(ctx)
	if err != nil {
		return err
	}
	recovered, uid, err := auth.Decode(signature)
	if err != nil {
		return ctx.Failf("sign-munge-verify: %w: decode: %v", ErrSignatureInvalid, err)
	}
	if !bytes.Equal(recovered, prefix) {
		return ctx.Failf("sign-munge-verify: %w: credential payload mismatch", ErrSignatureInvalid)
	}
	userid, err := header.Int64("userid")
	if err != nil {
		return ctx.Failf("sign-munge-verify: %w: header userid missing", ErrInvalidInput)
	}
	if uid != userid {
		return ctx.Failf("sign-munge-verify: %w: credential uid=%d does not match header userid=%d",
			ErrSignatureInvalid, uid, userid)
	}
	return nil
}

func authenticator(ctx *security.Context) (Authenticator, error) {
	auth, ok := ctx.Aux(auxAuthenticator).(Authenticator)
	if !ok {
		return nil, ctx.Failf("sign-munge: %w: no authentication daemon client installed",
			ErrMechanismUnavailable)
	}
	return auth, nil
}
