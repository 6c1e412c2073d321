// Copyright 2026 The Flux-IMP Authors
// SPDX-License-Identifier: Apache-2.0

package sign

import (
	"os"

	"github.com/flux-framework/flux-imp/lib/codec"
	"github.com/flux-framework/flux-imp/lib/security"
)

// NoVerify skips the mechanism's cryptographic check on unwrap.
// Structural validation of the envelope and header still runs.
// Privileged consumers must not pass this outside self-test paths.
const NoVerify = 1

// envelopeVersion is the sole supported header format version.
const envelopeVersion = 1

const auxEngine = "sign::engine"

// engine holds the validated [sign] configuration and the scratch
// buffers reused across wrap and unwrap calls. One engine per security
// context, created lazily on first use, strictly single-threaded.
type engine struct {
	config    *security.SignConfig
	wrapBuf   []byte
	unwrapBuf []byte
}

func engineInit(ctx *security.Context) (*engine, error) {
	if e, ok := ctx.Aux(auxEngine).(*engine); ok {
		return e, nil
	}
	config := ctx.Config()
	if config == nil {
		return nil, ctx.Failf("sign: security context is not configured")
	}
	if err := config.Sign.Validate(IsMechanism); err != nil {
		return nil, ctx.Fail(err)
	}
	e := &engine{config: &config.Sign}
	ctx.SetAux(auxEngine, e)
	return e, nil
}

// Unwrapped is the result of a successful unwrap.
type Unwrapped struct {
	// Payload is the decoded payload, nil when the envelope carried an
	// empty payload. The slice borrows the engine's scratch buffer and
	// is invalidated by the next wrap or unwrap on the same context.
	Payload []byte

	// Mechanism is the envelope's mechanism name.
	Mechanism string

	// UserID is the verified acting user. With NoVerify it is the
	// claimed, unverified header value.
	UserID int64
}

// WrapAs signs payload on behalf of userid and returns the envelope
// string. mechType selects the mechanism; the empty string selects the
// configured default-type. flags must be zero. The returned string is
// an independent copy of the engine's wrap scratch buffer, which is
// reused by the next wrap on the same context.
func WrapAs(ctx *security.Context, userid int64, payload []byte, mechType string, flags int) (string, error) {
	if userid < 0 {
		return "", ctx.Failf("sign-wrap: %w: negative userid", ErrInvalidInput)
	}
	if flags != 0 {
		return "", ctx.Failf("sign-wrap: %w: unsupported flags %#x", ErrInvalidInput, flags)
	}
	e, err := engineInit(ctx)
	if err != nil {
		return "", err
	}
	if mechType == "" {
		mechType = e.config.DefaultType
	}
	mech := lookupMechanism(mechType)
	if mech == nil {
		return "", ctx.Failf("sign-wrap: %w: %s", ErrMechanismUnknown, mechType)
	}
	if err := mechInit(ctx, mech, e.config); err != nil {
		return "", ctx.Fail(err)
	}

	header := codec.Bundle{
		"version":   int64(envelopeVersion),
		"mechanism": mech.Name(),
		"userid":    userid,
	}
	if err := mechPrep(ctx, mech, header, flags); err != nil {
		return "", ctx.Fail(err)
	}

	if e.wrapBuf, err = headerEncodeCopy(e.wrapBuf, header); err != nil {
		return "", ctx.Failf("sign-wrap: %w", err)
	}
	e.wrapBuf = payloadEncodeCat(e.wrapBuf, payload)

	signature, err := mech.Sign(ctx, e.wrapBuf, flags)
	if err != nil {
		return "", ctx.Fail(err)
	}
	if e.wrapBuf, err = signatureCat(e.wrapBuf, signature); err != nil {
		return "", ctx.Failf("sign-wrap: %w", err)
	}
	return string(e.wrapBuf), nil
}

// Wrap is WrapAs with the current real user id.
func Wrap(ctx *security.Context, payload []byte, mechType string, flags int) (string, error) {
	return WrapAs(ctx, int64(os.Getuid()), payload, mechType, flags)
}

// Unwrap validates and opens an envelope, enforcing allowed-types.
// flags is zero or NoVerify.
func Unwrap(ctx *security.Context, input string, flags int) (*Unwrapped, error) {
	return unwrap(ctx, input, flags, true)
}

// UnwrapAnyMech is Unwrap without the allowed-types policy check, for
// tooling that inspects foreign envelopes.
func UnwrapAnyMech(ctx *security.Context, input string, flags int) (*Unwrapped, error) {
	return unwrap(ctx, input, flags, false)
}

func unwrap(ctx *security.Context, input string, flags int, checkAllowed bool) (*Unwrapped, error) {
	if flags != 0 && flags != NoVerify {
		return nil, ctx.Failf("sign-unwrap: %w: unsupported flags %#x", ErrInvalidInput, flags)
	}
	e, err := engineInit(ctx)
	if err != nil {
		return nil, err
	}

	headerPart, payloadPart, signature, prefix, err := splitEnvelope(input)
	if err != nil {
		return nil, ctx.Failf("sign-unwrap: %w", err)
	}
	header, err := headerDecode(headerPart)
	if err != nil {
		return nil, ctx.Failf("sign-unwrap: %w", err)
	}

	version, err := header.Int64("version")
	if err != nil {
		return nil, ctx.Failf("sign-unwrap: %w: header version missing", ErrInvalidInput)
	}
	if version != envelopeVersion {
		return nil, ctx.Failf("sign-unwrap: %w: header version=%d unknown", ErrInvalidInput, version)
	}
	mechanism, err := header.String("mechanism")
	if err != nil {
		return nil, ctx.Failf("sign-unwrap: %w: header mechanism missing", ErrInvalidInput)
	}
	mech := lookupMechanism(mechanism)
	if mech == nil {
		return nil, ctx.Failf("sign-unwrap: %w: header mechanism=%s", ErrMechanismUnknown, mechanism)
	}
	if checkAllowed && !e.config.MechanismAllowed(mechanism) {
		return nil, ctx.Failf("sign-unwrap: %w: header mechanism=%s not allowed", ErrPolicyDenied, mechanism)
	}
	userid, err := header.Int64("userid")
	if err != nil {
		return nil, ctx.Failf("sign-unwrap: %w: header userid missing", ErrInvalidInput)
	}

	var length int
	if e.unwrapBuf, length, err = payloadDecodeCopy(e.unwrapBuf, payloadPart); err != nil {
		return nil, ctx.Failf("sign-unwrap: %w", err)
	}

	if flags&NoVerify == 0 {
		if err := mechInit(ctx, mech, e.config); err != nil {
			return nil, ctx.Fail(err)
		}
		if err := mech.Verify(ctx, header, []byte(prefix), signature, flags); err != nil {
			return nil, ctx.Fail(err)
		}
	}

	result := &Unwrapped{Mechanism: mech.Name(), UserID: userid}
	if length > 0 {
		result.Payload = e.unwrapBuf[:length]
	}
	return result, nil
}
