// Copyright 2026 The Flux-IMP Authors
// SPDX-License-Identifier: Apache-2.0

package sign

import (
	"crypto/ed25519"
	"encoding/base64"
	"os/user"
	"path/filepath"
	"time"

	"github.com/flux-framework/flux-imp/lib/codec"
	"github.com/flux-framework/flux-imp/lib/security"
	"github.com/flux-framework/flux-imp/lib/sigcert"
)

// Header fields added by the curve mechanism during prep.
const (
	curveHeaderPubkey = "curve.pubkey"
	curveHeaderCtime  = "curve.ctime"
	curveHeaderXtime  = "curve.xtime"
)

// disabledExpiryWindow is the signature lifetime used when max-ttl is
// the test sentinel.
const disabledExpiryWindow = int64(10 * 365 * 24 * 60 * 60)

const auxCurve = "sign::curve"

// curveState is the mechanism state cached on the security context:
// the lazily-loaded signing certificate and the relevant config.
type curveState struct {
	cert   *sigcert.Cert
	maxTTL int64
	config *security.CurveConfig
}

// mechCurve is the public-key mechanism. The signature is an Ed25519
// detached signature over the HEADER.PAYLOAD prefix; the header
// carries the signer's public key plus creation and expiry times, and
// verification confirms via a local keystore that the key belongs to
// the header's claimed userid.
type mechCurve struct{}

func (mechCurve) Name() string { return "curve" }

func (mechCurve) Init(ctx *security.Context, config *security.SignConfig) error {
	if ctx.Aux(auxCurve) != nil {
		return nil
	}
	ctx.SetAux(auxCurve, &curveState{
		maxTTL: config.MaxTTL,
		config: &config.Curve,
	})
	return nil
}

func (mechCurve) Prep(ctx *security.Context, header codec.Bundle, flags int) error {
	state := ctx.Aux(auxCurve).(*curveState)

	if state.cert == nil {
		path := state.config.CertPath
		if path == "" {
			current, err := user.Current()
			if err != nil {
				return ctx.Failf("sign-curve-prep: looking up current user: %v", err)
			}
			path = filepath.Join(current.HomeDir, ".flux", "curve", "sig")
		}
		cert, err := sigcert.Load(path, true)
		if err != nil {
			return ctx.Failf("sign-curve-prep: %v", err)
		}
		state.cert = cert
	}

	ctime := time.Now().Unix()
	ttl := state.maxTTL
	if ttl == security.TestDisableTTL {
		ttl = disabledExpiryWindow
	}
	header[curveHeaderPubkey] = base64.StdEncoding.EncodeToString(state.cert.Public())
	header[curveHeaderCtime] = ctime
	header[curveHeaderXtime] = ctime + ttl
	return nil
}

func (mechCurve) Sign(ctx *security.Context, prefix []byte, flags int) (string, error) {
	state := ctx.Aux(auxCurve).(*curveState)
	if state.cert == nil {
		return "", ctx.Failf("sign-curve: no signing certificate loaded")
	}
	signature, err := state.cert.SignDetached(prefix)
	if err != nil {
		return "", ctx.Failf("sign-curve: %v", err)
	}
	return signature, nil
}

func (mechCurve) Verify(ctx *security.Context, header codec.Bundle, prefix []byte, signature string, flags int) error {
	state := ctx.Aux(auxCurve).(*curveState)
	now := time.Now().Unix()

	pubkey, err := header.String(curveHeaderPubkey)
	xtime, xerr := header.Int64(curveHeaderXtime)
	ctime, cerr := header.Int64(curveHeaderCtime)
	userid, uerr := header.Int64("userid")
	if err != nil || xerr != nil || cerr != nil || uerr != nil {
		return ctx.Failf("sign-curve-verify: %w: incomplete header", ErrInvalidInput)
	}

	raw, err := base64.StdEncoding.DecodeString(pubkey)
	if err != nil {
		return ctx.Failf("sign-curve-verify: %w: decoding public key: %v", ErrInvalidInput, err)
	}
	cert, err := sigcert.FromPublicKey(ed25519.PublicKey(raw))
	if err != nil {
		return ctx.Failf("sign-curve-verify: %w: %v", ErrInvalidInput, err)
	}

	if err := cert.VerifyDetached(signature, prefix); err != nil {
		return ctx.Failf("sign-curve-verify: %w: verification failure", ErrSignatureInvalid)
	}

	// The signature is only as good as the binding between the header's
	// declared key and the claimed userid: consult the local keystore.
	keystore := sigcert.Keystore{Dir: state.config.KeystorePath}
	registered, err := keystore.Lookup(userid)
	if err != nil {
		return ctx.Failf("sign-curve-verify: %w: loading cert for userid %d: %v",
			ErrSignatureInvalid, userid, err)
	}
	if !registered.Equal(cert) {
		return ctx.Failf("sign-curve-verify: %w: cert %s does not match keystore cert %s for userid %d",
			ErrSignatureInvalid, cert.Fingerprint(), registered.Fingerprint(), userid)
	}

	if xtime < now {
		return ctx.Failf("sign-curve-verify: %w: signature expired", ErrSignatureInvalid)
	}
	if state.maxTTL != security.TestDisableTTL && ctime+state.maxTTL < now {
		return ctx.Failf("sign-curve-verify: %w: max-ttl exceeded", ErrSignatureInvalid)
	}
	if ctime > now {
		return ctx.Failf("sign-curve-verify: %w: ctime is in the future", ErrSignatureInvalid)
	}
	return nil
}
