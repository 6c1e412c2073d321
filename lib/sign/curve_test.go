// Copyright 2026 The Flux-IMP Authors
// SPDX-License-Identifier: Apache-2.0

package sign

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/flux-framework/flux-imp/lib/security"
	"github.com/flux-framework/flux-imp/lib/sigcert"
)

// curveContext builds a context configured for the curve mechanism:
// a signing certificate for the current uid, registered in a
// directory keystore.
func curveContext(t *testing.T, maxTTL int64) (*security.Context, int64) {
	t.Helper()

	keystore := t.TempDir()
	uid := int64(os.Getuid())

	cert, err := sigcert.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	t.Cleanup(func() { cert.Close() })

	certPath := filepath.Join(keystore, strconv.FormatInt(uid, 10))
	if err := cert.Store(certPath); err != nil {
		t.Fatalf("Store: %v", err)
	}

	ctx := security.NewFromConfig(&security.Config{
		Sign: security.SignConfig{
			MaxTTL:       maxTTL,
			DefaultType:  "curve",
			AllowedTypes: []string{"curve"},
			Curve: security.CurveConfig{
				CertPath:     certPath,
				KeystorePath: keystore,
			},
		},
	})
	return ctx, uid
}

func TestCurveRoundTrip(t *testing.T) {
	ctx, uid := curveContext(t, 30)

	envelope, err := WrapAs(ctx, uid, []byte("hi"), "curve", 0)
	if err != nil {
		t.Fatalf("WrapAs: %v", err)
	}

	result, err := Unwrap(ctx, envelope, 0)
	if err != nil {
		t.Fatalf("Unwrap: %v", err)
	}
	if string(result.Payload) != "hi" {
		t.Errorf("payload = %q, want hi", result.Payload)
	}
	if result.UserID != uid {
		t.Errorf("userid = %d, want %d", result.UserID, uid)
	}
	if result.Mechanism != "curve" {
		t.Errorf("mechanism = %q, want curve", result.Mechanism)
	}
}

func TestCurveRoundTripDisabledExpiry(t *testing.T) {
	ctx, uid := curveContext(t, security.TestDisableTTL)

	envelope, err := WrapAs(ctx, uid, []byte("hi"), "curve", 0)
	if err != nil {
		t.Fatalf("WrapAs: %v", err)
	}
	if _, err := Unwrap(ctx, envelope, 0); err != nil {
		t.Errorf("Unwrap with disabled expiry: %v", err)
	}
}

func TestCurveTamperedPayload(t *testing.T) {
	ctx, uid := curveContext(t, 30)

	envelope, err := WrapAs(ctx, uid, []byte("hi"), "curve", 0)
	if err != nil {
		t.Fatalf("WrapAs: %v", err)
	}

	// Flip one character inside the payload segment to another base64
	// alphabet character so the tampering survives decoding.
	parts := strings.SplitN(envelope, ".", 3)
	payload := []byte(parts[1])
	if payload[0] == 'A' {
		payload[0] = 'B'
	} else {
		payload[0] = 'A'
	}
	tampered := parts[0] + "." + string(payload) + "." + parts[2]

	if _, err := Unwrap(ctx, tampered, 0); !errors.Is(err, ErrSignatureInvalid) {
		t.Errorf("Unwrap tampered: got %v, want ErrSignatureInvalid", err)
	}

	// NoVerify does not detect payload tampering (structural checks
	// only).
	if _, err := Unwrap(ctx, tampered, NoVerify); err != nil {
		t.Errorf("NoVerify unwrap of tampered payload: %v", err)
	}
}

func TestCurveUnregisteredUser(t *testing.T) {
	ctx, uid := curveContext(t, 30)

	// The keystore holds a cert only for the current uid; a claimed
	// userid with no registered cert must fail verification.
	envelope, err := WrapAs(ctx, uid+1, []byte("hi"), "curve", 0)
	if err != nil {
		t.Fatalf("WrapAs: %v", err)
	}
	if _, err := Unwrap(ctx, envelope, 0); !errors.Is(err, ErrSignatureInvalid) {
		t.Errorf("Unwrap with unregistered userid: got %v, want ErrSignatureInvalid", err)
	}
}

func TestCurveKeyMismatch(t *testing.T) {
	ctx, uid := curveContext(t, 30)

	// Register a different cert for a second uid and claim that uid:
	// the envelope's key verifies the signature but does not match the
	// keystore entry.
	other, err := sigcert.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	defer other.Close()
	keystore := ctx.Config().Sign.Curve.KeystorePath
	if err := other.Store(filepath.Join(keystore, strconv.FormatInt(uid+1, 10))); err != nil {
		t.Fatalf("Store: %v", err)
	}

	envelope, err := WrapAs(ctx, uid+1, []byte("hi"), "curve", 0)
	if err != nil {
		t.Fatalf("WrapAs: %v", err)
	}
	if _, err := Unwrap(ctx, envelope, 0); !errors.Is(err, ErrSignatureInvalid) {
		t.Errorf("Unwrap with mismatched keystore cert: got %v, want ErrSignatureInvalid", err)
	}
}

func TestCurvePolicyDenied(t *testing.T) {
	ctx, uid := curveContext(t, 30)

	// Wrap under none on a curve-only configuration: wrap is not
	// policy-checked, unwrap is.
	envelope, err := WrapAs(ctx, uid, []byte("hi"), "none", 0)
	if err != nil {
		t.Fatalf("WrapAs under none: %v", err)
	}

	if _, err := Unwrap(ctx, envelope, 0); !errors.Is(err, ErrPolicyDenied) {
		t.Errorf("Unwrap: got %v, want ErrPolicyDenied", err)
	}

	result, err := UnwrapAnyMech(ctx, envelope, 0)
	if err != nil {
		t.Fatalf("UnwrapAnyMech: %v", err)
	}
	if result.Mechanism != "none" {
		t.Errorf("mechanism = %q, want none", result.Mechanism)
	}
}

func TestCurveMissingSigningCert(t *testing.T) {
	ctx := security.NewFromConfig(&security.Config{
		Sign: security.SignConfig{
			MaxTTL:       30,
			DefaultType:  "curve",
			AllowedTypes: []string{"curve"},
			Curve: security.CurveConfig{
				CertPath: filepath.Join(t.TempDir(), "absent"),
			},
		},
	})

	if _, err := WrapAs(ctx, 1000, []byte("hi"), "curve", 0); err == nil {
		t.Error("WrapAs succeeded without a signing certificate")
	}
	if ctx.LastError() == "" {
		t.Error("missing cert left no LastError")
	}
}
