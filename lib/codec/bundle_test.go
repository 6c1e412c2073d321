// Copyright 2026 The Flux-IMP Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"errors"
	"testing"
)

func TestBundleRoundTrip(t *testing.T) {
	b := Bundle{
		"version":   int64(1),
		"mechanism": "none",
		"userid":    int64(1000),
		"args":      map[string]any{"0": "/bin/true", "1": "arg"},
	}

	data, err := EncodeBundle(b)
	if err != nil {
		t.Fatalf("EncodeBundle: %v", err)
	}

	decoded, err := DecodeBundle(data)
	if err != nil {
		t.Fatalf("DecodeBundle: %v", err)
	}

	version, err := decoded.Int64("version")
	if err != nil || version != 1 {
		t.Errorf("version = %d, %v; want 1", version, err)
	}
	mechanism, err := decoded.String("mechanism")
	if err != nil || mechanism != "none" {
		t.Errorf("mechanism = %q, %v; want none", mechanism, err)
	}
	userid, err := decoded.Int64("userid")
	if err != nil || userid != 1000 {
		t.Errorf("userid = %d, %v; want 1000", userid, err)
	}

	args, err := decoded.Sub("args")
	if err != nil {
		t.Fatalf("Sub(args): %v", err)
	}
	shell, err := args.String("0")
	if err != nil || shell != "/bin/true" {
		t.Errorf("args[0] = %q, %v; want /bin/true", shell, err)
	}
}

func TestBundleDeterministic(t *testing.T) {
	b := Bundle{"zebra": "z", "alpha": "a", "userid": int64(42)}

	first, err := EncodeBundle(b)
	if err != nil {
		t.Fatalf("EncodeBundle: %v", err)
	}
	second, err := EncodeBundle(b)
	if err != nil {
		t.Fatalf("EncodeBundle: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Error("same bundle encoded to different bytes")
	}
}

func TestBundleMissingKey(t *testing.T) {
	b := Bundle{"present": "yes"}

	if _, err := b.String("absent"); !errors.Is(err, ErrKeyMissing) {
		t.Errorf("String(absent): got %v, want ErrKeyMissing", err)
	}
	if _, err := b.Int64("absent"); !errors.Is(err, ErrKeyMissing) {
		t.Errorf("Int64(absent): got %v, want ErrKeyMissing", err)
	}
}

func TestBundleWrongType(t *testing.T) {
	b := Bundle{"number": int64(5), "text": "hello"}

	if _, err := b.String("number"); !errors.Is(err, ErrWrongType) {
		t.Errorf("String(number): got %v, want ErrWrongType", err)
	}
	if _, err := b.Int64("text"); !errors.Is(err, ErrWrongType) {
		t.Errorf("Int64(text): got %v, want ErrWrongType", err)
	}
	if _, err := b.Sub("text"); !errors.Is(err, ErrWrongType) {
		t.Errorf("Sub(text): got %v, want ErrWrongType", err)
	}
}

func TestBundleNegativeInt(t *testing.T) {
	data, err := EncodeBundle(Bundle{"ttl": int64(-100)})
	if err != nil {
		t.Fatalf("EncodeBundle: %v", err)
	}
	decoded, err := DecodeBundle(data)
	if err != nil {
		t.Fatalf("DecodeBundle: %v", err)
	}
	ttl, err := decoded.Int64("ttl")
	if err != nil || ttl != -100 {
		t.Errorf("ttl = %d, %v; want -100", ttl, err)
	}
}

func TestDecodeBundleNotAMap(t *testing.T) {
	data, err := Marshal([]string{"not", "a", "map"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if _, err := DecodeBundle(data); err == nil {
		t.Error("DecodeBundle accepted a CBOR array")
	}
}

func TestArgvRoundTrip(t *testing.T) {
	argv := []string{"/bin/sh", "-c", "echo hello world"}

	b := EncodeArgv(argv)
	restored, err := b.Argv()
	if err != nil {
		t.Fatalf("Argv: %v", err)
	}
	if len(restored) != len(argv) {
		t.Fatalf("Argv length = %d, want %d", len(restored), len(argv))
	}
	for i := range argv {
		if restored[i] != argv[i] {
			t.Errorf("argv[%d] = %q, want %q", i, restored[i], argv[i])
		}
	}
}

func TestArgvEmpty(t *testing.T) {
	restored, err := EncodeArgv(nil).Argv()
	if err != nil {
		t.Fatalf("Argv: %v", err)
	}
	if len(restored) != 0 {
		t.Errorf("Argv = %v, want empty", restored)
	}
}

func TestArgvGap(t *testing.T) {
	b := Bundle{"0": "first", "2": "third"}
	if _, err := b.Argv(); err == nil {
		t.Error("Argv accepted a bundle with a positional gap")
	}
}
