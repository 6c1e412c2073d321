// Copyright 2026 The Flux-IMP Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"errors"
	"fmt"
	"strconv"
)

// Bundle is a string-keyed key/value object. It is the unit of
// exchange for envelope headers and privilege-separation requests:
// opaque to the transport, deterministic on the wire.
//
// Values are restricted to what CBOR round-trips cleanly into an
// any-typed map: strings, integers, booleans, and nested bundles.
type Bundle map[string]any

// Errors returned by Bundle accessors.
var (
	ErrKeyMissing = errors.New("codec: bundle key missing")
	ErrWrongType  = errors.New("codec: bundle value has wrong type")
)

// EncodeBundle serializes a bundle to deterministic CBOR bytes.
func EncodeBundle(b Bundle) ([]byte, error) {
	data, err := Marshal(map[string]any(b))
	if err != nil {
		return nil, fmt.Errorf("codec: encoding bundle: %w", err)
	}
	return data, nil
}

// DecodeBundle deserializes CBOR bytes into a bundle. Fails if the
// top-level item is not a string-keyed map.
func DecodeBundle(data []byte) (Bundle, error) {
	var b map[string]any
	if err := Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("codec: decoding bundle: %w", err)
	}
	if b == nil {
		return nil, fmt.Errorf("codec: decoding bundle: not a map")
	}
	return Bundle(b), nil
}

// String returns the string stored under key.
func (b Bundle) String(key string) (string, error) {
	value, ok := b[key]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrKeyMissing, key)
	}
	s, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("%w: %q is not a string", ErrWrongType, key)
	}
	return s, nil
}

// Int64 returns the integer stored under key. CBOR decoding into an
// any-typed map yields int64 for negative and uint64 for non-negative
// integers; both are accepted.
func (b Bundle) Int64(key string) (int64, error) {
	value, ok := b[key]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrKeyMissing, key)
	}
	switch n := value.(type) {
	case int64:
		return n, nil
	case uint64:
		if n > 1<<63-1 {
			return 0, fmt.Errorf("%w: %q overflows int64", ErrWrongType, key)
		}
		return int64(n), nil
	case int:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("%w: %q is not an integer", ErrWrongType, key)
	}
}

// Sub returns the nested bundle stored under key.
func (b Bundle) Sub(key string) (Bundle, error) {
	value, ok := b[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrKeyMissing, key)
	}
	switch m := value.(type) {
	case map[string]any:
		return Bundle(m), nil
	case Bundle:
		return m, nil
	default:
		return nil, fmt.Errorf("%w: %q is not a bundle", ErrWrongType, key)
	}
}

// EncodeArgv flattens an argument vector into a bundle with positional
// keys "0", "1", ... so it can travel as a sub-bundle of a request.
func EncodeArgv(argv []string) Bundle {
	b := make(Bundle, len(argv))
	for i, arg := range argv {
		b[strconv.Itoa(i)] = arg
	}
	return b
}

// Argv reconstructs an argument vector from a bundle produced by
// EncodeArgv. Fails on a gap in the positional keys or a non-string
// element.
func (b Bundle) Argv() ([]string, error) {
	argv := make([]string, len(b))
	for i := range argv {
		arg, err := b.String(strconv.Itoa(i))
		if err != nil {
			return nil, fmt.Errorf("codec: argv bundle: %w", err)
		}
		argv[i] = arg
	}
	return argv, nil
}
