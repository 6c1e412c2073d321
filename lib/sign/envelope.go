// Copyright 2026 The Flux-IMP Authors
// SPDX-License-Identifier: Apache-2.0

package sign

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/flux-framework/flux-imp/lib/codec"
)

// The envelope codec builds HEADER.PAYLOAD.SIGNATURE in three stages
// over a caller-owned scratch buffer, mirroring the unwrap split. The
// buffer keeps its capacity across calls so repeated wraps do not
// reallocate.

// headerEncodeCopy overwrites buf with the base64 header and returns
// the updated slice.
func headerEncodeCopy(buf []byte, header codec.Bundle) ([]byte, error) {
	raw, err := codec.EncodeBundle(header)
	if err != nil {
		return buf, err
	}
	return appendBase64(buf[:0], raw), nil
}

// payloadEncodeCat appends "." plus the base64 payload. Must follow
// headerEncodeCopy.
func payloadEncodeCat(buf, payload []byte) []byte {
	return appendBase64(append(buf, '.'), payload)
}

// signatureCat appends "." plus the pre-encoded signature, rejecting
// signatures that would corrupt the envelope framing. Must follow
// payloadEncodeCat.
func signatureCat(buf []byte, signature string) ([]byte, error) {
	if signature == "" {
		return buf, fmt.Errorf("%w: empty signature", ErrInvalidInput)
	}
	for i := 0; i < len(signature); i++ {
		c := signature[i]
		if c == '.' || c <= ' ' || c >= 0x7f {
			return buf, fmt.Errorf("%w: signature contains byte %#x", ErrInvalidInput, c)
		}
	}
	return append(append(buf, '.'), signature...), nil
}

func appendBase64(buf, raw []byte) []byte {
	offset := len(buf)
	n := base64.StdEncoding.EncodedLen(len(raw))
	buf = append(buf, make([]byte, n)...)
	base64.StdEncoding.Encode(buf[offset:], raw)
	return buf
}

// splitEnvelope splits input at the first two '.' separators. prefix
// is the HEADER.PAYLOAD span the signature covers.
func splitEnvelope(input string) (headerPart, payloadPart, signature, prefix string, err error) {
	first := strings.IndexByte(input, '.')
	if first < 0 {
		return "", "", "", "", fmt.Errorf("%w: envelope has no '.' separator", ErrInvalidInput)
	}
	second := strings.IndexByte(input[first+1:], '.')
	if second < 0 {
		return "", "", "", "", fmt.Errorf("%w: envelope has only one '.' separator", ErrInvalidInput)
	}
	second += first + 1
	return input[:first], input[first+1 : second], input[second+1:], input[:second], nil
}

// headerDecode base64-decodes and parses the header part.
func headerDecode(headerPart string) (codec.Bundle, error) {
	raw, err := base64.StdEncoding.DecodeString(headerPart)
	if err != nil {
		return nil, fmt.Errorf("%w: header base64: %v", ErrInvalidInput, err)
	}
	header, err := codec.DecodeBundle(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrInvalidInput, err)
	}
	return header, nil
}

// payloadDecodeCopy base64-decodes the payload part into buf,
// overwriting previous contents and growing the buffer as needed.
// Returns the updated buffer and the payload length.
func payloadDecodeCopy(buf []byte, payloadPart string) ([]byte, int, error) {
	n := base64.StdEncoding.DecodedLen(len(payloadPart))
	if cap(buf) < n {
		buf = make([]byte, n)
	}
	buf = buf[:cap(buf)]
	length, err := base64.StdEncoding.Decode(buf, []byte(payloadPart))
	if err != nil {
		return buf, 0, fmt.Errorf("%w: payload base64: %v", ErrInvalidInput, err)
	}
	return buf, length, nil
}
