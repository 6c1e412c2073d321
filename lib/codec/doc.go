// Copyright 2026 The Flux-IMP Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the CBOR serialization used for every
// key/value bundle that crosses a trust boundary: signed envelope
// headers, the privilege-separation request frame, and the exec
// request bundle.
//
// Encoding uses Core Deterministic Encoding (RFC 8949 §4.2): sorted
// map keys, smallest integer encoding, no indefinite-length items.
// The same logical bundle always produces identical bytes, which is a
// hard requirement for anything that ends up under a signature.
package codec
