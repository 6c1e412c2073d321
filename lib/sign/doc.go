// Copyright 2026 The Flux-IMP Authors
// SPDX-License-Identifier: Apache-2.0

// Package sign wraps opaque payloads in the textual signature envelope
//
//	HEADER.PAYLOAD.SIGNATURE
//
// where HEADER and PAYLOAD are padded base64 of binary blobs and
// SIGNATURE is mechanism-defined opaque ASCII. The header is a CBOR
// bundle carrying the format version, the mechanism name, the claimed
// userid, and any mechanism-specific fields added during preparation.
//
// Three mechanisms are built in: "none" (tests and replay only),
// "munge" (shared secret via an external authentication daemon), and
// "curve" (Ed25519 detached signature authenticated against a local
// keystore keyed by uid).
//
// All operations go through a security.Context: configuration comes
// from its [sign] subtree, and failure messages are recorded in its
// last-error slot. The engine and its scratch buffers are cached on
// the context and are strictly single-threaded.
package sign
