// Copyright 2026 The Flux-IMP Authors
// SPDX-License-Identifier: Apache-2.0

package main

import "errors"

// PAM session support requires a cgo build against libpam. This build
// carries the stub: pam-support=true in [exec] is a configuration
// error until a PAM-enabled build replaces these two functions.

// pamSetup opens a PAM session for the target user.
func pamSetup(username string) error {
	return errors.New("pam-support=true, but flux-imp was built without PAM support")
}

// pamFinish closes the PAM session opened by pamSetup.
func pamFinish() {}
