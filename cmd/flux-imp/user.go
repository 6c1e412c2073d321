// Copyright 2026 The Flux-IMP Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os/user"
	"strconv"
	"syscall"
)

// targetUser is the resolved identity the job shell runs under.
type targetUser struct {
	UID      uint32
	GID      uint32
	Username string
	Home     string
	Groups   []uint32
}

// lookupUser resolves uid to a full identity including supplementary
// groups.
func lookupUser(uid int64) (*targetUser, error) {
	entry, err := user.LookupId(strconv.FormatInt(uid, 10))
	if err != nil {
		return nil, err
	}
	gid, err := strconv.ParseUint(entry.Gid, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("parsing gid %q: %w", entry.Gid, err)
	}

	groupIDs, err := entry.GroupIds()
	if err != nil {
		return nil, fmt.Errorf("listing groups for %s: %w", entry.Username, err)
	}
	groups := make([]uint32, 0, len(groupIDs))
	for _, id := range groupIDs {
		g, err := strconv.ParseUint(id, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("parsing group id %q: %w", id, err)
		}
		groups = append(groups, uint32(g))
	}

	return &targetUser{
		UID:      uint32(uid),
		GID:      uint32(gid),
		Username: entry.Username,
		Home:     entry.HomeDir,
		Groups:   groups,
	}, nil
}

// credential builds the process credential that switches the job
// shell child to this user before exec: real, effective, and saved
// ids all set, supplementary groups initialized.
func (u *targetUser) credential() *syscall.Credential {
	return &syscall.Credential{
		Uid:    u.UID,
		Gid:    u.GID,
		Groups: u.Groups,
	}
}

// currentUsername returns the username of the real (calling) uid.
func currentUsername() (string, error) {
	entry, err := user.Current()
	if err != nil {
		return "", err
	}
	return entry.Username, nil
}
