// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package ctxkeys

import "context"

// Key is a typed context key to avoid collisions across packages.
type Key int

const (
	UserID Key = iota
)

// WithUserID stores the caller identity set by the identity proxy.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserID, userID)
}

// UserIDFrom returns the caller identity, or "" for anonymous requests.
func UserIDFrom(ctx context.Context) string {
	v, _ := ctx.Value(UserID).(string)
	return v
}
