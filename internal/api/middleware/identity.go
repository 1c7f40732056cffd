// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/threeeyedemu/emu/internal/api/ctxkeys"
)

// UserHeader carries the caller identity. The identity proxy in front of emu
// authenticates the user and sets it; emu trusts it as is.
const UserHeader = "X-User-ID"

const maxUserIDLength = 128

// Identity copies UserHeader into the request context.
func Identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get(UserHeader))
		if userID != "" && len(userID) <= maxUserIDLength {
			r = r.WithContext(ctxkeys.WithUserID(r.Context(), userID))
		}
		next.ServeHTTP(w, r)
	})
}

// RequireUser rejects anonymous requests with 401.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ctxkeys.UserIDFrom(r.Context()) == "" {
			writeError(w, http.StatusUnauthorized, "Authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
