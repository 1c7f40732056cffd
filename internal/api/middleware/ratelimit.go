// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/threeeyedemu/emu/internal/api/ctxkeys"
	"github.com/threeeyedemu/emu/internal/ratelimit"
)

type KeyFunc func(r *http.Request) string

// CallerKey keys requests by user id, falling back to the client address.
// chi's RealIP middleware is expected to have rewritten RemoteAddr when emu
// runs behind a proxy.
func CallerKey(r *http.Request) string {
	if userID := ctxkeys.UserIDFrom(r.Context()); userID != "" {
		return "user:" + userID
	}

	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return "ip:" + host
	}
	if r.RemoteAddr != "" {
		return "ip:" + r.RemoteAddr
	}
	return "unknown"
}

// RateLimit gates requests through limiter. Rejected requests get 429 with
// Retry-After in whole seconds.
func RateLimit(limiter *ratelimit.Limiter, keyFn KeyFunc) func(http.Handler) http.Handler {
	if keyFn == nil {
		keyFn = CallerKey
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := limiter.Allow(r.Context(), keyFn(r))

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))

			if !d.Allowed {
				SetRetryAfter(w, d.RetryAfter)
				writeError(w, http.StatusTooManyRequests, "Too many requests, please try again later")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// SetRetryAfter writes d rounded up to whole seconds, at least 1.
func SetRetryAfter(w http.ResponseWriter, d time.Duration) {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))
}
