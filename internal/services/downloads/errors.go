// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package downloads

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

var (
	ErrNotFound    = errors.New("download link not found")
	ErrAppNotFound = errors.New("app not found")
	ErrExpired     = errors.New("download link has expired")
	ErrExhausted   = errors.New("download limit reached")
	ErrThrottled   = errors.New("too many download attempts")
	ErrPersistence = errors.New("download grant could not be stored")
)

// ThrottleError is returned when the download limiter rejects a caller.
// It matches ErrThrottled.
type ThrottleError struct {
	RetryAfter time.Duration
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("%s, retry after %s", ErrThrottled, e.RetryAfter.Round(time.Second))
}

func (e *ThrottleError) Is(target error) bool {
	return target == ErrThrottled
}

// Message returns the customer facing text for a redemption error.
func Message(err error, maxDownloads int) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrThrottled):
		return "Too many download attempts, please try again later"
	case errors.Is(err, ErrExpired):
		return "This download link has expired"
	case errors.Is(err, ErrExhausted):
		return fmt.Sprintf("Download limit reached (%d downloads)", maxDownloads)
	case errors.Is(err, ErrNotFound):
		return "Invalid or expired download link"
	default:
		return "Download failed, please try again"
	}
}
