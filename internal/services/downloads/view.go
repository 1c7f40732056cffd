// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package downloads

import (
	"time"

	"github.com/threeeyedemu/emu/internal/models"
)

// GrantView is what the download page shows for a token.
type GrantView struct {
	ExpiresAt          time.Time          `json:"expiresAt"`
	Status             models.GrantStatus `json:"status"`
	Message            string             `json:"message,omitempty"`
	AppID              string             `json:"appId"`
	Platform           string             `json:"platform"`
	HoursRemaining     int                `json:"hoursRemaining"`
	DownloadsRemaining int                `json:"downloadsRemaining"`
	MaxDownloads       int                `json:"maxDownloads"`
	Valid              bool               `json:"valid"`
}

// View evaluates grant at now using the same predicate as redemption.
func View(grant *models.DownloadGrant, now time.Time) GrantView {
	status := grant.Status(now)
	v := GrantView{
		ExpiresAt:          grant.ExpiresAt,
		Status:             status,
		AppID:              grant.AppID,
		Platform:           grant.Platform,
		HoursRemaining:     max(0, int(grant.ExpiresAt.Sub(now)/time.Hour)),
		DownloadsRemaining: grant.RemainingDownloads(),
		MaxDownloads:       grant.MaxDownloads,
		Valid:              status == models.GrantStatusValid,
	}

	switch status {
	case models.GrantStatusExpired:
		v.Message = Message(ErrExpired, grant.MaxDownloads)
	case models.GrantStatusExhausted:
		v.Message = Message(ErrExhausted, grant.MaxDownloads)
	}
	return v
}

// Now is the service clock, for callers that build views.
func (s *Service) Now() time.Time {
	return s.now()
}
