// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/threeeyedemu/emu/internal/api/ctxkeys"
	"github.com/threeeyedemu/emu/internal/api/middleware"
	"github.com/threeeyedemu/emu/internal/models"
	"github.com/threeeyedemu/emu/internal/services/downloads"
)

type DownloadsHandler struct {
	service *downloads.Service
}

func NewDownloadsHandler(service *downloads.Service) *DownloadsHandler {
	return &DownloadsHandler{service: service}
}

type redeemResponse struct {
	URL string `json:"url"`
}

type userDownload struct {
	downloads.GrantView
	PurchaseID      string    `json:"purchaseId"`
	CreatedAt       time.Time `json:"createdAt"`
	DownloadPageURL string    `json:"downloadPageUrl"`
}

// GetDownload shows the state of a download link without consuming it.
func (h *DownloadsHandler) GetDownload(w http.ResponseWriter, r *http.Request) {
	token, ok := ParseStringParam(w, r, "token", "download token")
	if !ok {
		return
	}

	grant, err := h.service.GetDownloadByToken(r.Context(), token)
	if err != nil {
		h.respondServiceError(w, err, 0)
		return
	}

	RespondJSON(w, http.StatusOK, downloads.View(grant, h.service.Now()))
}

// Redeem spends one download and returns the asset URL.
func (h *DownloadsHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	token, ok := ParseStringParam(w, r, "token", "download token")
	if !ok {
		return
	}

	// anonymous callers get the service's per-token key
	url, err := h.service.ProcessDownload(r.Context(), token, ctxkeys.UserIDFrom(r.Context()))
	if err != nil {
		h.respondServiceError(w, err, h.service.Config().MaxDownloads)
		return
	}

	RespondJSON(w, http.StatusOK, redeemResponse{URL: url})
}

// ListMine lists the caller's download links.
func (h *DownloadsHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	grants, err := h.service.ListUserDownloads(r.Context(), ctxkeys.UserIDFrom(r.Context()))
	if err != nil {
		log.Error().Err(err).Msg("Failed to list user downloads")
		RespondError(w, http.StatusInternalServerError, "Failed to list downloads")
		return
	}

	now := h.service.Now()
	out := make([]userDownload, 0, len(grants))
	for _, g := range grants {
		out = append(out, userDownload{
			GrantView:       downloads.View(g, now),
			PurchaseID:      g.PurchaseID,
			CreatedAt:       g.CreatedAt,
			DownloadPageURL: h.service.DownloadPageURL(g.Token),
		})
	}

	RespondJSON(w, http.StatusOK, out)
}

// Platforms lists the platforms an app ships builds for.
func (h *DownloadsHandler) Platforms(w http.ResponseWriter, r *http.Request) {
	appID, ok := ParseStringParam(w, r, "appID", "app ID")
	if !ok {
		return
	}

	platforms, err := h.service.AppPlatforms(r.Context(), appID)
	if err != nil {
		h.respondServiceError(w, err, 0)
		return
	}

	RespondJSON(w, http.StatusOK, map[string][]string{"platforms": platforms})
}

type createVersionRequest struct {
	Version  string `json:"version" validate:"required"`
	Platform string `json:"platform" validate:"required"`
	FileURL  string `json:"fileUrl" validate:"required,url"`
	FileSize int64  `json:"fileSize" validate:"gte=0"`
	Active   *bool  `json:"active"`
}

// CreateVersion registers an uploaded build.
func (h *DownloadsHandler) CreateVersion(w http.ResponseWriter, r *http.Request) {
	appID, ok := ParseStringParam(w, r, "appID", "app ID")
	if !ok {
		return
	}

	var req createVersionRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}

	version, err := h.service.RegisterAppVersion(r.Context(), &models.AppVersion{
		AppID:    appID,
		Version:  req.Version,
		Platform: req.Platform,
		FileURL:  req.FileURL,
		FileSize: req.FileSize,
		Active:   active,
	})
	switch {
	case err == nil:
		RespondJSON(w, http.StatusCreated, version)
	case errors.Is(err, downloads.ErrAppNotFound):
		RespondError(w, http.StatusNotFound, "App not found")
	case errors.Is(err, models.ErrInvalidVersion), errors.Is(err, models.ErrUnsupportedPlatform):
		RespondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, models.ErrAppVersionExists):
		RespondError(w, http.StatusConflict, "Version already exists for this platform")
	default:
		log.Error().Err(err).Str("appId", appID).Msg("Failed to register app version")
		RespondError(w, http.StatusInternalServerError, "Failed to register app version")
	}
}

// respondServiceError maps download errors to status codes. Expired and
// exhausted links are gone for good, so they are 410 rather than 404.
func (h *DownloadsHandler) respondServiceError(w http.ResponseWriter, err error, maxDownloads int) {
	message := downloads.Message(err, maxDownloads)

	var throttle *downloads.ThrottleError
	switch {
	case errors.As(err, &throttle):
		middleware.SetRetryAfter(w, throttle.RetryAfter)
		RespondError(w, http.StatusTooManyRequests, message)
	case errors.Is(err, downloads.ErrThrottled):
		RespondError(w, http.StatusTooManyRequests, message)
	case errors.Is(err, downloads.ErrExpired), errors.Is(err, downloads.ErrExhausted):
		RespondError(w, http.StatusGone, message)
	case errors.Is(err, downloads.ErrNotFound):
		RespondError(w, http.StatusNotFound, message)
	case errors.Is(err, downloads.ErrAppNotFound):
		RespondError(w, http.StatusNotFound, "App not found")
	default:
		log.Error().Err(err).Msg("Download request failed")
		RespondError(w, http.StatusInternalServerError, message)
	}
}
