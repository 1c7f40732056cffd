// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"net/http"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/threeeyedemu/emu/internal/api/ctxkeys"
	"github.com/threeeyedemu/emu/internal/models"
	"github.com/threeeyedemu/emu/internal/services/checkout"
	"github.com/threeeyedemu/emu/internal/services/downloads"
)

type CheckoutHandler struct {
	service *checkout.Service
}

func NewCheckoutHandler(service *checkout.Service) *CheckoutHandler {
	return &CheckoutHandler{service: service}
}

type checkoutResponse struct {
	Receipts []checkout.Receipt `json:"receipts"`
}

// Complete runs a simulated checkout for the caller.
func (h *CheckoutHandler) Complete(w http.ResponseWriter, r *http.Request) {
	var order checkout.Order
	if !DecodeJSON(w, r, &order) {
		return
	}
	order.UserID = ctxkeys.UserIDFrom(r.Context())

	receipts, err := h.service.Complete(r.Context(), order)
	switch {
	case err == nil:
		RespondJSON(w, http.StatusCreated, checkoutResponse{Receipts: receipts})
	case errors.Is(err, downloads.ErrAppNotFound):
		RespondError(w, http.StatusNotFound, "App not found")
	case errors.Is(err, models.ErrUnsupportedPlatform),
		errors.Is(err, checkout.ErrEmptyOrder),
		errors.Is(err, checkout.ErrMissingCustomer):
		RespondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, downloads.ErrPersistence):
		RespondError(w, http.StatusServiceUnavailable, "Download links are temporarily unavailable")
	default:
		log.Error().Err(err).Str("userId", order.UserID).Msg("Checkout failed")
		RespondError(w, http.StatusInternalServerError, "Checkout failed")
	}
}
