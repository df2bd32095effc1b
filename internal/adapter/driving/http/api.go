package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/Wyydra/ya-subscriber/internal/core/domain"
	"github.com/Wyydra/ya-subscriber/internal/core/service"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

type errorDTO struct {
	Error string `json:"error"`
}

type subscriptionDTO struct {
	ParticipantID string                  `json:"participant_id"`
	Media         domain.MediaKind        `json:"media"`
	Subscribed    bool                    `json:"subscribed"`
	Info          *domain.ParticipantInfo `json:"info,omitempty"`
}

type autoSubscribeDTO struct {
	Enabled *bool `json:"enabled"`
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Subscriptions.SubscriptionStats(r.Context()))
}

func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	entries := h.Subscriptions.History(r.Context())
	if entries == nil {
		entries = []domain.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) ListParticipants(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Subscriptions.AllSubscriptionInfo())
}

func (h *Handler) GetParticipant(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	info, ok := h.Subscriptions.UserSubscriptionInfo(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorDTO{Error: "participant not found"})
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (h *Handler) SubscribeMedia(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	kind, err := domain.ParseMediaKind(chi.URLParam(r, "media"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorDTO{Error: err.Error()})
		return
	}

	var opts []service.SubscribeOption
	if v := r.URL.Query().Get("max_attempts"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, errorDTO{Error: "max_attempts must be a positive integer"})
			return
		}
		opts = append(opts, service.WithMaxAttempts(n))
	}

	if err := h.Subscriptions.Subscribe(r.Context(), id, kind, opts...); err != nil {
		writeJSON(w, statusFor(err), errorDTO{Error: err.Error()})
		return
	}
	h.writeSubscription(w, id, kind)
}

func (h *Handler) UnsubscribeMedia(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	kind, err := domain.ParseMediaKind(chi.URLParam(r, "media"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorDTO{Error: err.Error()})
		return
	}
	if err := h.Subscriptions.Unsubscribe(r.Context(), id, kind); err != nil {
		writeJSON(w, statusFor(err), errorDTO{Error: err.Error()})
		return
	}
	h.writeSubscription(w, id, kind)
}

func (h *Handler) SetAutoSubscribe(w http.ResponseWriter, r *http.Request) {
	var req autoSubscribeDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Enabled == nil {
		writeJSON(w, http.StatusBadRequest, errorDTO{Error: `body must be {"enabled": bool}`})
		return
	}
	h.Subscriptions.SetAutoSubscribe(*req.Enabled)
	writeJSON(w, http.StatusOK, autoSubscribeDTO{Enabled: req.Enabled})
}

func (h *Handler) writeSubscription(w http.ResponseWriter, id string, kind domain.MediaKind) {
	dto := subscriptionDTO{ParticipantID: id, Media: kind}
	if info, ok := h.Subscriptions.UserSubscriptionInfo(id); ok {
		dto.Info = &info
		dto.Subscribed = info.AudioSubscribed
		if kind == domain.MediaVideo {
			dto.Subscribed = info.VideoSubscribed
		}
	}
	writeJSON(w, http.StatusOK, dto)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrParticipantNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrMediaUnavailable):
		return http.StatusConflict
	case errors.Is(err, domain.ErrUnknownMediaKind):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrDestroyed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to write response")
	}
}
