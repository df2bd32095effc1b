package http

import (
	"net/http"

	"github.com/Wyydra/ya-subscriber/internal/adapter/driven/gateway/ws"
	"github.com/Wyydra/ya-subscriber/internal/core/service"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Handler struct {
	Subscriptions *service.SubscriptionService
	Hub           *ws.Hub
}

func NewHandler(subscriptions *service.SubscriptionService, hub *ws.Hub) *Handler {
	return &Handler{
		Subscriptions: subscriptions,
		Hub:           hub,
	}
}

func (h *Handler) NewRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/stats", h.Stats)
		r.Get("/history", h.History)
		r.Put("/auto-subscribe", h.SetAutoSubscribe)

		r.Get("/participants", h.ListParticipants)
		r.Get("/participants/{id}", h.GetParticipant)
		r.Post("/participants/{id}/{media}", h.SubscribeMedia)
		r.Delete("/participants/{id}/{media}", h.UnsubscribeMedia)
	})

	r.Get("/ws", h.ServeWS)

	return r
}
