package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/openbridge/dex-middleware/pkg/app/httpserver"
)

const defaultRequestTimeout = 60 // seconds

// NewRouter assembles the offer API router.
func NewRouter(h *Handler, verifier *TokenVerifier) chi.Router {
	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(time.Second * defaultRequestTimeout))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(verifier.Middleware)

		r.Post("/offers", httpserver.HandleError(h.createOffer))
		r.Delete("/offers/{offerID}", httpserver.HandleError(h.deleteOffer))
		r.Post("/anchors", httpserver.HandleError(h.createAnchorTask))
		r.Post("/swaps", httpserver.HandleError(h.createSwapRefund))
		r.Get("/tasks/{taskID}", httpserver.HandleError(h.taskStatus))
	})

	return r
}
