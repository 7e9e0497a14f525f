/**
 * @description
 * HTTP router setup for the BeefChain sync service using go-chi/chi. Wallet
 * routes live under /beefchain; server-to-server routes under
 * /beefchain/internal.
 */
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates a new Chi router and registers the BeefChain routes.
func NewRouter(h *Handler, walletSecret, internalKey string, gatherer prometheus.Gatherer) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	// Browser wallets call from arbitrary dapp origins and never send cookies.
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Internal-API-Key"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/beefchain", func(r chi.Router) {
		r.Route("/internal", func(r chi.Router) {
			r.Use(InternalAuthMiddleware(internalKey))
			r.Post("/reconcile", h.handleInternalReconcile)
		})

		r.Group(func(r chi.Router) {
			r.Use(WalletAuthMiddleware(walletSecret))

			r.Post("/animals", h.handleCreateAnimal)
			r.Post("/animals/{id}/transfer", h.handleTransferAnimal)
			r.Post("/animals/{id}/accept", h.handleAcceptAnimal)
			r.Post("/animals/{id}/process", h.handleProcessAnimal)
			r.Post("/animals/{id}/cuts", h.handleCreateCut)
			r.Post("/animals/{id}/cuts/transfer", h.handleTransferCuts)
			r.Post("/animals/{id}/cuts/{cutID}/certify", h.handleCertifyCut)
			r.Post("/animals/{id}/cuts/{cutID}/qr", h.handleGenerateCutQR)

			r.Post("/batches", h.handleCreateBatch)
			r.Post("/batches/{id}/animals", h.handleAddAnimalsToBatch)
			r.Post("/batches/{id}/transfer", h.handleTransferBatch)
			r.Post("/batches/{id}/accept", h.handleAcceptBatch)
			r.Post("/batches/{id}/process", h.handleProcessBatch)

			r.Get("/pending", h.handlePending)
			r.Get("/producer", h.handleProducerOverview)
			r.Post("/reconcile", h.handleReconcile)
			r.Get("/payments", h.handleListPayments)
		})
	})

	return r
}
