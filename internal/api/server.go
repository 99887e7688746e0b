package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dialcast/dialcast/internal/api/middleware"
	"github.com/dialcast/dialcast/internal/config"
	"github.com/dialcast/dialcast/internal/database"
	"github.com/dialcast/dialcast/internal/dialer"
	"github.com/dialcast/dialcast/internal/webhook"
)

// Deps bundles everything the HTTP layer needs.
type Deps struct {
	Config     *config.Config
	Campaigns  database.CampaignRepository
	Items      database.QueueItemRepository
	Numbers    database.PhoneNumberRepository
	Trunks     database.SipTrunkRepository
	DNC        database.DNCRepository
	Dispatcher *dialer.Dispatcher
	Reconciler *dialer.Reconciler
	DTMF       *dialer.DTMFHandler
	Signer     *webhook.Signer
	Encryptor  *database.Encryptor
	Logger     *slog.Logger
}

// Server holds HTTP handler dependencies and the chi router.
type Server struct {
	router *chi.Mux
	deps   Deps
	logger *slog.Logger
}

// NewServer creates the HTTP handler with all routes mounted.
func NewServer(deps Deps) *Server {
	s := &Server{
		router: chi.NewRouter(),
		deps:   deps,
		logger: deps.Logger.With("subsystem", "api"),
	}

	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// routes configures all middleware and mounts all route groups.
func (s *Server) routes() {
	r := s.router

	// Global middleware stack.
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.StructuredLogger(s.logger))
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		// Provider callbacks authenticate with the per-call token minted
		// at placement, not the operator bearer token.
		r.Route("/webhooks", func(r chi.Router) {
			r.Post("/status", s.handleStatusWebhook)
			r.Post("/dtmf", s.handleDTMFWebhook)
		})

		// Operator control surface.
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireToken(s.deps.Config.APITokenHash))

			r.Route("/campaigns", func(r chi.Router) {
				r.Get("/", s.handleListCampaigns)
				r.Post("/", s.handleCreateCampaign)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetCampaign)
					r.Put("/", s.handleUpdateCampaign)
					r.Post("/start", s.handleStartCampaign)
					r.Post("/stop", s.handleStopCampaign)
					r.Get("/stats", s.handleCampaignStats)
					r.Get("/inspect", s.handleInspectCampaign)
					r.Post("/queue", s.handleEnqueue)
				})
			})

			r.Route("/numbers", func(r chi.Router) {
				r.Get("/", s.handleListNumbers)
				r.Post("/", s.handleCreateNumber)
				r.Put("/{id}", s.handleUpdateNumber)
			})

			r.Route("/trunks", func(r chi.Router) {
				r.Get("/", s.handleListTrunks)
				r.Post("/", s.handleCreateTrunk)
				r.Put("/{id}", s.handleUpdateTrunk)
				r.Delete("/{id}", s.handleDeleteTrunk)
			})

			r.Route("/dnc", func(r chi.Router) {
				r.Get("/", s.handleListDNC)
				r.Get("/check", s.handleCheckDNC)
			})
		})
	})

	s.logger.Info("api routes mounted")
}

// handleHealth returns basic health status. Unauthenticated.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
