package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/capitalize-ai/shopping-assistant/internal/middleware"
	"github.com/capitalize-ai/shopping-assistant/pkg/logger"
)

// anonymousBurst multiplies the per-user limit for the per-IP limit applied
// before authentication.
const anonymousBurst = 10

// RouterConfig holds the HTTP settings the router needs.
type RouterConfig struct {
	JWTSecret         string
	AllowedOrigins    []string
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

// Handlers groups the endpoint handlers mounted by NewRouter.
type Handlers struct {
	Health       *HealthHandler
	Flow         *FlowHandler
	Events       *EventsHandler
	Personas     *PersonaHandler
	Conversation *ConversationHandler
	Speech       *SpeechHandler
}

// NewRouter builds the API router.
func NewRouter(cfg RouterConfig, h Handlers, log *logger.Logger) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	// Health endpoints (no auth required)
	r.Get("/health", h.Health.Health)
	r.Get("/ready", h.Health.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// API routes with authentication
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RateLimit(cfg.RateLimitRequests*anonymousBurst, cfg.RateLimitWindow))
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.UserRateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		// Guided flow
		r.Route("/flow", func(r chi.Router) {
			r.Get("/", h.Flow.Current)
			r.Post("/advance", h.Flow.Advance)
			r.Post("/abandon", h.Flow.Abandon)
			r.Post("/restart", h.Flow.Restart)
			r.Get("/options", h.Flow.Options)
			r.Get("/sessions", h.Flow.Sessions)
			r.Get("/events", h.Events.Stream)
		})

		// Personas
		r.Route("/personas", func(r chi.Router) {
			r.Get("/", h.Personas.List)
			r.Get("/recognize", h.Personas.Recognize)
			r.With(middleware.RequireScope(middleware.ScopePersonasWrite)).Post("/", h.Personas.Create)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.Personas.Get)
				r.Group(func(r chi.Router) {
					r.Use(middleware.RequireScope(middleware.ScopePersonasWrite))
					r.Patch("/", h.Personas.Update)
					r.Delete("/", h.Personas.Delete)
				})
			})
		})

		// Conversation history
		r.Get("/conversation", h.Conversation.List)

		// Speech proxy
		r.Route("/speech", func(r chi.Router) {
			r.Post("/synthesize", h.Speech.Synthesize)
			r.Post("/transcribe", h.Speech.Transcribe)
		})
	})

	return r
}
