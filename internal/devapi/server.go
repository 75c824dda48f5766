package devapi

import (
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httplog"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const (
	accessTTL     = time.Hour
	refreshTTL    = 24 * time.Hour
	maxBodyRunes  = 500
	maxUploadSize = 5 << 20
)

// Server bundles the chat API handlers, the websocket hub and metrics.
type Server struct {
	store     Store
	hub       *Hub
	uploadDir string
	log       zerolog.Logger
	metrics   *Metrics
	limiter   *limiterPool
	requests  bool
}

type Option func(*Server)

// WithLogger sets the structured logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithUploadDir sets where attachment files are written.
func WithUploadDir(dir string) Option {
	return func(s *Server) { s.uploadDir = dir }
}

// WithLoginRate limits login attempts per client address.
func WithLoginRate(perSecond float64, burst int) Option {
	return func(s *Server) { s.limiter = newLimiterPool(perSecond, burst) }
}

// WithRequestLog adds httplog's request logger in front of the router.
func WithRequestLog() Option {
	return func(s *Server) { s.requests = true }
}

// New creates a Server backed by store.
func New(store Store, opts ...Option) *Server {
	s := &Server{
		store:     store,
		uploadDir: "uploads",
		log:       zerolog.Nop(),
		metrics:   &Metrics{},
		limiter:   newLimiterPool(1, 5),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.hub = NewHub(s.log.With().Str("component", "hub").Logger())
	return s
}

// Hub exposes the websocket hub.
func (s *Server) Hub() *Hub { return s.hub }

// MetricsSnapshot returns the live counters.
func (s *Server) MetricsSnapshot() *Metrics { return s.metrics }

// Router wires up chi routes, middleware and handlers.
func (s *Server) Router() http.Handler {
	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		s.log.Warn().Err(err).Str("dir", s.uploadDir).Msg("upload dir unavailable")
	}

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Authorization"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	if s.requests {
		r.Use(httplog.RequestLogger(httplog.NewLogger("devapi", httplog.Options{JSON: false})))
	}
	r.Use(s.loggingMiddleware())

	r.Post("/login", s.loginHandler())
	r.Post("/refresh", s.refreshHandler())
	r.Post("/register", s.registerHandler())
	r.Get("/healthz", s.healthHandler())
	r.Get("/ws", s.streamHandler())
	r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry(s.hub.Connected), promhttp.HandlerOpts{}))
	r.Handle("/uploads/*", http.StripPrefix("/uploads/", http.FileServer(http.Dir(s.uploadDir))))

	r.Group(func(r chi.Router) {
		r.Use(s.authenticated())
		r.Get("/users", s.usersHandler())
		r.Post("/chat/messages", s.createMessageHandler())
		r.Put("/chat/messages/{id}", s.updateMessageHandler())
		r.Delete("/chat/messages/{id}", s.deleteMessageHandler())
		r.Get("/chat/messages/{id}", s.historyHandler())
	})
	return r
}
