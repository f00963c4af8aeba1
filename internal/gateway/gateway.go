// Package gateway exposes the recognition service over HTTP.
package gateway

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/Ddahuang324/IeltsSpeking-Assistant/internal/config"
	"github.com/Ddahuang324/IeltsSpeking-Assistant/internal/engine"
	"github.com/Ddahuang324/IeltsSpeking-Assistant/internal/session"
)

// Server holds the HTTP surface: the streaming coordinator plus the single
// process-wide recognizer used by the legacy single-shot /recognize path.
type Server struct {
	cfg      config.Config
	log      *slog.Logger
	engine   engine.Engine
	coord    *session.Coordinator
	recorder session.Recorder // may be nil
	ready    func() bool

	// mu guards the legacy handle; /recognize and /reset share it.
	mu     sync.Mutex
	legacy engine.Handle
}

func New(cfg config.Config, eng engine.Engine, coord *session.Coordinator, recorder session.Recorder, ready func() bool, logger *slog.Logger) *Server {
	return &Server{
		cfg:      cfg,
		log:      logger.With(slog.String("component", "gateway")),
		engine:   eng,
		coord:    coord,
		recorder: recorder,
		ready:    ready,
	}
}

// Router assembles the chi router. metricsHandler, when non-nil, is mounted
// on /metrics.
func (s *Server) Router(metricsHandler http.Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(s.traceID)
	r.Use(s.requestLogger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Post("/recognize", s.handleRecognize)
	r.Post("/recognize_stream", s.handleRecognizeStream)
	r.Post("/reset", s.handleReset)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	return r
}

func (s *Server) engineLoaded() bool {
	return s.engine != nil && s.engine.Loaded()
}

// legacyHandle returns the shared single-shot recognizer, creating it on
// first use. Caller must hold s.mu.
func (s *Server) legacyHandle() (engine.Handle, error) {
	if s.legacy != nil {
		return s.legacy, nil
	}
	h, err := s.engine.NewHandle(s.cfg.Engine.SampleRate)
	if err != nil {
		return nil, err
	}
	s.legacy = h
	return h, nil
}
