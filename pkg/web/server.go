// Package web is the HTTP surface: the live MJPEG feed, the attendance
// table and its JSON and xlsx variants, and the admin actions.
package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/MrCodeEU/rollcall/pkg/enrollment"
	"github.com/MrCodeEU/rollcall/pkg/ledger"
	"github.com/MrCodeEU/rollcall/pkg/logging"
	"github.com/MrCodeEU/rollcall/pkg/training"
)

// Options wires the server to the rest of the application.
type Options struct {
	Addr string
	// AdminPasswordHash is a bcrypt hash guarding the POST endpoints.
	// Empty leaves them open.
	AdminPasswordHash string

	Ledger *ledger.Ledger
	// Stream serves /video_feed. Nil answers 503.
	Stream http.Handler
	// ReloadModel reloads the recognition model. Nil answers 503.
	ReloadModel func() error
	// TrainModel retrains from the stored samples; ReloadModel runs after
	// it succeeds. Nil answers 503.
	TrainModel func(ctx context.Context) (training.Summary, error)
	// Enroll captures count samples of an identity, zero meaning the
	// configured default. It must not wait for a busy camera. Nil answers 503.
	Enroll func(ctx context.Context, id int64, count int) (enrollment.Result, error)
	// ModelLoaded reports recognizer state for /healthz.
	ModelLoaded func() bool

	Now func() time.Time
}

// Server represents the web server
type Server struct {
	opts       Options
	router     *chi.Mux
	httpServer *http.Server
}

// NewServer creates a new web server
func NewServer(opts Options) *Server {
	if opts.Now == nil {
		opts.Now = time.Now
	}

	r := chi.NewRouter()
	s := &Server{
		opts:   opts,
		router: r,
	}

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(requestLogger)
	r.Use(chiMiddleware.Recoverer)

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:        opts.Addr,
		Handler:     r,
		ReadTimeout: 30 * time.Second,
		// no WriteTimeout: /video_feed streams indefinitely
		IdleTimeout: 60 * time.Second,
	}
	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	logging.Component("web").Infof("Starting web server on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	logging.Component("web").Info("Shutting down web server...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

// Router returns the chi router for testing
func (s *Server) Router() *chi.Mux {
	return s.router
}

// requestLogger logs one line per request through logrus.
func requestLogger(next http.Handler) http.Handler {
	log := logging.Component("web")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		log.WithField("request_id", chiMiddleware.GetReqID(r.Context())).
			Debugf("%s %s %d %dB %s", r.Method, r.URL.Path, ww.Status(), ww.BytesWritten(), time.Since(start).Round(time.Microsecond))
	})
}
