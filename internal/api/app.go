package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/handlers"

	"github.com/codepad-io/go-codepad/internal/config"
	"github.com/codepad-io/go-codepad/internal/server"
)

// CodepadApp is the HTTP boundary: the websocket upgrade endpoint plus the
// health and metrics routes. Everything room-related happens on the
// websocket; there is no REST surface for rooms or files.
type CodepadApp struct {
	log            *log.Logger
	mux            *http.Server
	cs             *server.CollabServer
	allowedOrigins []string
}

func NewCodepadApp(mux *http.ServeMux, logger *log.Logger, cs *server.CollabServer, cfg *config.Config) *CodepadApp {
	s := &CodepadApp{
		log:            logger,
		cs:             cs,
		allowedOrigins: cfg.AllowedOrigins,
	}

	mux.HandleFunc("GET /healthz", s.health)
	mux.Handle("GET /ws", http.HandlerFunc(s.serveWs))

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(handlers.CombinedLoggingHandler(logger.Writer(), h))

	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	s.mux = srv
	return s
}

// Handler returns the fully wrapped HTTP handler, for serving through a
// test server.
func (s *CodepadApp) Handler() http.Handler {
	return s.mux.Handler
}

func (s *CodepadApp) Start() error {
	s.log.Printf("starting server on %s\n", s.mux.Addr)
	return s.mux.ListenAndServe()
}

func (s *CodepadApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
