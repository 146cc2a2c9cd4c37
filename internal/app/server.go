package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/knowbase/knowbase/internal/answer"
	"github.com/knowbase/knowbase/internal/api/handlers"
	appMiddleware "github.com/knowbase/knowbase/internal/api/middlewares"
	"github.com/knowbase/knowbase/internal/config"
	"github.com/knowbase/knowbase/internal/core"
	"github.com/knowbase/knowbase/internal/logging"
	"github.com/knowbase/knowbase/internal/training"
)

// Server wraps the HTTP server instance and its handlers.
type Server struct {
	httpServer *http.Server
	logger     logging.Logger
}

// NewServer builds and wires all routes.
func NewServer(cfg *config.Config, dbc core.DbClient, obj core.ObjectClient, queue training.JobQueue, streamer *answer.Streamer, logger logging.Logger) *Server {
	authHandler := handlers.NewAuthHandler(dbc, cfg.JWTSecret, logger)
	sourceHandler := handlers.NewSourceHandler(dbc, obj, logger)
	trainingHandler := handlers.NewTrainingHandler(dbc, queue, logger)
	chatHandler := handlers.NewChatHandler(dbc, streamer, logger)

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(5 * time.Minute))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Route("/api", func(api chi.Router) {
		// public endpoints
		api.Post("/signup", authHandler.Signup)
		api.Post("/login", authHandler.Login)

		// protected endpoints
		api.Group(func(protected chi.Router) {
			protected.Use(appMiddleware.JWT(cfg.JWTSecret))

			protected.Post("/sources/upload", sourceHandler.Upload)
			protected.Post("/sources/url", sourceHandler.RegisterURL)
			protected.Get("/sources", sourceHandler.List)
			protected.Get("/sources/{source_id}/download", sourceHandler.Download)

			protected.Post("/sources/train", trainingHandler.Train)
			protected.Get("/training-jobs/{job_id}", trainingHandler.JobStatus)

			protected.Post("/chats/query", chatHandler.Query)
			protected.Get("/chats", chatHandler.ListChats)
			protected.Get("/chats/{chat_id}/messages", chatHandler.ListMessages)
		})
	})

	httpSrv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	return &Server{httpServer: httpSrv, logger: logger}
}

// Start runs the HTTP server until it is shut down.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.httpServer.Shutdown(ctx)
}
