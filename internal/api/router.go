// Package api exposes the question pool over HTTP.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/Shivika2934/labquestion/internal/auth"
	"github.com/Shivika2934/labquestion/internal/pool"
	"github.com/Shivika2934/labquestion/internal/users"
)

// Check reports whether a dependency is reachable.
type Check func(ctx context.Context) error

// Deps holds the services behind the HTTP API.
type Deps struct {
	Catalog   *pool.Catalog
	Allocator *pool.Allocator
	Tracker   *pool.Tracker
	Ingestor  *pool.Ingestor
	Users     *users.Service
	Tokens    *auth.Tokens

	// Checks run concurrently on /readyz, keyed by dependency name.
	Checks      map[string]Check
	CORSOrigins []string
	// DefaultGenerateCount is used when a generate request omits count.
	DefaultGenerateCount int
	// FeedInterval is how often the websocket feed polls pool stats.
	FeedInterval time.Duration
}

type handler struct {
	Deps
}

// NewRouter builds the HTTP handler.
func NewRouter(d Deps) http.Handler {
	if d.DefaultGenerateCount <= 0 {
		d.DefaultGenerateCount = 5
	}
	if d.FeedInterval <= 0 {
		d.FeedInterval = 2 * time.Second
	}
	h := &handler{Deps: d}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, requestLogger, middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", h.healthz)
	r.Get("/readyz", h.readyz)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/register", h.register)
		r.Post("/auth/login", h.login)

		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware(d.Tokens))

			r.Get("/auth/me", h.me)

			r.Get("/topics", h.listTopics)
			r.Post("/topics", h.createTopic)
			r.Route("/topics/{topicID}", func(r chi.Router) {
				r.Get("/", h.getTopic)
				r.Delete("/", h.deleteTopic)
				r.Get("/questions", h.listQuestions)
				r.Post("/questions", h.ingestQuestions)
				r.Post("/generate", h.generateQuestions)
				r.Post("/assign", h.assign)
				r.Get("/pool", h.poolStats)
				r.Get("/pool/ws", h.poolFeed)
			})

			r.Get("/assignments", h.listAssignments)
			r.Get("/assignments/{assignmentID}", h.getAssignment)
			r.Post("/assignments/{assignmentID}/complete", h.completeAssignment)

			r.Get("/admin/dashboard", h.dashboard)
			r.Get("/admin/assignments.xlsx", h.exportAssignments)
		})
	})

	return r
}

// requestLogger logs each request through slog.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		level := slog.LevelInfo
		if status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		slog.Log(r.Context(), level, "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
