package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MikeSquared-Agency/antiphon/internal/analysis"
	"github.com/MikeSquared-Agency/antiphon/internal/session"
)

type Server struct {
	router   *chi.Mux
	port     int
	sessions *session.Manager
	runner   *analysis.Runner
	httpSrv  *http.Server
}

func NewServer(port int, apiToken string, sessions *session.Manager, runner *analysis.Runner) *Server {
	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router:   router,
		port:     port,
		sessions: sessions,
		runner:   runner,
	}

	router.Get("/health", s.health)
	router.Get("/api/v1/antiphon/status", s.status)

	router.Route("/api/v1/sessions", func(r chi.Router) {
		r.Use(BearerAuthMiddleware(apiToken))
		r.Post("/", s.createSession)

		r.Route("/{sid}", func(r chi.Router) {
			r.Post("/reset", s.resetSession)
			r.Post("/audio", s.uploadAudio)
			r.Put("/contour", s.uploadContour)
			r.Get("/export", s.exportSession)

			r.Get("/sections", s.listSections)
			r.Post("/sections", s.createSection)
			r.Post("/sections/merge", s.mergeSections)
			r.Patch("/sections/{id}", s.updateSection)
			r.Delete("/sections/{id}", s.deleteSection)
			r.Post("/sections/{id}/toggle-label", s.toggleLabel)
			r.Post("/sections/{id}/split", s.splitSection)
			r.Post("/undo", s.undo)
			r.Post("/redo", s.redo)

			r.Get("/pairs", s.listPairs)
			r.Get("/pairs/{pid}/pitch", s.pairPitch)
			r.Get("/pairs/{pid}/metrics", s.pairMetrics)
			r.Get("/alignments", s.listAlignments)
			r.Post("/alignments/optimize", s.reoptimize)
			r.Put("/alignments/{pid}", s.setCustomOffset)
			r.Delete("/alignments/{pid}", s.resetCustomOffset)

			r.Post("/analysis", s.startAnalysis)
			r.Get("/analysis/status", s.analysisStatus)
			r.Get("/analysis/logs", s.analysisLogs)
			r.Get("/references/proposals", s.proposals)
		})
	})

	return s
}

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("API server starting", "addr", addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"agent":  "antiphon",
		"status": "ready",
	})
}
