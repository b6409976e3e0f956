package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/placeforge/ingest-cli/internal/model"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and job worker",
	Long:  "Serves the ingestion API and runs the scheduler in the same process, so submitted jobs execute immediately.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		e, err := initEnv(ctx, true)
		if err != nil {
			return err
		}
		defer e.Close()

		if err := registerProcessors(e); err != nil {
			return err
		}
		if err := e.Scheduler.Start(ctx); err != nil {
			return err
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           newRouter(e),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				zap.L().Error("server shutdown failed", zap.Error(err))
			}
		}()

		zap.L().Info("server listening", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	},
}

func newRouter(e *env) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/stats", handleStats(e))
		r.Get("/jobs/{id}", handleGetJob(e))
		r.Post("/jobs", handleCreateJob(e))
		r.Post("/ingest", handleIngest(e))
	})
	return r
}

func handleStats(e *env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, e.Scheduler.Stats())
	}
}

func handleGetJob(e *env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := e.Store.GetJob(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeJSON(w, http.StatusOK, job)
	}
}

type createJobRequest struct {
	Kind        string          `json:"kind"`
	Source      string          `json:"source"`
	City        string          `json:"city"`
	Category    string          `json:"category"`
	Priority    int             `json:"priority"`
	MaxAttempts int             `json:"max_attempts"`
	Payload     json.RawMessage `json:"payload"`
}

func handleCreateJob(e *env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createJobRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		job := &model.Job{
			Kind:        model.JobKind(req.Kind),
			Source:      req.Source,
			City:        req.City,
			Category:    req.Category,
			Priority:    req.Priority,
			MaxAttempts: req.MaxAttempts,
			Payload:     req.Payload,
		}
		if err := e.Scheduler.Enqueue(r.Context(), job); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusCreated, job)
	}
}

type ingestRequest struct {
	Items          []string `json:"items"`
	Source         string   `json:"source"`
	City           string   `json:"city"`
	Category       string   `json:"category"`
	Priority       int      `json:"priority"`
	SkipDuplicates bool     `json:"skip_duplicates"`
	EnrichAll      bool     `json:"enrich_all"`
}

// handleIngest accepts raw text items and schedules an ingest job for them.
func handleIngest(e *env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ingestRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if len(req.Items) == 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "items is required"})
			return
		}

		payload, err := json.Marshal(ingestJobPayload{
			Items:          req.Items,
			SkipDuplicates: req.SkipDuplicates,
			EnrichAll:      req.EnrichAll,
		})
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}

		job := &model.Job{
			Kind:     model.JobKindIngest,
			Source:   req.Source,
			City:     req.City,
			Category: req.Category,
			Priority: req.Priority,
			Payload:  payload,
		}
		if err := e.Scheduler.Enqueue(r.Context(), job); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusAccepted, job)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Error("write response failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (defaults to config)")
	rootCmd.AddCommand(serveCmd)
}
