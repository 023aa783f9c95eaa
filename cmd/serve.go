package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lexbook/lexipipe/internal/config"
	"github.com/lexbook/lexipipe/internal/pipeline"
	"github.com/lexbook/lexipipe/pkg/oracle"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start HTTP server for triggering and monitoring runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if cfg.Oracle.Key == "" {
			return eris.New("oracle key is required (LEXIPIPE_ORACLE_KEY)")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate")
		}

		tuning, err := config.LoadTuning(cfg.Pipeline.TuningPath)
		if err != nil {
			return eris.Wrap(err, "load tuning")
		}

		p := pipeline.New(cfg, tuning, st, oracle.NewClient(cfg.Oracle.Key))

		r := newRouter(ctx, p)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: r,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// newRouter builds the HTTP surface. Runs started via /start inherit
// ctx so they stop when the server does.
func newRouter(ctx context.Context, p *pipeline.Pipeline) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/start", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			Limit int `json:"limit"`
		}
		if req.Body != nil && req.ContentLength != 0 {
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
				return
			}
		}

		if p.Active() {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "a run is already active"})
			return
		}

		// The run outlives this request; it stops with the server.
		go func() {
			if _, err := p.Run(ctx, body.Limit); err != nil && !errors.Is(err, pipeline.ErrRunActive) {
				zap.L().Error("enrichment run failed", zap.Error(err))
			}
		}()

		writeJSON(w, http.StatusAccepted, map[string]any{
			"accepted": true,
			"limit":    body.Limit,
		})
	})

	r.Get("/progress", func(w http.ResponseWriter, _ *http.Request) {
		rc := p.Current()
		if rc == nil {
			writeJSON(w, http.StatusOK, pipeline.Progress{Status: pipeline.StateIdle, Logs: []string{}})
			return
		}
		writeJSON(w, http.StatusOK, rc.Progress())
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
