package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hazeltr0n/freeworld-success-coach-portal-sub003/internal/model"
	"github.com/hazeltr0n/freeworld-success-coach-portal-sub003/internal/pipeline"
	"github.com/hazeltr0n/freeworld-success-coach-portal-sub003/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API for triggering and inspecting runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		startMonitoring(ctx, env.Store)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: buildRouter(ctx, env),
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// buildRouter assembles the API routes. The run context outlives any one
// request so triggered runs keep going after the response is written.
func buildRouter(runCtx context.Context, env *pipelineEnv) http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/runs", handleTriggerRun(runCtx, env))
		r.Get("/runs", handleListRuns(env))
		r.Get("/runs/{id}", handleGetRun(env))
		r.Get("/runs/{id}/postings", handleRunPostings(env))
	})

	return r
}

func handleTriggerRun(runCtx context.Context, env *pipelineEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Markets []string `json:"markets"`
			Terms   string   `json:"terms"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		markets := req.Markets
		if len(markets) == 0 && cfg != nil {
			markets = cfg.Sourcing.MarketList()
		}
		if len(markets) == 0 {
			writeError(w, http.StatusBadRequest, "markets is required")
			return
		}
		if env.Rules != nil {
			for _, m := range markets {
				if _, ok := env.Rules.SearchLocation(strings.TrimSpace(m)); !ok {
					writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown market %q", m))
					return
				}
			}
		}
		if req.Terms == "" {
			req.Terms = "CDL driver"
		}

		// The run outlives the request. Clients poll GET /api/runs for
		// the run record this creates.
		go func() {
			if env.Pipeline == nil {
				return
			}
			out, err := env.Pipeline.Run(runCtx, pipeline.RunRequest{Markets: markets, Terms: req.Terms})
			if err != nil {
				zap.L().Error("triggered run failed",
					zap.Strings("markets", markets),
					zap.Error(err),
				)
				return
			}
			zap.L().Info("triggered run complete",
				zap.String("run_id", out.RunID),
				zap.Int("delivered", out.Result.Counts.Delivered),
			)
		}()

		writeJSON(w, http.StatusAccepted, map[string]any{
			"status":  "accepted",
			"markets": markets,
		})
	}
}

func handleListRuns(env *pipelineEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 50
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				writeError(w, http.StatusBadRequest, "limit must be a positive integer")
				return
			}
			limit = n
		}

		runs, err := env.Store.ListRuns(r.Context(), store.RunFilter{
			Status: model.RunStatus(r.URL.Query().Get("status")),
			Market: r.URL.Query().Get("market"),
			Limit:  limit,
		})
		if err != nil {
			writeError(w, http.StatusInternalServerError, "list runs failed")
			return
		}
		if runs == nil {
			runs = []model.Run{}
		}
		writeJSON(w, http.StatusOK, runs)
	}
}

func handleGetRun(env *pipelineEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		run, err := env.Store.GetRun(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			if strings.Contains(err.Error(), "not found") {
				writeError(w, http.StatusNotFound, "run not found")
				return
			}
			writeError(w, http.StatusInternalServerError, "get run failed")
			return
		}
		writeJSON(w, http.StatusOK, run)
	}
}

func handleRunPostings(env *pipelineEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		records, err := env.Store.ListRunPostings(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusInternalServerError, "list run postings failed")
			return
		}
		if records == nil {
			records = []store.RunPostingRecord{}
		}
		writeJSON(w, http.StatusOK, records)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
