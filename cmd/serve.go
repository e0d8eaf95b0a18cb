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
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/recruit-intake/internal/intake"
	"github.com/sells-group/recruit-intake/internal/model"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the intake webhook server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newRouter(env),
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func newRouter(env *intakeEnv) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	// Bounded concurrency on the intake path; excess requests are told to
	// retry rather than queued without limit.
	slots := make(chan struct{}, cfg.Server.MaxConcurrent)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/metrics", func(w http.ResponseWriter, req *http.Request) {
		snapshot, err := env.Collector.Collect(req.Context(), cfg.Server.MetricsLookbackHR)
		if err != nil {
			zap.L().Error("metrics collection failed", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "metrics collection failed"})
			return
		}
		writeJSON(w, http.StatusOK, snapshot)
	})

	r.Post("/webhook/intake", func(w http.ResponseWriter, req *http.Request) {
		select {
		case slots <- struct{}{}:
			defer func() { <-slots }()
		default:
			w.Header().Set("Retry-After", "5")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "at capacity, retry later"})
			return
		}

		var event model.IntakeEvent
		if err := json.NewDecoder(req.Body).Decode(&event); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
		if event.ReceivedAt.IsZero() {
			event.ReceivedAt = time.Now().UTC()
		}
		if event.Source == "" {
			event.Source = model.SourceWebhook
		}

		result, err := env.Coordinator.Process(req.Context(), &event)
		if err != nil {
			writeProcessError(w, &event, result, err)
			return
		}

		status := http.StatusCreated
		if result.Status == model.StatusReplayed {
			status = http.StatusOK
		}
		writeJSON(w, status, result)
	})

	return r
}

// writeProcessError maps pipeline errors onto response codes. Transient
// failures get 502 so the sender's retry machinery kicks in; permanent
// ones get 422 so it does not. When the pipeline reported a partial
// outcome the response carries it: the extraction result is durably
// recorded and only the downstream write is owed.
func writeProcessError(w http.ResponseWriter, event *model.IntakeEvent, result *model.ProcessResult, err error) {
	var verr *intake.ValidationError
	var terr *intake.TransientDownstreamError
	var perr *intake.PermanentDownstreamError

	partial := func(body map[string]any) map[string]any {
		if result != nil && result.Status == model.StatusPartial {
			body["status"] = result.Status
		}
		return body
	}

	switch {
	case eris.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":          "invalid event",
			"fields":         verr.Fields,
			"correlation_id": verr.CorrelationID,
		})
	case eris.Is(err, intake.ErrInProgress):
		writeJSON(w, http.StatusConflict, map[string]string{
			"error":       "event is being processed",
			"external_id": event.ExternalID,
		})
	case eris.As(err, &terr):
		writeJSON(w, http.StatusBadGateway, partial(map[string]any{
			"error":          "downstream failure, safe to retry",
			"system":         terr.System,
			"correlation_id": terr.CorrelationID,
		}))
	case eris.As(err, &perr):
		writeJSON(w, http.StatusUnprocessableEntity, partial(map[string]any{
			"error":          "downstream rejection, parked for manual review",
			"system":         perr.System,
			"correlation_id": perr.CorrelationID,
		}))
	default:
		zap.L().Error("intake failed",
			zap.String("external_id", event.ExternalID),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
