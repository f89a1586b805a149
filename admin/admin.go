// Package admin provides the operational HTTP surface for a running
// feedpull process: health checks, a Prometheus-text /metrics
// endpoint, and a small submission API for pushing FeedRequests into
// the pulling engine. This is the one place in the library where an
// inbound chi middleware chain still has a home — the engine itself
// is an outbound HTTP puller with no HTTP surface of its own.
package admin

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/alfred-ai/feedpull/middleware"
	"github.com/alfred-ai/feedpull/observability"
	"github.com/alfred-ai/feedpull/pulling"
)

// Deps bundles the collaborators the admin router reports on.
type Deps struct {
	Engine   *pulling.PullingEngine
	Metrics  *observability.Metrics
	Registry func() int // returns current registry size, optional
	Queue    func() int // returns current sequential queue depth, optional
}

// NewRouter returns a configured chi.Router exposing the admin surface.
func NewRouter(cfg Deps, appLogger zerolog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.CORSMiddleware([]string{"*"}))
	r.Use(middleware.SecurityHeadersMiddleware)
	r.Use(middleware.RequestIDMiddleware)
	r.Use(chimw.Recoverer)
	r.Use(requestLogger(appLogger))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "feedpull"})
	})

	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready", "service": "feedpull"})
	})

	if cfg.Metrics != nil {
		r.Get("/metrics", cfg.Metrics.Handler())
	}

	r.Route("/admin", func(r chi.Router) {
		r.Post("/feeds", submitHandler(cfg, appLogger))
		r.Get("/stats", statsHandler(cfg))
	})

	return r
}

type submitRequest struct {
	URL      string            `json:"url"`
	Host     string            `json:"host"`
	Port     int               `json:"port"`
	Headers  []pulling.Header  `json:"headers"`
	Priority pulling.Priority  `json:"priority"`
	Tag      string            `json:"tag"`
	Schedule *pulling.Schedule `json:"schedule,omitempty"`
}

func submitHandler(cfg Deps, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body submitRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_body", "message": err.Error()})
			return
		}
		if cfg.Engine == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "engine_unavailable"})
			return
		}

		req := pulling.NewFeedRequest(body.URL, body.Host, body.Port, body.Headers, body.Priority, body.Tag)

		if body.Schedule != nil {
			req = req.WithSchedule(*body.Schedule)
			handle, err := cfg.Engine.SchedulePeriodic(req, *body.Schedule)
			if err != nil {
				writeSubmitError(w, logger, err)
				return
			}
			writeJSON(w, http.StatusAccepted, map[string]string{"fingerprint": req.Fingerprint(), "handle": handle.String()})
			return
		}

		if err := cfg.Engine.Submit(req); err != nil {
			writeSubmitError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"fingerprint": req.Fingerprint()})
	}
}

func writeSubmitError(w http.ResponseWriter, logger zerolog.Logger, err error) {
	switch e := err.(type) {
	case *pulling.SubmissionRejected:
		w.Header().Set("Retry-After", e.RetryAfter.String())
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "submission_rejected", "reason": e.Reason})
	case *pulling.ShutdownError:
		logger.Warn().Err(err).Msg("rejected submission during shutdown")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "shutting_down"})
	default:
		logger.Error().Err(err).Msg("unexpected error submitting feed request")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal", "message": err.Error()})
	}
}

func statsHandler(cfg Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats := map[string]any{}
		if cfg.Registry != nil {
			stats["registry_size"] = cfg.Registry()
		}
		if cfg.Queue != nil {
			stats["queue_depth"] = cfg.Queue()
		}
		if cfg.Engine != nil {
			stats["dispatcher"] = cfg.Engine.Dispatcher().Metrics()
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func requestLogger(appLogger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(rw, r)
			appLogger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("req_id", r.Header.Get("X-Request-ID")).
				Int("status", rw.Status()).
				Dur("duration", time.Since(start)).
				Msg("admin request completed")
		})
	}
}
