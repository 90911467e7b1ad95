package http

import (
	"net/http"
	"time"

	"allais-survey-service/internal/app"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RouterOptions tune API behaviour.
type RouterOptions struct {
	// DuplicateStatusConflict answers duplicate submissions with 409 instead of a 200 envelope.
	DuplicateStatusConflict bool
	// AllowedOrigins enables CORS for the survey and dashboard front-ends. Empty allows any origin.
	AllowedOrigins []string
	// SubmitRate caps accepted submit requests per second across the process; zero disables the limit.
	SubmitRate  float64
	SubmitBurst int
}

// NewRouter wires the survey, dashboard and live-stream endpoints.
func NewRouter(submissions *app.SubmissionService, dashboard *app.DashboardService, opts RouterOptions) http.Handler {
	api := &API{submissions: submissions, dashboard: dashboard, opts: opts}
	ws := NewWSHandler(dashboard)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(corsOptions(opts.AllowedOrigins)))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/experiment", func(r chi.Router) {
		r.With(submitLimiter(opts.SubmitRate, opts.SubmitBurst)).Post("/submit", api.handleSubmit)
		r.Get("/config", api.handleConfig)
		r.Get("/config/{experimentID}", api.handleConfig)
		r.Get("/check-participation/{workerID}", api.handleCheckParticipation)
		r.Post("/completion-code", api.handleCompletionCode)
	})

	r.Route("/api/dashboard", func(r chi.Router) {
		r.Get("/experiments", api.handleExperiments)
		r.Route("/experiment/{experimentID}", func(r chi.Router) {
			r.Get("/stats", api.handleStats)
			r.Get("/recent-responses", api.handleRecentResponses)
			r.Get("/export", api.handleExport)
			r.Patch("/status", api.handleUpdateStatus)
		})
	})

	r.Get("/ws/dashboard", ws.ServeWS)
	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func corsOptions(origins []string) cors.Options {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}
}

func submitLimiter(perSecond float64, burst int) func(http.Handler) http.Handler {
	if perSecond <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(perSecond), burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				w.Header().Set("Retry-After", "1")
				writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "Too many submissions, please retry"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
