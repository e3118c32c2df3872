package httpapi

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/DoyleJ11/challenge-zone-backend/internal/assignment"
	"github.com/DoyleJ11/challenge-zone-backend/internal/hub"
	"github.com/DoyleJ11/challenge-zone-backend/internal/identity"
	"github.com/DoyleJ11/challenge-zone-backend/internal/logging"
	"github.com/DoyleJ11/challenge-zone-backend/internal/metrics"
	"github.com/DoyleJ11/challenge-zone-backend/internal/store"
	"github.com/DoyleJ11/challenge-zone-backend/internal/ws"
)

type Deps struct {
	Hub            *hub.Hub
	Backend        store.Backend
	Assignments    *assignment.Service
	Keys           *identity.Keys
	Sessions       *identity.Sessions
	AdminUsernames []string
	CORSOrigins    []string
	LoginRPS       float64
	LoginBurst     int
	Logger         *zap.Logger
}

// SetupRoutes builds the router. ctx bounds background work such as the
// login limiter sweep.
func SetupRoutes(ctx context.Context, d Deps) http.Handler {
	log := logging.OrNop(d.Logger).Named("http")
	api := &API{
		backend:     d.Backend,
		assignments: d.Assignments,
		keys:        d.Keys,
		sessions:    d.Sessions,
		admins:      d.AdminUsernames,
		log:         log,
	}
	limiter := NewLoginLimiter(ctx, d.LoginRPS, d.LoginBurst)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "If-Match"},
		ExposedHeaders:   []string{"ETag"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", api.Healthz)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws", ws.Handler(d.Hub, ws.Options{OriginPatterns: originHosts(d.CORSOrigins), Logger: log}))

	r.Route("/auth", func(r chi.Router) {
		r.With(limiter.Middleware).Post("/login", api.Login)
		r.Post("/logout", api.Logout)
	})
	r.Route("/api", func(r chi.Router) {
		r.Get("/me", api.Me)
		r.Get("/challenges/{id}/assignments", api.GetAssignments)
		r.Put("/challenges/{id}/assignments", api.PutAssignments)
	})
	return r
}

// requestLogger logs one line per request after it completes.
func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Info("request",
				zap.String("method", r.Method),
				zap.String("route", metrics.RoutePattern(r)),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}

// originHosts turns CORS origins into the host patterns the websocket
// origin check expects.
func originHosts(origins []string) []string {
	hosts := make([]string, 0, len(origins))
	for _, o := range origins {
		if o == "*" {
			return []string{"*"}
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			hosts = append(hosts, u.Host)
		}
	}
	return hosts
}
