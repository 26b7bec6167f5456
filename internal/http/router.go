package http

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/MrJamesThe3rd/immotrack/internal/aggregate"
	"github.com/MrJamesThe3rd/immotrack/internal/apperr"
	"github.com/MrJamesThe3rd/immotrack/internal/http/auth"
	"github.com/MrJamesThe3rd/immotrack/internal/http/respond"
	"github.com/MrJamesThe3rd/immotrack/internal/http/sale"
	"github.com/MrJamesThe3rd/immotrack/internal/http/schedule"
)

func New(
	authenticator *auth.Authenticator,
	allowedOrigins []string,
	salesV1 *sale.Handler,
	schedulesV1 *schedule.Handler,
) http.Handler {
	router := chi.NewRouter()

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "If-Match"},
		ExposedHeaders: []string{"ETag"},
		MaxAge:         300,
	}))
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(authenticator.Middleware)
		r.Use(ifMatch)

		r.Route("/sales", func(r chi.Router) {
			salesV1.Routes(r)
			r.Route("/{id}/schedule", schedulesV1.SaleRoutes)
		})

		r.Route("/schedules", schedulesV1.Routes)
	})

	return router
}

// ifMatch carries the aggregate version from If-Match into the context so
// the services can reject stale writes.
func ifMatch(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get("If-Match")
		if raw == "" || raw == "*" {
			next.ServeHTTP(w, r)
			return
		}

		raw = strings.Trim(strings.TrimPrefix(raw, "W/"), `"`)

		version, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			respond.Error(w, apperr.New(apperr.CodeValidation, "invalid If-Match version %q", raw))
			return
		}

		next.ServeHTTP(w, r.WithContext(aggregate.WithExpectedVersion(r.Context(), version)))
	})
}
