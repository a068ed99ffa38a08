package rest

import (
	"net/http"
	"time"

	"github.com/dmitrijs2005/licensekeeper/internal/server/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
)

const requestTimeout = 30 * time.Second

type RouterOptions struct {
	RateLimitRPS   float64
	RateLimitBurst int
	AllowedOrigins []string
	// TrustProxy rewrites RemoteAddr from proxy headers before rate
	// limiting. Off by default, clients could otherwise pick their own key.
	TrustProxy     bool
}

// NewRouter builds the API. Every route is also served under /api.
func NewRouter(h *Handler, m *metrics.Metrics, opts RouterOptions) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	if opts.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))
	r.Use(instrument(m))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Machine"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, okResponse{OK: true})
	})
	r.Method(http.MethodGet, "/metrics", m.Handler())

	limiter := newIPRateLimiter(opts.RateLimitRPS, opts.RateLimitBurst)
	routes := func(r chi.Router) {
		h.routes(r, limiter)
	}
	routes(r)
	r.Route("/api", routes)

	return r
}

func (h *Handler) routes(r chi.Router, limiter *ipRateLimiter) {
	r.Group(func(r chi.Router) {
		r.Use(limiter.Handler)
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)
	})

	r.Group(func(r chi.Router) {
		r.Use(requireToken(h.license.Authenticate))
		r.Get("/profile", h.Profile)
		r.Post("/change_password", h.ChangePassword)
		r.Post("/redeem_key", h.Redeem)
		r.Post("/logout", h.Logout)
	})

	r.Route("/admin", func(r chi.Router) {
		r.With(limiter.Handler).Post("/login", h.AdminLogin)

		r.Group(func(r chi.Router) {
			r.Use(requireToken(h.admin.Authenticate))
			r.Post("/logout", h.AdminLogout)
			r.Post("/backup", h.Backup)
			r.Get("/users", h.ListUsers)
			r.Post("/users/create", h.CreateUser)
			r.Route("/users/{username}", func(r chi.Router) {
				r.Get("/", h.GetUser)
				r.Delete("/", h.DeleteUser)
				r.Post("/set_paid", h.SetPaid)
				r.Post("/set_paid_exact", h.SetPaidExact)
				r.Post("/reset_password", h.ResetPassword)
				r.Post("/rename", h.Rename)
			})
		})
	})
}
