package router

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-identity-go/internal/auth"
	"github.com/ovaphlow/pitchfork/service-identity-go/internal/oauth"
	"github.com/ovaphlow/pitchfork/service-identity-go/internal/response"
	"github.com/ovaphlow/pitchfork/service-identity-go/internal/session"
	"github.com/ovaphlow/pitchfork/service-identity-go/internal/user"
)

// Deps are the collaborators RegisterRoutes mounts. Metrics may be nil.
type Deps struct {
	Logger   *zap.SugaredLogger
	BasePath string
	// TrustProxy takes the client IP from X-Forwarded-For / X-Real-IP.
	TrustProxy bool

	Users    *user.Handler
	OAuth    *oauth.Handler
	Guard    *auth.Guard
	Verifier *session.Verifier
	Limiter  *RateLimiter
	Metrics  http.Handler
	// Ping reports store health.
	Ping func(ctx context.Context) error
}

// RegisterRoutes mounts every endpoint under BasePath and wraps the tree with
// request id, logging, recovery and security headers.
func RegisterRoutes(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(RequestIDMiddleware())
	if d.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(LoggingMiddleware(d.Logger))
	r.Use(RecoverMiddleware(d.Logger))
	r.Use(SecurityHeadersMiddleware())

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) { response.Fail(w, response.NotFound) })
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) { response.Fail(w, response.NotFound) })

	mount := func(r chi.Router) {
		r.Get("/health", health(d.Ping))
		if d.Metrics != nil {
			r.Method(http.MethodGet, "/metrics", d.Metrics)
		}
		r.Get("/.well-known/jwks.json", func(w http.ResponseWriter, _ *http.Request) {
			// plain JWKS document, not the envelope
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(d.Verifier.JWKS())
		})

		r.Group(func(r chi.Router) {
			if d.Limiter != nil {
				r.Use(d.Limiter.Middleware())
			}
			r.Get("/authentication/{provider}/url", d.OAuth.AuthURL)
			r.Get("/authentication/{provider}", d.OAuth.Callback)
			r.Post("/user/sign-up", d.Users.Signup)
			r.Post("/user/login", d.Users.Login)
		})

		r.Get("/verify-email", d.Users.VerifyEmail)

		r.Group(func(r chi.Router) {
			r.Use(d.Guard.Middleware(d.Logger))
			r.Get("/user/info", d.Users.Info)
			r.Patch("/user/info", d.Users.UpdateInfo)
			r.Get("/session", func(w http.ResponseWriter, r *http.Request) {
				id, _ := auth.IdentityFromContext(r.Context())
				response.OK(w, id)
			})
		})
	}

	if d.BasePath == "" || d.BasePath == "/" {
		mount(r)
	} else {
		r.Route(d.BasePath, mount)
	}
	return r
}

func health(ping func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ping != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := ping(ctx); err != nil {
				http.Error(w, "store unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}
