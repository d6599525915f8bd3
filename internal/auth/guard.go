// Package auth guards protected endpoints with bearer session tokens.
package auth

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-identity-go/internal/metrics"
	"github.com/ovaphlow/pitchfork/service-identity-go/internal/response"
	"github.com/ovaphlow/pitchfork/service-identity-go/internal/session"
	"github.com/ovaphlow/pitchfork/service-identity-go/internal/user/entity"
)

// Reason says why a request was rejected. It is for logs and metrics only;
// clients always get the same AuthError response.
type Reason int

const (
	ReasonNoHeader Reason = iota + 1
	ReasonScheme
	ReasonToken
)

func (r Reason) String() string {
	switch r {
	case ReasonNoHeader:
		return "no_header"
	case ReasonScheme:
		return "scheme"
	case ReasonToken:
		return "token"
	}
	return "unknown"
}

// Error is the single rejection the guard produces.
type Error struct {
	Reason Reason
	Err    error
}

func (e *Error) Error() string { return "unauthorized" }
func (e *Error) Unwrap() error { return e.Err }

// Identity is taken from verified claims; it is never re-read from storage,
// so it may lag behind profile changes until the next token is issued.
type Identity struct {
	UserID        string        `json:"id"`
	Username      string        `json:"username"`
	VerifiedEmail bool          `json:"verified_email"`
	Modes         []entity.Mode `json:"modes"`
}

type Guard struct {
	verifier *session.Verifier
	metrics  metrics.Recorder
}

func NewGuard(verifier *session.Verifier, rec metrics.Recorder) *Guard {
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &Guard{verifier: verifier, metrics: rec}
}

// Authenticate checks an Authorization header value: exactly "Bearer", one
// space, then a token that verifies as a session.
func (g *Guard) Authenticate(header string) (*Identity, error) {
	id, rej := g.authenticate(header)
	if rej != nil {
		g.metrics.GuardRejection(rej.Reason.String())
		return nil, rej
	}
	return id, nil
}

func (g *Guard) authenticate(header string) (*Identity, *Error) {
	if header == "" {
		return nil, &Error{Reason: ReasonNoHeader}
	}
	parts := strings.Split(header, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return nil, &Error{Reason: ReasonScheme}
	}
	if parts[1] == "" {
		return nil, &Error{Reason: ReasonToken}
	}
	claims, err := g.verifier.VerifySession(parts[1])
	if err != nil {
		return nil, &Error{Reason: ReasonToken, Err: err}
	}
	return &Identity{
		UserID:        claims.UserID(),
		Username:      claims.Username,
		VerifiedEmail: claims.VerifiedEmail,
		Modes:         claims.Modes,
	}, nil
}

// Middleware rejects unauthenticated requests with AuthError and stores the
// identity in the request context otherwise.
func (g *Guard) Middleware(logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, rej := g.authenticate(r.Header.Get("Authorization"))
			if rej != nil {
				g.metrics.GuardRejection(rej.Reason.String())
				logger.Debugw("request rejected", "path", r.URL.Path, "reason", rej.Reason.String(), "err", rej.Err)
				response.Fail(w, response.AuthError)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

type ctxKey struct{}

func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(*Identity)
	return id, ok && id != nil
}
