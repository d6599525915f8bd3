package oauth

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-identity-go/internal/auth"
	"github.com/ovaphlow/pitchfork/service-identity-go/internal/response"
	"github.com/ovaphlow/pitchfork/service-identity-go/internal/user"
)

// Handler serves /authentication/{provider}. Routes must be mounted with a
// {provider} URL parameter.
type Handler struct {
	svc    *LoginService
	logger *zap.SugaredLogger
}

func NewHandler(svc *LoginService, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// AuthURL answers with the consent URL for ?redirect_uri=.
func (h *Handler) AuthURL(w http.ResponseWriter, r *http.Request) {
	kind, err := ParseProvider(chi.URLParam(r, "provider"))
	if err != nil {
		response.Fail(w, response.NotFound)
		return
	}
	u, err := h.svc.BeginOAuth(kind, r.URL.Query().Get("redirect_uri"))
	if err != nil {
		h.fail(w, err)
		return
	}
	response.OK(w, u)
}

// Callback completes the login for ?code= and answers with a session token.
// oauth_redirect_uri must equal the redirect_uri used for the consent URL.
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	kind, err := ParseProvider(chi.URLParam(r, "provider"))
	if err != nil {
		response.Fail(w, response.NotFound)
		return
	}
	q := r.URL.Query()
	tok, err := h.svc.CompleteOAuth(r.Context(), kind, q.Get("code"), q.Get("oauth_redirect_uri"), auth.ClientIP(r))
	if err != nil {
		h.fail(w, err)
		return
	}
	response.OK(w, tok)
}

// fail never forwards upstream detail; it goes to the log only.
func (h *Handler) fail(w http.ResponseWriter, err error) {
	var oe *Error
	switch {
	case errors.As(err, &oe) && oe.Kind == KindUserInfo:
		h.logger.Warnw("oauth user info failed", "provider", oe.Provider, "err", oe.Err)
		response.Fail(w, response.OAuthGetUserInfoError)
	case errors.As(err, &oe):
		h.logger.Warnw("oauth code exchange failed", "provider", oe.Provider, "err", oe.Err)
		response.Fail(w, response.OAuthCodeError)
	case errors.Is(err, ErrProviderDisabled):
		h.logger.Warnw("oauth provider not configured", "err", err)
		response.Fail(w, response.OAuthCodeError)
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrUnknownProvider):
		h.logger.Debugw("oauth request rejected", "err", err)
		response.Fail(w, response.BadRequest)
	case errors.Is(err, user.ErrInvalidIdentity):
		h.logger.Warnw("oauth identity rejected", "err", err)
		response.Fail(w, response.OAuthGetUserInfoError)
	default:
		h.logger.Errorw("oauth login failed", "err", err)
		response.Fail(w, response.InternalError)
	}
}
