package oauth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-identity-go/internal/metrics"
	"github.com/ovaphlow/pitchfork/service-identity-go/internal/session"
	"github.com/ovaphlow/pitchfork/service-identity-go/internal/user"
	"github.com/ovaphlow/pitchfork/service-identity-go/internal/user/entity"
)

// ErrProviderDisabled means the provider is known but has no client id configured.
var ErrProviderDisabled = errors.New("oauth provider disabled")

// Credentials are the client id and secret registered with one provider.
type Credentials struct {
	ClientID     string
	ClientSecret string
}

// ParseProvider maps a path segment such as "google" to a provider kind.
func ParseProvider(s string) (entity.ProviderKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "google":
		return entity.ProviderGoogle, nil
	case "facebook":
		return entity.ProviderFacebook, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownProvider, s)
}

type LoginDeps struct {
	Client      *Client
	Credentials map[entity.ProviderKind]Credentials
	Merger      *user.Merger
	Signer      *session.Signer
	Metrics     metrics.Recorder
	Logger      *zap.SugaredLogger
}

// LoginService is the caller-facing OAuth login: consent URL out, session
// token back once the provider redirects with a code.
type LoginService struct {
	client  *Client
	creds   map[entity.ProviderKind]Credentials
	merger  *user.Merger
	signer  *session.Signer
	metrics metrics.Recorder
	logger  *zap.SugaredLogger
	now     func() time.Time
}

func NewLoginService(d LoginDeps) *LoginService {
	if d.Metrics == nil {
		d.Metrics = metrics.Nop{}
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop().Sugar()
	}
	return &LoginService{
		client:  d.Client,
		creds:   d.Credentials,
		merger:  d.Merger,
		signer:  d.Signer,
		metrics: d.Metrics,
		logger:  d.Logger,
		now:     time.Now,
	}
}

func (s *LoginService) credentials(kind entity.ProviderKind) (Credentials, error) {
	c, ok := s.creds[kind]
	if !ok || c.ClientID == "" {
		return Credentials{}, fmt.Errorf("%w: %s", ErrProviderDisabled, kind)
	}
	return c, nil
}

// BeginOAuth returns the provider consent URL for redirectURI.
func (s *LoginService) BeginOAuth(kind entity.ProviderKind, redirectURI string) (string, error) {
	c, err := s.credentials(kind)
	if err != nil {
		return "", err
	}
	return s.client.AuthURL(kind, c.ClientID, redirectURI)
}

// CompleteOAuth exchanges code, merges the provider identity into the user
// store and returns a session token for the resulting user.
func (s *LoginService) CompleteOAuth(ctx context.Context, kind entity.ProviderKind, code, redirectURI, clientIP string) (string, error) {
	tok, err := s.completeOAuth(ctx, kind, code, redirectURI, clientIP)
	s.metrics.OAuthLogin(string(kind), loginResult(err))
	return tok, err
}

func (s *LoginService) completeOAuth(ctx context.Context, kind entity.ProviderKind, code, redirectURI, clientIP string) (string, error) {
	c, err := s.credentials(kind)
	if err != nil {
		return "", err
	}
	access, err := s.client.Exchange(ctx, kind, c.ClientID, c.ClientSecret, redirectURI, code)
	if err != nil {
		return "", err
	}
	id, err := s.client.FetchIdentity(ctx, kind, access)
	if err != nil {
		return "", err
	}

	username := id.Name
	if strings.TrimSpace(username) == "" {
		username, _, _ = strings.Cut(id.Email, "@")
	}
	res, err := s.merger.Merge(ctx, user.MergeInput{
		Username:      username,
		Email:         id.Email,
		IP:            clientIP,
		VerifiedEmail: id.VerifiedEmail,
		Connect: &entity.ConnectedAccount{
			Provider: id.Provider,
			Name:     id.Name,
			Email:    id.Email,
		},
	})
	if err != nil {
		return "", err
	}
	if res.Created {
		s.logger.Infow("user created from oauth login", "user_id", res.User.ID, "provider", kind)
	}
	return s.signer.Issue(session.NewSessionClaims(res.User, s.now()))
}

func loginResult(err error) string {
	var oe *Error
	switch {
	case err == nil:
		return metrics.ResultOK
	case errors.As(err, &oe), errors.Is(err, ErrProviderDisabled), errors.Is(err, user.ErrInvalidIdentity):
		return metrics.ResultRejected
	}
	return metrics.ResultError
}
