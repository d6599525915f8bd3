// Package oauth drives the OAuth2 authorization-code flow against external
// identity providers and normalizes what they return.
package oauth

import (
	"net/url"

	"github.com/ovaphlow/pitchfork/service-identity-go/internal/user/entity"
)

// Identity is a provider account in provider-agnostic form.
type Identity struct {
	Provider      entity.ProviderKind
	ID            string
	Name          string
	Email         string
	VerifiedEmail bool
	Picture       string
}

// Endpoints are overridable so tests can point a provider at a local server.
type Endpoints struct {
	AuthURL     string
	TokenURL    string
	UserInfoURL string
}

// Provider captures everything that differs between providers. Callers pick
// one by kind through Client and never see these details.
type Provider interface {
	Kind() entity.ProviderKind
	Endpoints() Endpoints
	Scope() string
	// TokenForm builds the token endpoint request body.
	TokenForm(clientID, clientSecret, redirectURI, code string) url.Values
	// ParseIdentity maps a user-info response body.
	ParseIdentity(body []byte) (*Identity, error)
}
