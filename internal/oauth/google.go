package oauth

import (
	"encoding/json"
	"errors"
	"net/url"

	"github.com/ovaphlow/pitchfork/service-identity-go/internal/user/entity"
)

const (
	defaultGoogleAuthURL     = "https://accounts.google.com/o/oauth2/auth"
	defaultGoogleTokenURL    = "https://oauth2.googleapis.com/token"
	defaultGoogleUserInfoURL = "https://www.googleapis.com/oauth2/v1/userinfo?alt=json"

	googleScope = "https://www.googleapis.com/auth/userinfo.profile https://www.googleapis.com/auth/userinfo.email"
)

type Google struct {
	endpoints Endpoints
}

// NewGoogle fills unset endpoints with Google's production URLs.
func NewGoogle(e Endpoints) *Google {
	if e.AuthURL == "" {
		e.AuthURL = defaultGoogleAuthURL
	}
	if e.TokenURL == "" {
		e.TokenURL = defaultGoogleTokenURL
	}
	if e.UserInfoURL == "" {
		e.UserInfoURL = defaultGoogleUserInfoURL
	}
	return &Google{endpoints: e}
}

func (g *Google) Kind() entity.ProviderKind { return entity.ProviderGoogle }
func (g *Google) Endpoints() Endpoints      { return g.endpoints }
func (g *Google) Scope() string             { return googleScope }

// TokenForm adds the grant_type Google insists on.
func (g *Google) TokenForm(clientID, clientSecret, redirectURI, code string) url.Values {
	return url.Values{
		"client_id":     {clientID},
		"client_secret": {clientSecret},
		"code":          {code},
		"redirect_uri":  {redirectURI},
		"grant_type":    {"authorization_code"},
	}
}

type googleUserInfo struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	VerifiedEmail bool   `json:"verified_email"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

func (g *Google) ParseIdentity(body []byte) (*Identity, error) {
	var info googleUserInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, err
	}
	if info.ID == "" || info.Email == "" {
		return nil, errors.New("google user info without id or email")
	}
	return &Identity{
		Provider:      entity.ProviderGoogle,
		ID:            info.ID,
		Name:          info.Name,
		Email:         info.Email,
		VerifiedEmail: info.VerifiedEmail,
		Picture:       info.Picture,
	}, nil
}

var _ Provider = (*Google)(nil)
