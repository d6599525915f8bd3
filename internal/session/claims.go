package session

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ovaphlow/pitchfork/service-identity-go/internal/user/entity"
)

// Purpose is carried in every signed payload. A token is only accepted for
// the purpose it was issued for, so a verify-email token can never stand in
// for a session.
type Purpose string

const (
	PurposeSession     Purpose = "session"
	PurposeVerifyEmail Purpose = "verify_email"
)

const (
	SessionLifetime     = 7 * 24 * time.Hour
	VerifyEmailLifetime = 10 * time.Minute
)

// Claims is a payload bound to one purpose.
type Claims interface {
	jwt.Claims
	bind(issuer string)
	purposeOK() bool
}

// SessionClaims is a point-in-time snapshot of a user. Subject holds the user id.
type SessionClaims struct {
	Username      string        `json:"username"`
	VerifiedEmail bool          `json:"verified_email"`
	Modes         []entity.Mode `json:"modes"`
	Purpose       Purpose       `json:"purpose"`
	jwt.RegisteredClaims
}

// NewSessionClaims snapshots u, expiring SessionLifetime after now.
func NewSessionClaims(u *entity.User, now time.Time) *SessionClaims {
	return &SessionClaims{
		Username:      u.Username,
		VerifiedEmail: u.VerifiedEmail,
		Modes:         entity.NormalizeModes(u.Modes),
		Purpose:       PurposeSession,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(SessionLifetime)),
		},
	}
}

func (c *SessionClaims) UserID() string { return c.Subject }

func (c *SessionClaims) bind(issuer string) {
	c.Purpose = PurposeSession
	if issuer != "" {
		c.Issuer = issuer
	}
}

func (c *SessionClaims) purposeOK() bool { return c.Purpose == PurposeSession && c.Subject != "" }

// VerifyEmailClaims proves control of an email address for a short time.
type VerifyEmailClaims struct {
	Email   string  `json:"email"`
	Purpose Purpose `json:"purpose"`
	jwt.RegisteredClaims
}

func NewVerifyEmailClaims(email string, now time.Time) *VerifyEmailClaims {
	return &VerifyEmailClaims{
		Email:   email,
		Purpose: PurposeVerifyEmail,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(VerifyEmailLifetime)),
		},
	}
}

func (c *VerifyEmailClaims) bind(issuer string) {
	c.Purpose = PurposeVerifyEmail
	if issuer != "" {
		c.Issuer = issuer
	}
}

func (c *VerifyEmailClaims) purposeOK() bool { return c.Purpose == PurposeVerifyEmail && c.Email != "" }
