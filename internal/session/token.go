package session

import (
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"

	"github.com/golang-jwt/jwt/v5"
)

var ErrNoPrivateKey = errors.New("no signing key configured")

// SignError wraps a failure to produce a token.
type SignError struct {
	Err error
}

func (e *SignError) Error() string { return "sign token: " + e.Err.Error() }
func (e *SignError) Unwrap() error { return e.Err }

// VerifyKind classifies a rejected token. Malformed tokens count as
// KindSignature.
type VerifyKind int

const (
	KindSignature VerifyKind = iota + 1
	KindExpired
	KindPurpose
)

func (k VerifyKind) String() string {
	switch k {
	case KindSignature:
		return "signature"
	case KindExpired:
		return "expired"
	case KindPurpose:
		return "purpose"
	}
	return "unknown"
}

type VerifyError struct {
	Kind VerifyKind
	Err  error
}

func (e *VerifyError) Error() string {
	if e.Err == nil {
		return "verify token: " + e.Kind.String()
	}
	return fmt.Sprintf("verify token: %s: %v", e.Kind, e.Err)
}

func (e *VerifyError) Unwrap() error { return e.Err }

// Signer issues RS256 tokens with a fixed header (alg, typ, kid).
type Signer struct {
	key    *rsa.PrivateKey
	kid    string
	issuer string
}

func NewSigner(key *rsa.PrivateKey, issuer string) *Signer {
	return &Signer{key: key, kid: KeyID(&key.PublicKey), issuer: issuer}
}

// Issue signs claims. Expiry is whatever the caller put into claims; the
// purpose and issuer are stamped here.
func (s *Signer) Issue(claims Claims) (string, error) {
	if s == nil || s.key == nil {
		return "", &SignError{Err: ErrNoPrivateKey}
	}
	claims.bind(s.issuer)
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = s.kid
	signed, err := tok.SignedString(s.key)
	if err != nil {
		return "", &SignError{Err: err}
	}
	return signed, nil
}

// PublicKey returns the RSA public key matching the signing key.
func (s *Signer) PublicKey() *rsa.PublicKey {
	return &s.key.PublicKey
}

// Verifier checks tokens with the public key only.
type Verifier struct {
	key    *rsa.PublicKey
	kid    string
	parser *jwt.Parser
}

func NewVerifier(key *rsa.PublicKey, issuer string) *Verifier {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	return &Verifier{key: key, kid: KeyID(key), parser: jwt.NewParser(opts...)}
}

func (v *Verifier) keyFunc(*jwt.Token) (any, error) { return v.key, nil }

// Verify parses token into a new T and checks signature, expiry and purpose.
func Verify[T any, PT interface {
	*T
	Claims
}](v *Verifier, token string) (*T, error) {
	claims := PT(new(T))
	if _, err := v.parser.ParseWithClaims(token, claims, v.keyFunc); err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, &VerifyError{Kind: KindExpired, Err: err}
		}
		return nil, &VerifyError{Kind: KindSignature, Err: err}
	}
	if !claims.purposeOK() {
		return nil, &VerifyError{Kind: KindPurpose}
	}
	return (*T)(claims), nil
}

func (v *Verifier) VerifySession(token string) (*SessionClaims, error) {
	return Verify[SessionClaims](v, token)
}

func (v *Verifier) VerifyEmailToken(token string) (*VerifyEmailClaims, error) {
	return Verify[VerifyEmailClaims](v, token)
}

// JWKS returns a minimal JWKS containing the public key.
func (v *Verifier) JWKS() map[string]any {
	n := base64.RawURLEncoding.EncodeToString(v.key.N.Bytes())
	// exponent as minimal big-endian bytes
	e := base64.RawURLEncoding.EncodeToString(new(big.Int).SetInt64(int64(v.key.E)).Bytes())
	jwk := map[string]any{
		"kty": "RSA",
		"use": "sig",
		"alg": "RS256",
		"kid": v.kid,
		"n":   n,
		"e":   e,
	}
	return map[string]any{"keys": []any{jwk}}
}
