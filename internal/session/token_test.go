package session

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ovaphlow/pitchfork/service-identity-go/internal/user/entity"
)

func testUser() *entity.User {
	return &entity.User{
		ID:            "1844674407370955",
		Username:      "alice",
		Email:         "alice@example.com",
		VerifiedEmail: true,
		Modes:         []entity.Mode{entity.ModeTeacher, entity.ModeStudent},
	}
}

func verifyKind(t *testing.T, err error) VerifyKind {
	t.Helper()
	var ve *VerifyError
	if !errors.As(err, &ve) {
		t.Fatalf("expected *VerifyError, got %v", err)
	}
	return ve.Kind
}

func TestSessionRoundTrip(t *testing.T) {
	k1, _ := testKeys(t)
	signer := NewSigner(k1, "https://id.example.com")
	verifier := NewVerifier(&k1.PublicKey, "https://id.example.com")

	now := time.Now()
	claims := NewSessionClaims(testUser(), now)
	tok, err := signer.Issue(claims)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if strings.Count(tok, ".") != 2 {
		t.Fatalf("token should have three segments: %s", tok)
	}

	got, err := verifier.VerifySession(tok)
	if err != nil {
		t.Fatalf("VerifySession: %v", err)
	}
	if got.UserID() != "1844674407370955" || got.Username != "alice" || !got.VerifiedEmail {
		t.Errorf("claims = %+v", got)
	}
	if !reflect.DeepEqual(got.Modes, []entity.Mode{entity.ModeStudent, entity.ModeTeacher}) {
		t.Errorf("modes = %v", got.Modes)
	}
	if got.Purpose != PurposeSession {
		t.Errorf("purpose = %q", got.Purpose)
	}
	if got.ExpiresAt.Unix() != now.Add(SessionLifetime).Unix() {
		t.Errorf("exp = %v", got.ExpiresAt)
	}
	if got.Issuer != "https://id.example.com" {
		t.Errorf("iss = %q", got.Issuer)
	}
}

func TestTokenHeader(t *testing.T) {
	k1, _ := testKeys(t)
	tok, err := NewSigner(k1, "").Issue(NewSessionClaims(testUser(), time.Now()))
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	parsed, _, err := jwt.NewParser().ParseUnverified(tok, &SessionClaims{})
	if err != nil {
		t.Fatalf("ParseUnverified: %v", err)
	}
	if parsed.Header["alg"] != "RS256" || parsed.Header["typ"] != "JWT" || parsed.Header["kid"] != KeyID(&k1.PublicKey) {
		t.Fatalf("header = %v", parsed.Header)
	}
}

func TestVerifyExpired(t *testing.T) {
	k1, _ := testKeys(t)
	signer := NewSigner(k1, "")
	verifier := NewVerifier(&k1.PublicKey, "")

	claims := NewSessionClaims(testUser(), time.Now().Add(-SessionLifetime-time.Minute))
	tok, err := signer.Issue(claims)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	_, err = verifier.VerifySession(tok)
	if kind := verifyKind(t, err); kind != KindExpired {
		t.Fatalf("kind = %v, want expired", kind)
	}
}

func TestVerifyTampered(t *testing.T) {
	k1, _ := testKeys(t)
	signer := NewSigner(k1, "")
	verifier := NewVerifier(&k1.PublicKey, "")
	tok, err := signer.Issue(NewSessionClaims(testUser(), time.Now()))
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	parts := strings.Split(tok, ".")

	flip := func(s string, i int) string {
		b := []byte(s)
		if b[i] == 'A' {
			b[i] = 'B'
		} else {
			b[i] = 'A'
		}
		return string(b)
	}
	tests := map[string]string{
		"payload":   parts[0] + "." + flip(parts[1], len(parts[1])/2) + "." + parts[2],
		"signature": parts[0] + "." + parts[1] + "." + flip(parts[2], len(parts[2])/2),
		"header":    flip(parts[0], 2) + "." + parts[1] + "." + parts[2],
		"garbage":   "not-a-token",
		"empty":     "",
	}
	for name, bad := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := verifier.VerifySession(bad)
			if kind := verifyKind(t, err); kind != KindSignature {
				t.Fatalf("kind = %v, want signature", kind)
			}
		})
	}
}

func TestVerifyRejectsOtherKeyPair(t *testing.T) {
	k1, k2 := testKeys(t)
	tok, err := NewSigner(k1, "").Issue(NewSessionClaims(testUser(), time.Now()))
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	_, err = NewVerifier(&k2.PublicKey, "").VerifySession(tok)
	if kind := verifyKind(t, err); kind != KindSignature {
		t.Fatalf("kind = %v, want signature", kind)
	}
}

func TestVerifyRejectsWrongIssuer(t *testing.T) {
	k1, _ := testKeys(t)
	tok, err := NewSigner(k1, "https://a.example.com").Issue(NewSessionClaims(testUser(), time.Now()))
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := NewVerifier(&k1.PublicKey, "https://b.example.com").VerifySession(tok); err == nil {
		t.Fatal("expected issuer mismatch to fail")
	}
}

func TestPurposeIsEnforced(t *testing.T) {
	k1, _ := testKeys(t)
	signer := NewSigner(k1, "")
	verifier := NewVerifier(&k1.PublicKey, "")
	now := time.Now()

	emailTok, err := signer.Issue(NewVerifyEmailClaims("alice@example.com", now))
	if err != nil {
		t.Fatalf("Issue verify-email: %v", err)
	}
	_, err = verifier.VerifySession(emailTok)
	if kind := verifyKind(t, err); kind != KindPurpose {
		t.Fatalf("verify-email token as session: kind = %v", kind)
	}

	sessTok, err := signer.Issue(NewSessionClaims(testUser(), now))
	if err != nil {
		t.Fatalf("Issue session: %v", err)
	}
	_, err = verifier.VerifyEmailToken(sessTok)
	if kind := verifyKind(t, err); kind != KindPurpose {
		t.Fatalf("session token as verify-email: kind = %v", kind)
	}

	got, err := verifier.VerifyEmailToken(emailTok)
	if err != nil {
		t.Fatalf("VerifyEmailToken: %v", err)
	}
	if got.Email != "alice@example.com" {
		t.Errorf("email = %q", got.Email)
	}
	if got.ExpiresAt.Unix() != now.Add(VerifyEmailLifetime).Unix() {
		t.Errorf("exp = %v", got.ExpiresAt)
	}
}

func TestPurposeCannotBeForgedByCaller(t *testing.T) {
	k1, _ := testKeys(t)
	claims := NewVerifyEmailClaims("alice@example.com", time.Now())
	claims.Purpose = PurposeSession
	tok, err := NewSigner(k1, "").Issue(claims)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := NewVerifier(&k1.PublicKey, "").VerifySession(tok); err == nil {
		t.Fatal("verify-email claims must never verify as a session")
	}
}

func TestIssueWithoutKey(t *testing.T) {
	var s *Signer
	_, err := s.Issue(NewSessionClaims(testUser(), time.Now()))
	var se *SignError
	if !errors.As(err, &se) || !errors.Is(err, ErrNoPrivateKey) {
		t.Fatalf("err = %v", err)
	}
}

func TestJWKS(t *testing.T) {
	k1, _ := testKeys(t)
	jwks := NewVerifier(&k1.PublicKey, "").JWKS()
	keys, ok := jwks["keys"].([]any)
	if !ok || len(keys) != 1 {
		t.Fatalf("jwks = %v", jwks)
	}
	jwk := keys[0].(map[string]any)
	if jwk["kid"] != KeyID(&k1.PublicKey) || jwk["alg"] != "RS256" || jwk["e"] != "AQAB" {
		t.Fatalf("jwk = %v", jwk)
	}
}
