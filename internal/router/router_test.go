package router

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ovaphlow/pitchfork/service-identity-go/internal/auth"
	"github.com/ovaphlow/pitchfork/service-identity-go/internal/oauth"
	"github.com/ovaphlow/pitchfork/service-identity-go/internal/response"
	"github.com/ovaphlow/pitchfork/service-identity-go/internal/session"
	"github.com/ovaphlow/pitchfork/service-identity-go/internal/user"
	"github.com/ovaphlow/pitchfork/service-identity-go/internal/user/entity"
	userrepo "github.com/ovaphlow/pitchfork/service-identity-go/internal/user/repo"
	"github.com/ovaphlow/pitchfork/service-identity-go/pkg/utilities"
)

var (
	keyOnce sync.Once
	testKey *rsa.PrivateKey
)

type testServer struct {
	handler http.Handler
	signer  *session.Signer
	limiter *RateLimiter
}

func newTestServer(t *testing.T, basePath string, ping func(context.Context) error) *testServer {
	t.Helper()
	keyOnce.Do(func() {
		var err error
		if testKey, err = rsa.GenerateKey(rand.Reader, 2048); err != nil {
			panic(err)
		}
	})
	logger := zap.NewNop().Sugar()
	signer := session.NewSigner(testKey, "")
	verifier := session.NewVerifier(&testKey.PublicKey, "")
	store := userrepo.NewMemoryStore(utilities.NewKSUID)
	merger := user.NewMerger(store, nil)
	users := user.NewUserService(user.Deps{
		Store:    store,
		Merger:   merger,
		Hasher:   user.BcryptHasher{Cost: 4},
		Signer:   signer,
		Verifier: verifier,
	})
	logins := oauth.NewLoginService(oauth.LoginDeps{
		Client: oauth.NewClient(nil, oauth.NewGoogle(oauth.Endpoints{})),
		Merger: merger,
		Signer: signer,
	})
	limiter := NewRateLimiter(RateLimiterConfig{Rate: rate.Every(time.Hour), Burst: 2, CleanupInterval: time.Minute}, logger)
	t.Cleanup(limiter.Stop)

	return &testServer{
		handler: RegisterRoutes(Deps{
			Logger:   logger,
			BasePath: basePath,
			Users:    user.NewHandler(users, logger),
			OAuth:    oauth.NewHandler(logins, logger),
			Guard:    auth.NewGuard(verifier, nil),
			Verifier: verifier,
			Limiter:  limiter,
			Ping:     ping,
		}),
		signer:  signer,
		limiter: limiter,
	}
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) response.Envelope {
	t.Helper()
	var env response.Envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return env
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, "", func(context.Context) error { return nil })
	rec := s.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("health: %d %q", rec.Code, rec.Body)
	}

	s = newTestServer(t, "", func(context.Context) error { return errors.New("down") })
	rec = s.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("health with failing store: %d", rec.Code)
	}
}

func TestBasePathAndNotFound(t *testing.T) {
	s := newTestServer(t, "/identity", nil)
	if rec := s.do(httptest.NewRequest(http.MethodGet, "/identity/health", nil)); rec.Code != http.StatusOK {
		t.Fatalf("mounted health: %d", rec.Code)
	}
	for _, path := range []string{"/health", "/identity/nope"} {
		rec := s.do(httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusNotFound || decode(t, rec).Code != response.NotFound {
			t.Errorf("%s: %d %s", path, rec.Code, rec.Body)
		}
	}
}

func TestSessionGuarded(t *testing.T) {
	s := newTestServer(t, "", nil)

	rec := s.do(httptest.NewRequest(http.MethodGet, "/session", nil))
	if rec.Code != http.StatusUnauthorized || decode(t, rec).Code != response.AuthError {
		t.Fatalf("no header: %d %s", rec.Code, rec.Body)
	}

	u := &entity.User{ID: "u-1", Username: "alice", Modes: []entity.Mode{entity.ModeTeacher}}
	tok, err := s.signer.Issue(session.NewSessionClaims(u, time.Now()))
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/session", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec = s.do(req)
	if rec.Code != http.StatusOK {
		t.Fatalf("with token: %d %s", rec.Code, rec.Body)
	}
	var body struct {
		Data auth.Identity `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Data.UserID != "u-1" || body.Data.Username != "alice" {
		t.Errorf("identity = %+v", body.Data)
	}
}

func TestRateLimitPerIP(t *testing.T) {
	s := newTestServer(t, "", nil)
	login := func(remote string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/user/login", strings.NewReader(`{"email":"a@example.com","password":"x"}`))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = remote
		return s.do(req)
	}
	for i := 0; i < 2; i++ {
		if rec := login("192.0.2.1:1000"); rec.Code == http.StatusTooManyRequests {
			t.Fatalf("request %d limited early", i)
		}
	}
	rec := login("192.0.2.1:1001")
	if rec.Code != http.StatusTooManyRequests || decode(t, rec).Code != response.TooManyRequests {
		t.Fatalf("third request: %d %s", rec.Code, rec.Body)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}
	if rec := login("192.0.2.2:1000"); rec.Code == http.StatusTooManyRequests {
		t.Fatal("other ip must have its own bucket")
	}

	// guarded routes are not limited
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/session", nil)
		req.RemoteAddr = "192.0.2.1:1000"
		if rec := s.do(req); rec.Code != http.StatusUnauthorized {
			t.Fatalf("session: %d", rec.Code)
		}
	}
}

func TestJWKS(t *testing.T) {
	s := newTestServer(t, "", nil)
	rec := s.do(httptest.NewRequest(http.MethodGet, "/.well-known/jwks.json", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("jwks: %d", rec.Code)
	}
	var doc struct {
		Keys []map[string]string `json:"keys"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(doc.Keys) != 1 || doc.Keys[0]["kty"] != "RSA" || doc.Keys[0]["kid"] == "" {
		t.Fatalf("jwks = %+v", doc)
	}
}

func TestRequestIDAndSecurityHeaders(t *testing.T) {
	s := newTestServer(t, "", nil)
	rec := s.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	if id := rec.Header().Get(RequestIDHeader); len(id) != 27 {
		t.Errorf("generated request id = %q", id)
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" || rec.Header().Get("Cache-Control") != "no-store" {
		t.Errorf("headers = %v", rec.Header())
	}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "abc")
	if got := s.do(req).Header().Get(RequestIDHeader); got != "abc" {
		t.Errorf("request id = %q, want the incoming one", got)
	}
}

func TestRecoverMiddleware(t *testing.T) {
	h := RecoverMiddleware(zap.NewNop().Sugar())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError || decode(t, rec).Code != response.InternalError {
		t.Fatalf("got %d %s", rec.Code, rec.Body)
	}
}

func TestRateLimiterCleanup(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{Rate: 1, Burst: 1, CleanupInterval: time.Hour}, zap.NewNop().Sugar())
	defer rl.Stop()
	rl.limiter("198.51.100.1")
	rl.limiter("198.51.100.2")
	if rl.Len() != 2 {
		t.Fatalf("Len = %d", rl.Len())
	}
	rl.cleanup(time.Now())
	if rl.Len() != 2 {
		t.Fatalf("fresh entries removed")
	}
	rl.cleanup(time.Now().Add(3 * time.Hour))
	if rl.Len() != 0 {
		t.Fatalf("Len after cleanup = %d", rl.Len())
	}
	rl.Stop()
}
