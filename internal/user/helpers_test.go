package user

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"sync"
	"testing"

	"github.com/ovaphlow/pitchfork/service-identity-go/internal/session"
	"github.com/ovaphlow/pitchfork/service-identity-go/internal/user/entity"
	userrepo "github.com/ovaphlow/pitchfork/service-identity-go/internal/user/repo"
	"github.com/ovaphlow/pitchfork/service-identity-go/pkg/utilities"
)

var (
	keyOnce sync.Once
	testKey *rsa.PrivateKey
	keyErr  error
)

func signerAndVerifier(t *testing.T) (*session.Signer, *session.Verifier) {
	t.Helper()
	keyOnce.Do(func() { testKey, keyErr = rsa.GenerateKey(rand.Reader, 2048) })
	if keyErr != nil {
		t.Fatalf("generate key: %v", keyErr)
	}
	return session.NewSigner(testKey, ""), session.NewVerifier(&testKey.PublicKey, "")
}

func newMemoryStore() *userrepo.MemoryStore {
	return userrepo.NewMemoryStore(func() string { return utilities.NewSnowflakeIDWithNode(7) })
}

// faultyStore fails the operations whose hook is set and delegates the rest.
type faultyStore struct {
	*userrepo.MemoryStore
	insertErr  error
	addErr     error
	connectErr error
}

func (s *faultyStore) InsertIfAbsent(ctx context.Context, u entity.NewUser) (bool, error) {
	if s.insertErr != nil {
		return false, s.insertErr
	}
	return s.MemoryStore.InsertIfAbsent(ctx, u)
}

func (s *faultyStore) AddLoginIPAndModes(ctx context.Context, email, ip string, modes []entity.Mode) error {
	if s.addErr != nil {
		return s.addErr
	}
	return s.MemoryStore.AddLoginIPAndModes(ctx, email, ip, modes)
}

func (s *faultyStore) UpsertConnect(ctx context.Context, email string, c entity.ConnectedAccount) error {
	if s.connectErr != nil {
		return s.connectErr
	}
	return s.MemoryStore.UpsertConnect(ctx, email, c)
}

// recordingMailer captures outgoing verify-email links.
type recordingMailer struct {
	mu    sync.Mutex
	links []string
	err   error
}

func (m *recordingMailer) SendVerifyEmail(_ context.Context, _, _, link string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.links = append(m.links, link)
	return m.err
}

// fastHasher keeps tests quick; bcrypt itself is covered separately.
type fastHasher struct{}

func (fastHasher) Hash(pw string) (string, error) { return "h:" + pw, nil }
func (fastHasher) Verify(hash, pw string) bool    { return hash == "h:"+pw }
