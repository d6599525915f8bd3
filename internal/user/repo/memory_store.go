package repo

import (
	"context"
	"slices"
	"sync"

	"github.com/ovaphlow/pitchfork/service-identity-go/internal/user/entity"
)

// MemoryStore keeps users in process memory. It backs tests and STORE=memory
// development runs.
type MemoryStore struct {
	mu      sync.Mutex
	byEmail map[string]*entity.User
	emailOf map[string]string
	newID   func() string
}

func NewMemoryStore(newID func() string) *MemoryStore {
	return &MemoryStore{
		byEmail: make(map[string]*entity.User),
		emailOf: make(map[string]string),
		newID:   newID,
	}
}

func (s *MemoryStore) FindByEmail(_ context.Context, email string) (*entity.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byEmail[email]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneUser(u), nil
}

func (s *MemoryStore) FindByID(ctx context.Context, id string) (*entity.User, error) {
	s.mu.Lock()
	email, ok := s.emailOf[id]
	s.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	return s.FindByEmail(ctx, email)
}

func (s *MemoryStore) InsertIfAbsent(_ context.Context, nu entity.NewUser) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byEmail[nu.Email]; ok {
		return false, nil
	}
	u := &entity.User{
		ID:            s.newID(),
		Username:      nu.Username,
		Email:         nu.Email,
		VerifiedEmail: nu.VerifiedEmail,
		Modes:         entity.NormalizeModes(nu.Modes),
		LoginIPs:      []string{},
		Connects:      []entity.ConnectedAccount{},
	}
	if nu.PasswordHash != nil {
		h := *nu.PasswordHash
		u.PasswordHash = &h
	}
	s.byEmail[u.Email] = u
	s.emailOf[u.ID] = u.Email
	return true, nil
}

func (s *MemoryStore) AddLoginIPAndModes(_ context.Context, email, ip string, modes []entity.Mode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byEmail[email]
	if !ok {
		return ErrNotFound
	}
	if ip != "" && !slices.Contains(u.LoginIPs, ip) {
		u.LoginIPs = append(u.LoginIPs, ip)
	}
	u.Modes = entity.NormalizeModes(append(u.Modes, modes...))
	return nil
}

func (s *MemoryStore) UpsertConnect(_ context.Context, email string, c entity.ConnectedAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byEmail[email]
	if !ok {
		return ErrNotFound
	}
	for i := range u.Connects {
		if u.Connects[i].Provider == c.Provider {
			u.Connects[i] = c
			return nil
		}
	}
	u.Connects = append(u.Connects, c)
	return nil
}

func (s *MemoryStore) SetEmailVerified(_ context.Context, email string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byEmail[email]
	if !ok {
		return false, nil
	}
	u.VerifiedEmail = true
	return true, nil
}

func (s *MemoryStore) UpdateProfile(_ context.Context, id string, username *string, modes []entity.Mode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	email, ok := s.emailOf[id]
	if !ok {
		return ErrNotFound
	}
	u := s.byEmail[email]
	if username != nil {
		u.Username = *username
	}
	if modes != nil {
		u.Modes = entity.NormalizeModes(modes)
	}
	return nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func cloneUser(u *entity.User) *entity.User {
	c := *u
	if u.PasswordHash != nil {
		h := *u.PasswordHash
		c.PasswordHash = &h
	}
	c.Modes = slices.Clone(u.Modes)
	c.LoginIPs = slices.Clone(u.LoginIPs)
	c.Connects = slices.Clone(u.Connects)
	return &c
}
