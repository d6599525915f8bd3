package user

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/ovaphlow/pitchfork/service-identity-go/internal/mail"
	"github.com/ovaphlow/pitchfork/service-identity-go/internal/metrics"
	"github.com/ovaphlow/pitchfork/service-identity-go/internal/session"
	"github.com/ovaphlow/pitchfork/service-identity-go/internal/user/entity"
	userrepo "github.com/ovaphlow/pitchfork/service-identity-go/internal/user/repo"
)

// PasswordHasher defines minimal hashing interface (abstract so we can swap to argon2 later).
type PasswordHasher interface {
	Hash(pw string) (string, error)
	Verify(hash, pw string) bool
}

// BcryptHasher implementation.
type BcryptHasher struct{ Cost int }

func (b BcryptHasher) Hash(pw string) (string, error) {
	cost := b.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	h, err := bcrypt.GenerateFromPassword([]byte(pw), cost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

func (b BcryptHasher) Verify(hash, pw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}

var (
	ErrUserNotFound    = errors.New("user not found")
	ErrBadCredentials  = errors.New("invalid credentials")
	ErrEmailRegistered = errors.New("email already registered")
	ErrInvalidInput    = errors.New("invalid input")
	ErrVerifyEmail     = errors.New("email verification failed")
	ErrNoModes         = errors.New("at least one mode is required")
)

// Deps wires a UserService. Hasher, Merger and Metrics have defaults.
type Deps struct {
	Store    userrepo.Store
	Merger   *Merger
	Hasher   PasswordHasher
	Signer   *session.Signer
	Verifier *session.Verifier
	Mailer   mail.Mailer
	Metrics  metrics.Recorder
	Logger   *zap.SugaredLogger
	// VerifyEmailURL receives the verification token as ?code=.
	VerifyEmailURL string
}

// UserService orchestrates the password account flows on top of the merger.
type UserService struct {
	store     userrepo.Store
	merger    *Merger
	hasher    PasswordHasher
	signer    *session.Signer
	verifier  *session.Verifier
	mailer    mail.Mailer
	metrics   metrics.Recorder
	logger    *zap.SugaredLogger
	verifyURL string
	now       func() time.Time
}

func NewUserService(d Deps) *UserService {
	if d.Metrics == nil {
		d.Metrics = metrics.Nop{}
	}
	if d.Merger == nil {
		d.Merger = NewMerger(d.Store, d.Metrics)
	}
	if d.Hasher == nil {
		d.Hasher = BcryptHasher{Cost: 12}
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop().Sugar()
	}
	return &UserService{
		store:     d.Store,
		merger:    d.Merger,
		hasher:    d.Hasher,
		signer:    d.Signer,
		verifier:  d.Verifier,
		mailer:    d.Mailer,
		metrics:   d.Metrics,
		logger:    d.Logger,
		verifyURL: d.VerifyEmailURL,
		now:       time.Now,
	}
}

type SignUpInput struct {
	Username string
	Email    string
	Password string
	Modes    []entity.Mode
	IP       string
}

// SignUp registers a password account and returns a session token for it.
// An email that already has a user, OAuth-only or not, is rejected with
// ErrEmailRegistered; the password is never attached to the existing record.
func (s *UserService) SignUp(ctx context.Context, in SignUpInput) (string, *entity.User, error) {
	username := strings.TrimSpace(in.Username)
	email := entity.NormalizeEmail(in.Email)
	if username == "" || !strings.Contains(email, "@") || in.Password == "" {
		s.metrics.SignUp(metrics.ResultRejected)
		return "", nil, ErrInvalidInput
	}
	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		s.metrics.SignUp(metrics.ResultError)
		return "", nil, fmt.Errorf("hash password: %w", err)
	}

	res, err := s.merger.Merge(ctx, MergeInput{
		Username:     username,
		Email:        email,
		IP:           in.IP,
		Modes:        in.Modes,
		PasswordHash: &hash,
	})
	if err != nil {
		s.metrics.SignUp(metrics.ResultError)
		return "", nil, err
	}
	if !res.Created {
		s.metrics.SignUp(metrics.ResultConflict)
		return "", nil, ErrEmailRegistered
	}

	s.sendVerifyEmail(ctx, res.User)

	tok, err := s.signer.Issue(session.NewSessionClaims(res.User, s.now()))
	if err != nil {
		s.metrics.SignUp(metrics.ResultError)
		return "", nil, err
	}
	s.metrics.SignUp(metrics.ResultOK)
	return tok, res.User, nil
}

// sendVerifyEmail is best effort: the account exists either way.
func (s *UserService) sendVerifyEmail(ctx context.Context, u *entity.User) {
	if s.mailer == nil {
		return
	}
	tok, err := s.signer.Issue(session.NewVerifyEmailClaims(u.Email, s.now()))
	if err != nil {
		s.logger.Warnw("issue verify email token failed", "user_id", u.ID, "err", err)
		return
	}
	if err := s.mailer.SendVerifyEmail(ctx, u.Email, u.Username, s.verifyLink(tok)); err != nil {
		s.logger.Warnw("send verify email failed", "user_id", u.ID, "err", err)
	}
}

func (s *UserService) verifyLink(token string) string {
	sep := "?"
	if strings.Contains(s.verifyURL, "?") {
		sep = "&"
	}
	return s.verifyURL + sep + url.Values{"code": {token}}.Encode()
}

// AuthenticatePassword checks the password and, on success, records the login
// through the merger before issuing a session token from the stored record.
func (s *UserService) AuthenticatePassword(ctx context.Context, email, password, ip string) (string, *entity.User, error) {
	email = entity.NormalizeEmail(email)
	if email == "" {
		s.metrics.PasswordLogin(metrics.ResultRejected)
		return "", nil, ErrUserNotFound
	}
	u, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, userrepo.ErrNotFound) {
			s.metrics.PasswordLogin(metrics.ResultRejected)
			return "", nil, ErrUserNotFound
		}
		s.metrics.PasswordLogin(metrics.ResultError)
		return "", nil, fmt.Errorf("%w: find: %w", ErrStorage, err)
	}
	if u.PasswordHash == nil || *u.PasswordHash == "" || !s.hasher.Verify(*u.PasswordHash, password) {
		s.metrics.PasswordLogin(metrics.ResultRejected)
		return "", nil, ErrBadCredentials
	}

	res, err := s.merger.Merge(ctx, MergeInput{Username: u.Username, Email: u.Email, IP: ip})
	if err != nil {
		s.metrics.PasswordLogin(metrics.ResultError)
		return "", nil, err
	}
	tok, err := s.signer.Issue(session.NewSessionClaims(res.User, s.now()))
	if err != nil {
		s.metrics.PasswordLogin(metrics.ResultError)
		return "", nil, err
	}
	s.metrics.PasswordLogin(metrics.ResultOK)
	return tok, res.User, nil
}

// Profile reads the current stored user, not the token snapshot.
func (s *UserService) Profile(ctx context.Context, id string) (*entity.User, error) {
	u, err := s.store.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, userrepo.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("%w: find: %w", ErrStorage, err)
	}
	return u, nil
}

// UpdateProfile replaces the mode set and, when non-empty, the username, then
// issues a fresh token so the caller's claims match the stored record.
func (s *UserService) UpdateProfile(ctx context.Context, id, username string, modes []entity.Mode) (string, *entity.User, error) {
	modes = entity.NormalizeModes(modes)
	if len(modes) == 0 {
		return "", nil, ErrNoModes
	}
	var name *string
	if n := strings.TrimSpace(username); n != "" {
		name = &n
	}
	if err := s.store.UpdateProfile(ctx, id, name, modes); err != nil {
		if errors.Is(err, userrepo.ErrNotFound) {
			return "", nil, ErrUserNotFound
		}
		return "", nil, fmt.Errorf("%w: update profile: %w", ErrStorage, err)
	}
	u, err := s.Profile(ctx, id)
	if err != nil {
		return "", nil, err
	}
	tok, err := s.signer.Issue(session.NewSessionClaims(u, s.now()))
	if err != nil {
		return "", nil, err
	}
	return tok, u, nil
}

// VerifyEmail accepts only a verify-email token and marks its address verified.
func (s *UserService) VerifyEmail(ctx context.Context, token string) error {
	claims, err := s.verifier.VerifyEmailToken(token)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrVerifyEmail, err)
	}
	found, err := s.store.SetEmailVerified(ctx, entity.NormalizeEmail(claims.Email))
	if err != nil {
		return fmt.Errorf("%w: set verified: %w", ErrStorage, err)
	}
	if !found {
		return fmt.Errorf("%w: no user for %s", ErrVerifyEmail, claims.Email)
	}
	return nil
}
