package repo

import (
	"context"
	"errors"

	"github.com/ovaphlow/pitchfork/service-identity-go/internal/user/entity"
)

var ErrNotFound = errors.New("user not found")

// Store is the persistence surface the identity core relies on. Emails are
// passed already normalized.
//
// InsertIfAbsent must be atomic: among concurrent callers for one email at
// most one observes inserted == true, and every caller returns only after the
// winning document is visible. AddLoginIPAndModes and UpsertConnect are
// set-union updates and are idempotent under repetition.
type Store interface {
	FindByEmail(ctx context.Context, email string) (*entity.User, error)
	FindByID(ctx context.Context, id string) (*entity.User, error)
	InsertIfAbsent(ctx context.Context, u entity.NewUser) (inserted bool, err error)
	AddLoginIPAndModes(ctx context.Context, email, ip string, modes []entity.Mode) error
	// UpsertConnect links c, replacing an existing link for the same provider.
	UpsertConnect(ctx context.Context, email string, c entity.ConnectedAccount) error
	SetEmailVerified(ctx context.Context, email string) (found bool, err error)
	// UpdateProfile sets the username when non-nil and replaces the mode set
	// when modes is non-nil.
	UpdateProfile(ctx context.Context, id string, username *string, modes []entity.Mode) error
	Ping(ctx context.Context) error
}
