package user

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ovaphlow/pitchfork/service-identity-go/internal/metrics"
	"github.com/ovaphlow/pitchfork/service-identity-go/internal/user/entity"
	userrepo "github.com/ovaphlow/pitchfork/service-identity-go/internal/user/repo"
)

var (
	// ErrStorage wraps every store failure during a merge. Fatal to the request.
	ErrStorage = errors.New("identity storage failure")
	// ErrInvalidIdentity means the input has no usable email.
	ErrInvalidIdentity = errors.New("invalid identity")
)

// MergeInput is one login or sign-up attempt.
type MergeInput struct {
	Username      string
	Email         string
	IP            string
	VerifiedEmail bool
	// Modes requested by the caller. Used as the initial set on insert
	// (ModeStudent when empty) and added to an existing set otherwise.
	Modes        []entity.Mode
	PasswordHash *string
	// Connect is set on the OAuth path only.
	Connect *entity.ConnectedAccount
}

// MergeResult holds the user as stored after the merge. Created is true only
// for the call that inserted the record; sign-up treats false as "already
// registered", login ignores it.
type MergeResult struct {
	User    *entity.User
	Created bool
}

// Merger resolves a login or sign-up to exactly one user per email.
type Merger struct {
	store   userrepo.Store
	metrics metrics.Recorder
}

func NewMerger(store userrepo.Store, rec metrics.Recorder) *Merger {
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &Merger{store: store, metrics: rec}
}

// Merge runs, in order: insert-if-absent by email, set-union of ip and modes,
// the connected-account upsert (when given), and a re-read by email. Running
// it concurrently for one email converges on a single user holding the union
// of every caller's values. A failure in a later step leaves the earlier
// steps applied.
func (m *Merger) Merge(ctx context.Context, in MergeInput) (*MergeResult, error) {
	start := time.Now()
	defer func() { m.metrics.MergeDuration(time.Since(start)) }()

	email := entity.NormalizeEmail(in.Email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: email %q", ErrInvalidIdentity, in.Email)
	}
	requested := entity.NormalizeModes(in.Modes)
	initial := requested
	if len(initial) == 0 {
		initial = []entity.Mode{entity.ModeStudent}
	}

	created, err := m.store.InsertIfAbsent(ctx, entity.NewUser{
		Username:      in.Username,
		Email:         email,
		VerifiedEmail: in.VerifiedEmail,
		PasswordHash:  in.PasswordHash,
		Modes:         initial,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: insert: %w", ErrStorage, err)
	}

	if err := m.store.AddLoginIPAndModes(ctx, email, in.IP, requested); err != nil {
		return nil, fmt.Errorf("%w: add login ip and modes: %w", ErrStorage, err)
	}

	if in.Connect != nil {
		if err := m.store.UpsertConnect(ctx, email, *in.Connect); err != nil {
			return nil, fmt.Errorf("%w: upsert connect: %w", ErrStorage, err)
		}
	}

	u, err := m.store.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("%w: reload: %w", ErrStorage, err)
	}
	return &MergeResult{User: u, Created: created}, nil
}
