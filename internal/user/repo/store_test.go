package repo

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ovaphlow/pitchfork/service-identity-go/internal/user/entity"
)

// runStoreContract exercises the behavior every Store implementation must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("insert if absent", func(t *testing.T) {
		s := newStore(t)
		hash := "$2a$10$hash"
		nu := entity.NewUser{
			Username:     "alice",
			Email:        "alice@example.com",
			PasswordHash: &hash,
			Modes:        []entity.Mode{entity.ModeTeacher, entity.ModeStudent},
		}
		inserted, err := s.InsertIfAbsent(ctx, nu)
		if err != nil || !inserted {
			t.Fatalf("first InsertIfAbsent = %v, %v", inserted, err)
		}
		nu.Username = "mallory"
		inserted, err = s.InsertIfAbsent(ctx, nu)
		if err != nil || inserted {
			t.Fatalf("second InsertIfAbsent = %v, %v", inserted, err)
		}

		u, err := s.FindByEmail(ctx, "alice@example.com")
		if err != nil {
			t.Fatalf("FindByEmail: %v", err)
		}
		if u.ID == "" {
			t.Fatal("id not assigned")
		}
		if u.Username != "alice" {
			t.Errorf("username = %q, existing record must be untouched", u.Username)
		}
		if u.PasswordHash == nil || *u.PasswordHash != hash {
			t.Errorf("password hash = %v", u.PasswordHash)
		}
		if !reflect.DeepEqual(u.Modes, []entity.Mode{entity.ModeStudent, entity.ModeTeacher}) {
			t.Errorf("modes = %v", u.Modes)
		}
		if len(u.LoginIPs) != 0 || len(u.Connects) != 0 {
			t.Errorf("expected empty sets, got %v %v", u.LoginIPs, u.Connects)
		}

		byID, err := s.FindByID(ctx, u.ID)
		if err != nil {
			t.Fatalf("FindByID: %v", err)
		}
		if byID.Email != u.Email {
			t.Errorf("FindByID email = %q", byID.Email)
		}
	})

	t.Run("not found", func(t *testing.T) {
		s := newStore(t)
		if _, err := s.FindByEmail(ctx, "nobody@example.com"); !errors.Is(err, ErrNotFound) {
			t.Errorf("FindByEmail err = %v", err)
		}
		if _, err := s.FindByID(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("FindByID err = %v", err)
		}
		if err := s.AddLoginIPAndModes(ctx, "nobody@example.com", "1.1.1.1", nil); !errors.Is(err, ErrNotFound) {
			t.Errorf("AddLoginIPAndModes err = %v", err)
		}
		if err := s.UpsertConnect(ctx, "nobody@example.com", entity.ConnectedAccount{Provider: entity.ProviderGoogle}); !errors.Is(err, ErrNotFound) {
			t.Errorf("UpsertConnect err = %v", err)
		}
		if err := s.UpdateProfile(ctx, "missing", nil, nil); !errors.Is(err, ErrNotFound) {
			t.Errorf("UpdateProfile err = %v", err)
		}
		found, err := s.SetEmailVerified(ctx, "nobody@example.com")
		if err != nil || found {
			t.Errorf("SetEmailVerified = %v, %v", found, err)
		}
	})

	t.Run("set union", func(t *testing.T) {
		s := newStore(t)
		mustInsert(t, s, "bob@example.com")
		steps := []struct {
			ip    string
			modes []entity.Mode
		}{
			{"10.0.0.1", []entity.Mode{entity.ModeStudent}},
			{"10.0.0.2", []entity.Mode{entity.ModeParents}},
			{"10.0.0.1", []entity.Mode{entity.ModeParents, entity.ModeStudent}},
			{"", nil},
		}
		for _, st := range steps {
			if err := s.AddLoginIPAndModes(ctx, "bob@example.com", st.ip, st.modes); err != nil {
				t.Fatalf("AddLoginIPAndModes(%q): %v", st.ip, err)
			}
		}
		u, err := s.FindByEmail(ctx, "bob@example.com")
		if err != nil {
			t.Fatalf("FindByEmail: %v", err)
		}
		if !reflect.DeepEqual(u.LoginIPs, []string{"10.0.0.1", "10.0.0.2"}) {
			t.Errorf("login ips = %v", u.LoginIPs)
		}
		if !reflect.DeepEqual(u.Modes, []entity.Mode{entity.ModeStudent, entity.ModeParents}) {
			t.Errorf("modes = %v", u.Modes)
		}
	})

	t.Run("connect keyed by provider", func(t *testing.T) {
		s := newStore(t)
		mustInsert(t, s, "carol@example.com")
		links := []entity.ConnectedAccount{
			{Provider: entity.ProviderGoogle, Name: "Carol", Email: "carol@example.com"},
			{Provider: entity.ProviderFacebook, Name: "$Carol F", Email: "carol@fb.example.com"},
			{Provider: entity.ProviderGoogle, Name: "Carol G", Email: "carol@example.com"},
		}
		for _, c := range links {
			if err := s.UpsertConnect(ctx, "carol@example.com", c); err != nil {
				t.Fatalf("UpsertConnect(%s): %v", c.Provider, err)
			}
		}
		u, err := s.FindByEmail(ctx, "carol@example.com")
		if err != nil {
			t.Fatalf("FindByEmail: %v", err)
		}
		want := []entity.ConnectedAccount{
			{Provider: entity.ProviderGoogle, Name: "Carol G", Email: "carol@example.com"},
			{Provider: entity.ProviderFacebook, Name: "$Carol F", Email: "carol@fb.example.com"},
		}
		if !reflect.DeepEqual(u.Connects, want) {
			t.Errorf("connects = %+v, want %+v", u.Connects, want)
		}
	})

	t.Run("verify email and profile", func(t *testing.T) {
		s := newStore(t)
		mustInsert(t, s, "dave@example.com")
		found, err := s.SetEmailVerified(ctx, "dave@example.com")
		if err != nil || !found {
			t.Fatalf("SetEmailVerified = %v, %v", found, err)
		}
		u, _ := s.FindByEmail(ctx, "dave@example.com")
		if !u.VerifiedEmail {
			t.Fatal("email not marked verified")
		}

		name := "David"
		if err := s.UpdateProfile(ctx, u.ID, &name, []entity.Mode{entity.ModeTeacher, entity.ModeParents}); err != nil {
			t.Fatalf("UpdateProfile: %v", err)
		}
		u, _ = s.FindByEmail(ctx, "dave@example.com")
		if u.Username != "David" {
			t.Errorf("username = %q", u.Username)
		}
		if !reflect.DeepEqual(u.Modes, []entity.Mode{entity.ModeTeacher, entity.ModeParents}) {
			t.Errorf("modes = %v", u.Modes)
		}

		if err := s.UpdateProfile(ctx, u.ID, nil, nil); err != nil {
			t.Fatalf("UpdateProfile no-op: %v", err)
		}
	})

	t.Run("concurrent insert", func(t *testing.T) {
		s := newStore(t)
		const n = 8
		var (
			wg       sync.WaitGroup
			inserted atomic.Int32
		)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := s.InsertIfAbsent(ctx, entity.NewUser{Username: "eve", Email: "eve@example.com", Modes: []entity.Mode{entity.ModeStudent}})
				if err != nil {
					t.Errorf("InsertIfAbsent: %v", err)
					return
				}
				if ok {
					inserted.Add(1)
				}
			}()
		}
		wg.Wait()
		if got := inserted.Load(); got != 1 {
			t.Fatalf("%d callers inserted, want exactly 1", got)
		}
	})
}

func mustInsert(t *testing.T, s Store, email string) {
	t.Helper()
	if _, err := s.InsertIfAbsent(context.Background(), entity.NewUser{Username: "u", Email: email, Modes: []entity.Mode{entity.ModeStudent}}); err != nil {
		t.Fatalf("InsertIfAbsent(%s): %v", email, err)
	}
}
