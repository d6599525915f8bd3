package entity

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Mode is a role a user holds on the platform. A user may hold several.
type Mode string

const (
	ModeStudent Mode = "Student"
	ModeTeacher Mode = "Teacher"
	ModeParents Mode = "Parents"
)

// Modes in canonical order.
var Modes = []Mode{ModeStudent, ModeTeacher, ModeParents}

func (m Mode) Valid() bool {
	switch m {
	case ModeStudent, ModeTeacher, ModeParents:
		return true
	}
	return false
}

func (m *Mode) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseMode(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// ParseMode accepts the canonical names case-insensitively; "Parent" is
// accepted for Parents.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "student":
		return ModeStudent, nil
	case "teacher":
		return ModeTeacher, nil
	case "parents", "parent":
		return ModeParents, nil
	}
	return "", fmt.Errorf("unknown mode %q", s)
}

// NormalizeModes drops duplicates and unknown values and returns the rest in
// canonical order.
func NormalizeModes(in []Mode) []Mode {
	out := make([]Mode, 0, len(Modes))
	for _, m := range Modes {
		for _, v := range in {
			if v == m {
				out = append(out, m)
				break
			}
		}
	}
	return out
}

// ProviderKind names an external OAuth2 identity source.
type ProviderKind string

const (
	ProviderGoogle   ProviderKind = "Google"
	ProviderFacebook ProviderKind = "Facebook"
)

// ConnectedAccount links a User to one external provider identity. A user
// has at most one per provider.
type ConnectedAccount struct {
	Provider ProviderKind `json:"provider" bson:"provider" db:"provider"`
	Name     string       `json:"name" bson:"name" db:"name"`
	Email    string       `json:"email" bson:"email" db:"email"`
}

// User is the account aggregate. Email is the natural key.
type User struct {
	ID            string             `json:"id" bson:"_id"`
	Username      string             `json:"username" bson:"username"`
	Email         string             `json:"email" bson:"email"`
	VerifiedEmail bool               `json:"verified_email" bson:"verified_email"`
	PasswordHash  *string            `json:"-" bson:"password_hash,omitempty"`
	Modes         []Mode             `json:"modes" bson:"modes"`
	LoginIPs      []string           `json:"login_ips" bson:"login_ips"`
	Connects      []ConnectedAccount `json:"connects" bson:"connects"`
}

// HasMode reports whether m is in the user's mode set.
func (u *User) HasMode(m Mode) bool {
	for _, v := range u.Modes {
		if v == m {
			return true
		}
	}
	return false
}

// Connect returns the linked account for provider, if any.
func (u *User) Connect(provider ProviderKind) (ConnectedAccount, bool) {
	for _, c := range u.Connects {
		if c.Provider == provider {
			return c, true
		}
	}
	return ConnectedAccount{}, false
}

// NewUser carries the fields written when a user is first inserted.
type NewUser struct {
	Username      string
	Email         string
	VerifiedEmail bool
	PasswordHash  *string
	Modes         []Mode
}

// NormalizeEmail trims and lower-cases an address so it can serve as a key.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
