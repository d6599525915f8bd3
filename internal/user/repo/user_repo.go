package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-identity-go/internal/user/entity"
)

// UserRepo stores users in a SQL database through sqlx. The same queries run
// on postgres (lib/pq or pgx) and sqlite; they are written with ? and rebound
// for the driver. The schema lives in pkg/database/migrations.
type UserRepo struct {
	db   *sqlx.DB
	node *snowflake.Node
}

// NewUserRepo uses node both for user ids and for the insertion sequence that
// orders login ips and linked accounts.
func NewUserRepo(db *sqlx.DB, node *snowflake.Node) *UserRepo {
	return &UserRepo{db: db, node: node}
}

type userRow struct {
	ID            string         `db:"id"`
	Username      string         `db:"username"`
	Email         string         `db:"email"`
	VerifiedEmail bool           `db:"verified_email"`
	PasswordHash  sql.NullString `db:"password_hash"`
}

const selectUser = `SELECT id, username, email, verified_email, password_hash FROM users`

func (r *UserRepo) FindByEmail(ctx context.Context, email string) (*entity.User, error) {
	return r.find(ctx, selectUser+` WHERE email = ?`, email)
}

func (r *UserRepo) FindByID(ctx context.Context, id string) (*entity.User, error) {
	return r.find(ctx, selectUser+` WHERE id = ?`, id)
}

func (r *UserRepo) find(ctx context.Context, q string, arg string) (*entity.User, error) {
	var row userRow
	if err := r.db.GetContext(ctx, &row, r.db.Rebind(q), arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	u := &entity.User{
		ID:            row.ID,
		Username:      row.Username,
		Email:         row.Email,
		VerifiedEmail: row.VerifiedEmail,
		LoginIPs:      []string{},
		Connects:      []entity.ConnectedAccount{},
	}
	if row.PasswordHash.Valid {
		h := row.PasswordHash.String
		u.PasswordHash = &h
	}

	var modes []entity.Mode
	if err := r.db.SelectContext(ctx, &modes, r.db.Rebind(`SELECT mode FROM user_modes WHERE user_id = ?`), u.ID); err != nil {
		return nil, fmt.Errorf("load modes: %w", err)
	}
	u.Modes = entity.NormalizeModes(modes)

	if err := r.db.SelectContext(ctx, &u.LoginIPs, r.db.Rebind(`SELECT ip FROM user_login_ips WHERE user_id = ? ORDER BY seq`), u.ID); err != nil {
		return nil, fmt.Errorf("load login ips: %w", err)
	}
	if err := r.db.SelectContext(ctx, &u.Connects, r.db.Rebind(`SELECT provider, name, email FROM user_connects WHERE user_id = ? ORDER BY seq`), u.ID); err != nil {
		return nil, fmt.Errorf("load connects: %w", err)
	}
	return u, nil
}

// InsertIfAbsent relies on the unique email index: a concurrent second insert
// waits for the first transaction and then does nothing.
func (r *UserRepo) InsertIfAbsent(ctx context.Context, nu entity.NewUser) (bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	id := r.node.Generate().String()
	var hash sql.NullString
	if nu.PasswordHash != nil {
		hash = sql.NullString{String: *nu.PasswordHash, Valid: true}
	}
	res, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO users (id, username, email, verified_email, password_hash)
		VALUES (?, ?, ?, ?, ?) ON CONFLICT (email) DO NOTHING`),
		id, nu.Username, nu.Email, nu.VerifiedEmail, hash)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, tx.Commit()
	}
	if err := insertModes(ctx, tx, id, nu.Modes); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

func (r *UserRepo) AddLoginIPAndModes(ctx context.Context, email, ip string, modes []entity.Mode) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	id, err := userIDByEmail(ctx, tx, email)
	if err != nil {
		return err
	}
	if ip != "" {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO user_login_ips (user_id, ip, seq) VALUES (?, ?, ?)
			ON CONFLICT (user_id, ip) DO NOTHING`), id, ip, r.node.Generate().Int64()); err != nil {
			return fmt.Errorf("add login ip: %w", err)
		}
	}
	if err := insertModes(ctx, tx, id, modes); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *UserRepo) UpsertConnect(ctx context.Context, email string, c entity.ConnectedAccount) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	id, err := userIDByEmail(ctx, tx, email)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO user_connects (user_id, provider, name, email, seq) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id, provider) DO UPDATE SET name = excluded.name, email = excluded.email`),
		id, string(c.Provider), c.Name, c.Email, r.node.Generate().Int64()); err != nil {
		return fmt.Errorf("upsert connect: %w", err)
	}
	return tx.Commit()
}

func (r *UserRepo) SetEmailVerified(ctx context.Context, email string) (bool, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`UPDATE users SET verified_email = ?, updated_at = CURRENT_TIMESTAMP WHERE email = ?`), true, email)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *UserRepo) UpdateProfile(ctx context.Context, id string, username *string, modes []entity.Mode) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var exists int
	if err := tx.GetContext(ctx, &exists, tx.Rebind(`SELECT COUNT(*) FROM users WHERE id = ?`), id); err != nil {
		return err
	}
	if exists == 0 {
		return ErrNotFound
	}
	if username != nil {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE users SET username = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`), *username, id); err != nil {
			return fmt.Errorf("update username: %w", err)
		}
	}
	if modes != nil {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM user_modes WHERE user_id = ?`), id); err != nil {
			return fmt.Errorf("clear modes: %w", err)
		}
		if err := insertModes(ctx, tx, id, modes); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *UserRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func userIDByEmail(ctx context.Context, tx *sqlx.Tx, email string) (string, error) {
	var id string
	if err := tx.GetContext(ctx, &id, tx.Rebind(`SELECT id FROM users WHERE email = ?`), email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}
	return id, nil
}

func insertModes(ctx context.Context, tx *sqlx.Tx, userID string, modes []entity.Mode) error {
	q := tx.Rebind(`INSERT INTO user_modes (user_id, mode) VALUES (?, ?) ON CONFLICT (user_id, mode) DO NOTHING`)
	for _, m := range entity.NormalizeModes(modes) {
		if _, err := tx.ExecContext(ctx, q, userID, string(m)); err != nil {
			return fmt.Errorf("add mode: %w", err)
		}
	}
	return nil
}
