package db

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"guardian/internal/ids"
	"guardian/internal/models"
)

type UserRepository struct {
	db *DB
}

func NewUserRepository(db *DB) *UserRepository {
	return &UserRepository{db: db}
}

// UpsertByEmail returns the user for an email address, creating the
// record on first login. The stub login flow accepts any credentials,
// so this is the only registration path.
func (r *UserRepository) UpsertByEmail(email string) (*models.User, error) {
	if existing, err := r.FindByEmail(email); err == nil {
		return existing, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	id, err := ids.Generate("usr")
	if err != nil {
		return nil, fmt.Errorf("generating user ID: %w", err)
	}
	now := time.Now().UTC()
	username := usernameFromEmail(email)

	_, err = r.db.Exec(
		`INSERT INTO users (id, username, email, created_at) VALUES (?, ?, ?, ?)`,
		id, username, email, now,
	)
	if err != nil {
		return nil, fmt.Errorf("creating user: %w", err)
	}

	return &models.User{
		ID:        id,
		Username:  username,
		Email:     email,
		CreatedAt: now,
	}, nil
}

func (r *UserRepository) FindByID(id string) (*models.User, error) {
	return r.findBy("id", id)
}

func (r *UserRepository) FindByEmail(email string) (*models.User, error) {
	return r.findBy("email", email)
}

func (r *UserRepository) findBy(column, value string) (*models.User, error) {
	var u models.User
	var updatedAt sql.NullTime

	err := r.db.QueryRow(
		`SELECT id, username, email, created_at, updated_at FROM users WHERE `+column+` = ?`,
		value,
	).Scan(&u.ID, &u.Username, &u.Email, &u.CreatedAt, &updatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}

	u.UpdatedAt = nullTimeToPtr(updatedAt)

	return &u, nil
}

func usernameFromEmail(email string) string {
	local, _, _ := strings.Cut(email, "@")
	if local == "" {
		return "user"
	}
	return local
}

// nullTimeToPtr converts a sql.NullTime to *time.Time.
func nullTimeToPtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	return &nt.Time
}
