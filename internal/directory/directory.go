package directory

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"chat-sync/internal/models"
)

var ErrUserNotFound = errors.New("user not found")

// Directory abstracts user lookup and block-list persistence. It is the
// only component allowed to touch user records.
type Directory interface {
	CreateUser(ctx context.Context, user models.User) error
	GetUser(ctx context.Context, id string) (models.User, error)
	FindUserByUsername(ctx context.Context, username string) (models.User, error)
	FindUserByEmail(ctx context.Context, email string) (models.User, error)
	SetBlockedList(ctx context.Context, userID string, blocked []string) error
}

// Repo is a sqlx implementation of Directory.
type Repo struct {
	db *sqlx.DB
}

// NewRepo constructs a Repo.
func NewRepo(db *sqlx.DB) *Repo {
	return &Repo{db: db}
}

// CreateUser inserts a new user record.
func (r *Repo) CreateUser(ctx context.Context, user models.User) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, username, email, avatar_url, blocked, password_hash) VALUES ($1, $2, $3, $4, $5, $6)`,
		user.ID, user.Username, user.Email, user.AvatarURL, pq.StringArray(user.Blocked), user.PasswordHash)
	return err
}

// GetUser fetches a user by id.
func (r *Repo) GetUser(ctx context.Context, id string) (models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user, `SELECT id, username, email, avatar_url, blocked, password_hash, created_at FROM users WHERE id=$1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	return user, err
}

// FindUserByUsername fetches a user by exact username. The lookup key
// is case-sensitive.
func (r *Repo) FindUserByUsername(ctx context.Context, username string) (models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user, `SELECT id, username, email, avatar_url, blocked, password_hash, created_at FROM users WHERE username=$1`, username)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	return user, err
}

// FindUserByEmail fetches a user by email for login.
func (r *Repo) FindUserByEmail(ctx context.Context, email string) (models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user, `SELECT id, username, email, avatar_url, blocked, password_hash, created_at FROM users WHERE email=$1`, email)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	return user, err
}

// SetBlockedList overwrites the user's blocked set.
func (r *Repo) SetBlockedList(ctx context.Context, userID string, blocked []string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE users SET blocked=$2 WHERE id=$1`, userID, pq.StringArray(blocked))
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrUserNotFound
	}
	return nil
}
