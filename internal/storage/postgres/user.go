package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"step_ingestor/internal/domain"
)

type UserStore struct {
	db *sqlx.DB
}

func NewUserStore(db *sqlx.DB) *UserStore {
	return &UserStore{db: db}
}

// Add inserts the user unless it already exists and reports whether a row was inserted.
func (s *UserStore) Add(ctx context.Context, user *domain.User) (bool, error) {
	res, err := GetExecutor(ctx, s.db).ExecContext(ctx, `
		INSERT INTO app_user (user_id, polar_member_id)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO NOTHING`,
		user.ID, user.PolarMemberID,
	)
	if err != nil {
		return false, fmt.Errorf("add user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *UserStore) UpsertAccessToken(ctx context.Context, token *domain.AccessToken) error {
	_, err := GetExecutor(ctx, s.db).ExecContext(ctx, `
		INSERT INTO access_token (user_id, access_token, issuer, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE SET
			access_token = EXCLUDED.access_token,
			issuer = EXCLUDED.issuer,
			expires_at = EXCLUDED.expires_at,
			updated_at = now()`,
		token.UserID, token.Token, token.Issuer, token.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("upsert access token: %w", err)
	}
	return nil
}

func (s *UserStore) GetAccessToken(ctx context.Context, userID string) (*domain.AccessToken, error) {
	var token domain.AccessToken
	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &token, `
		SELECT user_id, access_token, issuer, issued_at, updated_at, expires_at
		FROM access_token
		WHERE user_id = $1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("access token of user %s: %w", userID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get access token: %w", err)
	}
	return &token, nil
}

// List returns the users holding an access token.
func (s *UserStore) List(ctx context.Context) ([]domain.User, error) {
	var users []domain.User
	err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &users, `
		SELECT u.user_id, u.polar_member_id, u.created_at, u.updated_at
		FROM app_user u
		INNER JOIN access_token t ON t.user_id = u.user_id
		ORDER BY u.user_id`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// Delete removes the user together with its token and activity data.
func (s *UserStore) Delete(ctx context.Context, userID string) (bool, error) {
	res, err := GetExecutor(ctx, s.db).ExecContext(ctx, "DELETE FROM app_user WHERE user_id = $1", userID)
	if err != nil {
		return false, fmt.Errorf("delete user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
