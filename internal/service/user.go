package service

import (
	"context"
	"fmt"
	"log/slog"

	"step_ingestor/internal/domain"
)

const (
	memberIDPrefix = "polarclient"
	tokenIssuer    = "polar"
)

type UserService struct {
	source    Source
	users     UserStore
	txManager TransactionManager
	sealer    TokenSealer
	logger    *slog.Logger
}

func NewUserService(
	source Source,
	users UserStore,
	txManager TransactionManager,
	sealer TokenSealer,
	logger *slog.Logger,
) *UserService {
	return &UserService{
		source:    source,
		users:     users,
		txManager: txManager,
		sealer:    sealer,
		logger:    logger.With("source", source.ID()),
	}
}

// Register stores the user and its sealed access token, then registers the
// member with the upstream API. Registering an existing user replaces its token.
func (s *UserService) Register(ctx context.Context, reg domain.Registration) (*domain.User, error) {
	if reg.UserID == "" || reg.AccessToken == "" {
		return nil, fmt.Errorf("user id and access token are required")
	}

	sealed, err := s.sealer.Seal(reg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("seal access token: %w", err)
	}

	user := &domain.User{ID: reg.UserID, PolarMemberID: memberIDPrefix + reg.UserID}
	var created bool

	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		created, err = s.users.Add(txCtx, user)
		if err != nil {
			return err
		}
		return s.users.UpsertAccessToken(txCtx, &domain.AccessToken{
			UserID:    reg.UserID,
			Token:     sealed,
			Issuer:    tokenIssuer,
			ExpiresAt: reg.ExpiresAt,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("store user: %w", err)
	}

	if err := s.source.RegisterUser(ctx, reg.AccessToken, user.PolarMemberID); err != nil {
		return nil, fmt.Errorf("register member: %w", err)
	}

	s.logger.Info("user registered", "user_id", reg.UserID, "created", created)
	return user, nil
}

// Delete removes a user with its token and stored activity.
func (s *UserService) Delete(ctx context.Context, userID string) error {
	deleted, err := s.users.Delete(ctx, userID)
	if err != nil {
		return err
	}
	if !deleted {
		return fmt.Errorf("user %s: %w", userID, domain.ErrNotFound)
	}

	s.logger.Info("user deleted", "user_id", userID)
	return nil
}
