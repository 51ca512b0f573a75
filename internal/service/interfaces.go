package service

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"time"

	"step_ingestor/internal/domain"
)

type ActivityStore interface {
	UpsertSummaries(ctx context.Context, summaries []domain.ActivitySummary) error
	UpsertSamples(ctx context.Context, samples []domain.StepSample) error
	LatestSummaryDate(ctx context.Context, userID string) (time.Time, bool, error)
}

type UserStore interface {
	Add(ctx context.Context, user *domain.User) (bool, error)
	UpsertAccessToken(ctx context.Context, token *domain.AccessToken) error
	GetAccessToken(ctx context.Context, userID string) (*domain.AccessToken, error)
	List(ctx context.Context) ([]domain.User, error)
	Delete(ctx context.Context, userID string) (bool, error)
}

type Source interface {
	ID() string
	Name() string
	FetchRange(ctx context.Context, creds domain.Credentials, from, to time.Time) ([]domain.DailyPayload, error)
	RegisterUser(ctx context.Context, accessToken, memberID string) error
}

type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type Publisher interface {
	Publish(ctx context.Context, event *domain.SyncEvent) error
	Close() error
}

type TokenSealer interface {
	Seal(plaintext string) (string, error)
	Open(sealed string) (string, error)
}
