package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"step_ingestor/internal/backfill"
	"step_ingestor/internal/config"
	"step_ingestor/internal/domain"
)

type SyncService struct {
	source     Source
	activities ActivityStore
	users      UserStore
	txManager  TransactionManager
	publisher  Publisher
	sealer     TokenSealer
	logger     *slog.Logger
	config     config.SyncConfig
	location   *time.Location
	now        func() time.Time
}

// NewSyncService creates the sync service. publisher may be nil.
func NewSyncService(
	source Source,
	activities ActivityStore,
	users UserStore,
	txManager TransactionManager,
	publisher Publisher,
	sealer TokenSealer,
	logger *slog.Logger,
	cfg config.SyncConfig,
) *SyncService {
	return &SyncService{
		source:     source,
		activities: activities,
		users:      users,
		txManager:  txManager,
		publisher:  publisher,
		sealer:     sealer,
		logger:     logger.With("source", source.ID()),
		config:     cfg,
		location:   cfg.Location(),
		now:        time.Now,
	}
}

// Sync backfills every registered user. A failing user is logged and counted,
// the others still run.
func (s *SyncService) Sync(ctx context.Context) (*domain.SyncStats, error) {
	startTime := time.Now()

	users, err := s.users.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}

	s.logger.Info("starting sync",
		"source_name", s.source.Name(),
		"users", len(users),
		"concurrency", s.config.Concurrency,
	)

	stats := &domain.SyncStats{
		SourceID: s.source.ID(),
		Users:    len(users),
	}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(s.config.Concurrency, 1))

	for _, user := range users {
		user := user
		g.Go(func() error {
			userStats, published, err := s.syncUser(gctx, user.ID)

			mu.Lock()
			defer mu.Unlock()

			if published {
				stats.Published++
			}
			if userStats != nil {
				stats.Summaries += userStats.Summaries
				stats.Samples += userStats.Samples
			}
			if err != nil {
				stats.Failed++
				s.logger.Error("user sync failed", "user_id", user.ID, "error", err)
				return nil
			}
			stats.Succeeded++
			return nil
		})
	}
	_ = g.Wait()

	stats.Duration = time.Since(startTime)

	s.logger.Info("sync completed",
		"users", stats.Users,
		"succeeded", stats.Succeeded,
		"failed", stats.Failed,
		"summaries", stats.Summaries,
		"samples", stats.Samples,
		"published", stats.Published,
		"duration", stats.Duration,
	)

	if err := ctx.Err(); err != nil {
		return stats, err
	}
	return stats, nil
}

// SyncUser backfills a single user up to today.
func (s *SyncService) SyncUser(ctx context.Context, userID string) (*domain.UserSyncStats, error) {
	stats, _, err := s.syncUser(ctx, userID)
	return stats, err
}

func (s *SyncService) syncUser(ctx context.Context, userID string) (*domain.UserSyncStats, bool, error) {
	startTime := time.Now()
	now := s.now()

	creds, err := s.credentials(ctx, userID, now)
	if err != nil {
		return nil, false, err
	}

	collaborators := backfill.Collaborators{
		Fetch: func(ctx context.Context, creds domain.Credentials, w backfill.DateWindow) ([]domain.DailyPayload, error) {
			return s.source.FetchRange(ctx, creds, w.Start, w.End)
		},
		Upsert:           s.upsert,
		LatestStoredDate: s.activities.LatestSummaryDate,
	}
	limits := backfill.Limits{
		FullHorizonDays: s.config.HorizonDays(),
		MaxWindowDays:   s.config.MaxWindowDays,
	}

	// Polar dates daily activity by the wearer's calendar day.
	today := now.In(s.location)

	result, err := backfill.SyncUser(ctx, creds, today, limits, collaborators, s.logger)
	stats := userStats(userID, result, time.Since(startTime))
	if err != nil {
		return stats, false, fmt.Errorf("sync user %s: %w", userID, err)
	}

	s.logger.Info("user synced",
		"user_id", userID,
		"branch", stats.Branch,
		"windows", stats.Windows,
		"summaries", stats.Summaries,
		"samples", stats.Samples,
		"duration", stats.Duration,
	)

	published := false
	if s.publisher != nil && result.Summaries > 0 {
		event := &domain.SyncEvent{
			SourceID:  s.source.ID(),
			UserID:    userID,
			Branch:    string(result.Branch),
			From:      result.From,
			To:        result.To,
			Summaries: result.Summaries,
			Samples:   result.Samples,
			SyncedAt:  now,
		}
		if err := s.publisher.Publish(ctx, event); err != nil {
			s.logger.Warn("failed to publish sync event", "user_id", userID, "error", err)
		} else {
			published = true
		}
	}

	return stats, published, nil
}

func (s *SyncService) credentials(ctx context.Context, userID string, now time.Time) (domain.Credentials, error) {
	token, err := s.users.GetAccessToken(ctx, userID)
	if err != nil {
		return domain.Credentials{}, fmt.Errorf("load access token: %w", err)
	}
	if token.Expired(now) {
		return domain.Credentials{}, fmt.Errorf("user %s: %w", userID, domain.ErrTokenExpired)
	}

	accessToken, err := s.sealer.Open(token.Token)
	if err != nil {
		return domain.Credentials{}, fmt.Errorf("open access token: %w", err)
	}

	return domain.Credentials{UserID: userID, AccessToken: accessToken}, nil
}

// upsert stores a window's summaries and samples atomically.
func (s *SyncService) upsert(ctx context.Context, payloads []domain.DailyPayload) error {
	summaries, samples := domain.SplitPayloads(payloads)

	return s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := s.activities.UpsertSummaries(txCtx, summaries); err != nil {
			return fmt.Errorf("upsert summaries: %w", err)
		}
		if len(samples) == 0 {
			return nil
		}
		if err := s.activities.UpsertSamples(txCtx, samples); err != nil {
			return fmt.Errorf("upsert samples: %w", err)
		}
		return nil
	})
}

func userStats(userID string, result *backfill.Result, elapsed time.Duration) *domain.UserSyncStats {
	stats := &domain.UserSyncStats{UserID: userID, Duration: elapsed}
	if result == nil {
		return stats
	}

	stats.Branch = string(result.Branch)
	stats.Windows = result.Windows
	stats.EmptyWindows = result.EmptyWindows
	stats.Summaries = result.Summaries
	stats.Samples = result.Samples
	if result.Branch != backfill.BranchCaughtUp {
		from, to := result.From, result.To
		stats.From = &from
		stats.To = &to
	}
	return stats
}
