package backfill

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"step_ingestor/internal/domain"
)

type Branch string

const (
	BranchNeverSynced Branch = "never_synced"
	BranchCaughtUp    Branch = "caught_up"
	BranchPartial     Branch = "partial"
)

type (
	FetchFunc            func(ctx context.Context, creds domain.Credentials, window DateWindow) ([]domain.DailyPayload, error)
	UpsertFunc           func(ctx context.Context, payloads []domain.DailyPayload) error
	LatestStoredDateFunc func(ctx context.Context, userID string) (time.Time, bool, error)
)

// Collaborators are the capabilities a backfill run drives.
type Collaborators struct {
	Fetch            FetchFunc
	Upsert           UpsertFunc
	LatestStoredDate LatestStoredDateFunc
}

// Limits are imposed by the upstream API.
type Limits struct {
	FullHorizonDays int
	MaxWindowDays   int
}

// Result describes what a backfill run did.
type Result struct {
	Branch       Branch
	From         time.Time
	To           time.Time
	Windows      int
	EmptyWindows int
	Summaries    int
	Samples      int
}

// SyncUser catches the store up to today for one user. Windows are fetched and
// upserted strictly one after another, newest first; the first failure stops the
// run and is returned as a FetchError or PersistenceError.
func SyncUser(
	ctx context.Context,
	creds domain.Credentials,
	today time.Time,
	limits Limits,
	c Collaborators,
	logger *slog.Logger,
) (*Result, error) {
	if c.Fetch == nil || c.Upsert == nil || c.LatestStoredDate == nil {
		return nil, fmt.Errorf("%w: fetch, upsert and latest stored date are required", ErrInvalidArgument)
	}
	if limits.FullHorizonDays < 0 {
		return nil, fmt.Errorf("%w: full horizon days must not be negative, got %d", ErrInvalidArgument, limits.FullHorizonDays)
	}

	today = domain.Day(today)
	logger = logger.With("user_id", creds.UserID)

	latest, synced, err := c.LatestStoredDate(ctx, creds.UserID)
	if err != nil {
		return nil, fmt.Errorf("latest stored date: %w", err)
	}

	result := &Result{Branch: BranchNeverSynced}
	daysBack := limits.FullHorizonDays

	if synced {
		next := domain.Day(latest).AddDate(0, 0, 1)
		if next.After(today) {
			logger.Debug("already caught up", "latest", latest.Format(dateLayout))
			return &Result{Branch: BranchCaughtUp}, nil
		}

		result.Branch = BranchPartial
		daysBack = daysBetween(next, today)
		if daysBack > limits.FullHorizonDays {
			logger.Warn("gap exceeds horizon, clamping",
				"gap_days", daysBack,
				"horizon_days", limits.FullHorizonDays,
			)
			daysBack = limits.FullHorizonDays
		}
	}

	windows, err := PlanWindows(today, daysBack, limits.MaxWindowDays)
	if err != nil {
		return nil, err
	}

	result.From = windows[len(windows)-1].Start
	result.To = windows[0].End

	logger.Info("backfill planned",
		"branch", result.Branch,
		"from", result.From.Format(dateLayout),
		"to", result.To.Format(dateLayout),
		"windows", len(windows),
	)

	for _, w := range windows {
		payloads, err := c.Fetch(ctx, creds, w)
		if err != nil {
			return result, &FetchError{Window: w, Err: err}
		}
		result.Windows++

		if len(payloads) == 0 {
			result.EmptyWindows++
			logger.Debug("window empty", "window", w.String())
			continue
		}

		if err := c.Upsert(ctx, payloads); err != nil {
			return result, &PersistenceError{Window: w, Err: err}
		}

		result.Summaries += len(payloads)
		for _, p := range payloads {
			result.Samples += len(p.Samples)
		}

		logger.Debug("window stored",
			"window", w.String(),
			"summaries", len(payloads),
		)
	}

	return result, nil
}
