package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"step_ingestor/internal/domain"
)

const (
	summaryColumns   = 12
	summaryBatchSize = 500
	dateLayout       = "2006-01-02"
)

// Frequencies accepted by StepTotals, mapped to date_trunc fields.
var Frequencies = map[string]string{
	"hour":    "hour",
	"day":     "day",
	"week":    "week",
	"month":   "month",
	"quarter": "quarter",
	"year":    "year",
}

type ActivityStore struct {
	db *sqlx.DB
}

func NewActivityStore(db *sqlx.DB) *ActivityStore {
	return &ActivityStore{db: db}
}

// UpsertSummaries inserts or replaces daily summaries keyed by (user_id, date).
func (s *ActivityStore) UpsertSummaries(ctx context.Context, summaries []domain.ActivitySummary) error {
	summaries = dedupeSummaries(summaries)

	for start := 0; start < len(summaries); start += summaryBatchSize {
		end := min(start+summaryBatchSize, len(summaries))
		if err := s.upsertSummaryBatch(ctx, summaries[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *ActivityStore) upsertSummaryBatch(ctx context.Context, batch []domain.ActivitySummary) error {
	var sb strings.Builder
	sb.WriteString(`INSERT INTO activity_summary (
		user_id, date, start_time, end_time, active_duration, inactive_duration, daily_activity,
		calories, active_calories, steps, inactivity_alert_count, distance_from_steps
	) VALUES `)
	args := make([]any, 0, len(batch)*summaryColumns)

	for i, sum := range batch {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * summaryColumns
		sb.WriteString("(")
		for col := 1; col <= summaryColumns; col++ {
			if col > 1 {
				sb.WriteString(", ")
			}
			sb.WriteString("$")
			sb.WriteString(strconv.Itoa(base + col))
			switch col {
			case 2:
				sb.WriteString("::date")
			case 5, 6:
				sb.WriteString("::interval")
			}
		}
		sb.WriteString(")")

		args = append(args,
			sum.UserID,
			sum.Date.Format(dateLayout),
			sum.StartTime,
			sum.EndTime,
			intervalArg(sum.ActiveDuration),
			intervalArg(sum.InactiveDuration),
			sum.DailyActivity,
			sum.Calories,
			sum.ActiveCalories,
			sum.Steps,
			sum.InactivityAlertCount,
			sum.DistanceFromSteps,
		)
	}

	sb.WriteString(`
		ON CONFLICT (user_id, date) DO UPDATE SET
			start_time = EXCLUDED.start_time,
			end_time = EXCLUDED.end_time,
			active_duration = EXCLUDED.active_duration,
			inactive_duration = EXCLUDED.inactive_duration,
			daily_activity = EXCLUDED.daily_activity,
			calories = EXCLUDED.calories,
			active_calories = EXCLUDED.active_calories,
			steps = EXCLUDED.steps,
			inactivity_alert_count = EXCLUDED.inactivity_alert_count,
			distance_from_steps = EXCLUDED.distance_from_steps,
			updated_at = now()`)

	if _, err := GetExecutor(ctx, s.db).ExecContext(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("upsert summaries: %w", err)
	}
	return nil
}

// UpsertSamples inserts step samples keyed by (user_id, timestamp); an existing
// sample takes the new step count.
func (s *ActivityStore) UpsertSamples(ctx context.Context, samples []domain.StepSample) error {
	samples = dedupeSamples(samples)
	if len(samples) == 0 {
		return nil
	}

	userIDs := make([]string, len(samples))
	timestamps := make([]string, len(samples))
	steps := make([]int64, len(samples))
	for i, sample := range samples {
		userIDs[i] = sample.UserID
		timestamps[i] = sample.Timestamp.UTC().Format(time.RFC3339Nano)
		steps[i] = int64(sample.Steps)
	}

	query := `
		INSERT INTO step_sample (user_id, "timestamp", steps)
		SELECT * FROM unnest($1::text[], $2::timestamptz[], $3::int[])
		ON CONFLICT (user_id, "timestamp") DO UPDATE SET steps = EXCLUDED.steps`

	_, err := GetExecutor(ctx, s.db).ExecContext(ctx, query,
		pq.Array(userIDs),
		pq.Array(timestamps),
		pq.Array(steps),
	)
	if err != nil {
		return fmt.Errorf("upsert samples: %w", err)
	}
	return nil
}

// LatestSummaryDate returns the most recent stored summary date of a user and
// whether any summary exists.
func (s *ActivityStore) LatestSummaryDate(ctx context.Context, userID string) (time.Time, bool, error) {
	var latest sql.NullTime
	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &latest,
		"SELECT MAX(date) FROM activity_summary WHERE user_id = $1", userID)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("latest summary date: %w", err)
	}
	if !latest.Valid {
		return time.Time{}, false, nil
	}
	return domain.Day(latest.Time), true, nil
}

type summaryRow struct {
	UserID               string          `db:"user_id"`
	Date                 time.Time       `db:"date"`
	StartTime            sql.NullTime    `db:"start_time"`
	EndTime              sql.NullTime    `db:"end_time"`
	ActiveSeconds        sql.NullFloat64 `db:"active_seconds"`
	InactiveSeconds      sql.NullFloat64 `db:"inactive_seconds"`
	DailyActivity        sql.NullFloat64 `db:"daily_activity"`
	Calories             sql.NullInt64   `db:"calories"`
	ActiveCalories       sql.NullInt64   `db:"active_calories"`
	Steps                sql.NullInt64   `db:"steps"`
	InactivityAlertCount sql.NullInt64   `db:"inactivity_alert_count"`
	DistanceFromSteps    sql.NullFloat64 `db:"distance_from_steps"`
	CreatedAt            time.Time       `db:"created_at"`
	UpdatedAt            time.Time       `db:"updated_at"`
}

func (r summaryRow) toDomain() domain.ActivitySummary {
	return domain.ActivitySummary{
		UserID:               r.UserID,
		Date:                 domain.Day(r.Date),
		StartTime:            nullTime(r.StartTime),
		EndTime:              nullTime(r.EndTime),
		ActiveDuration:       nullSeconds(r.ActiveSeconds),
		InactiveDuration:     nullSeconds(r.InactiveSeconds),
		DailyActivity:        nullFloat(r.DailyActivity),
		Calories:             nullInt(r.Calories),
		ActiveCalories:       nullInt(r.ActiveCalories),
		Steps:                nullInt(r.Steps),
		InactivityAlertCount: nullInt(r.InactivityAlertCount),
		DistanceFromSteps:    nullFloat(r.DistanceFromSteps),
		CreatedAt:            r.CreatedAt,
		UpdatedAt:            r.UpdatedAt,
	}
}

// ListSummaries returns the stored summaries of a user with a date in [from, to],
// oldest first.
func (s *ActivityStore) ListSummaries(ctx context.Context, userID string, from, to time.Time) ([]domain.ActivitySummary, error) {
	query := `
		SELECT user_id, date, start_time, end_time,
			EXTRACT(EPOCH FROM active_duration)::double precision AS active_seconds,
			EXTRACT(EPOCH FROM inactive_duration)::double precision AS inactive_seconds,
			daily_activity, calories, active_calories, steps, inactivity_alert_count,
			distance_from_steps, created_at, updated_at
		FROM activity_summary
		WHERE user_id = $1 AND date BETWEEN $2::date AND $3::date
		ORDER BY date`

	var rows []summaryRow
	err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &rows, query,
		userID, from.Format(dateLayout), to.Format(dateLayout))
	if err != nil {
		return nil, fmt.Errorf("list summaries: %w", err)
	}

	summaries := make([]domain.ActivitySummary, len(rows))
	for i, row := range rows {
		summaries[i] = row.toDomain()
	}
	return summaries, nil
}

// StepTotals sums step samples of a user per freq bucket for samples in [from, to).
// Buckets are computed in UTC.
func (s *ActivityStore) StepTotals(ctx context.Context, userID, freq string, from, to time.Time) ([]domain.StepBucket, error) {
	field, ok := Frequencies[freq]
	if !ok {
		return nil, fmt.Errorf("unsupported frequency %q", freq)
	}

	query := `
		SELECT date_trunc($2::text, "timestamp" AT TIME ZONE 'UTC') AS bucket, SUM(steps) AS steps
		FROM step_sample
		WHERE user_id = $1 AND "timestamp" >= $3 AND "timestamp" < $4
		GROUP BY bucket
		ORDER BY bucket`

	var buckets []domain.StepBucket
	err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &buckets, query, userID, field, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("step totals: %w", err)
	}
	for i := range buckets {
		b := buckets[i].Start
		buckets[i].Start = time.Date(b.Year(), b.Month(), b.Day(), b.Hour(), b.Minute(), b.Second(), b.Nanosecond(), time.UTC)
	}
	return buckets, nil
}

func dedupeSummaries(summaries []domain.ActivitySummary) []domain.ActivitySummary {
	type key struct {
		userID string
		date   string
	}
	index := make(map[key]int, len(summaries))
	out := make([]domain.ActivitySummary, 0, len(summaries))
	for _, sum := range summaries {
		k := key{sum.UserID, sum.Date.Format(dateLayout)}
		if i, ok := index[k]; ok {
			out[i] = sum
			continue
		}
		index[k] = len(out)
		out = append(out, sum)
	}
	return out
}

func dedupeSamples(samples []domain.StepSample) []domain.StepSample {
	type key struct {
		userID string
		ts     int64
	}
	index := make(map[key]int, len(samples))
	out := make([]domain.StepSample, 0, len(samples))
	for _, sample := range samples {
		k := key{sample.UserID, sample.Timestamp.UnixMicro()}
		if i, ok := index[k]; ok {
			out[i] = sample
			continue
		}
		index[k] = len(out)
		out = append(out, sample)
	}
	return out
}

func intervalArg(d *time.Duration) any {
	if d == nil {
		return nil
	}
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64) + " seconds"
}

func nullTime(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}

func nullSeconds(v sql.NullFloat64) *time.Duration {
	if !v.Valid {
		return nil
	}
	d := time.Duration(v.Float64 * float64(time.Second))
	return &d
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func nullInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}
