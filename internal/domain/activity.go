package domain

import "time"

// ActivitySummary is one day of activity for a user, keyed by (UserID, Date).
type ActivitySummary struct {
	UserID               string
	Date                 time.Time
	StartTime            *time.Time
	EndTime              *time.Time
	ActiveDuration       *time.Duration
	InactiveDuration     *time.Duration
	DailyActivity        *float64
	Calories             *int
	ActiveCalories       *int
	Steps                *int
	InactivityAlertCount *int
	DistanceFromSteps    *float64
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// StepSample is a step count measured at a point in time, keyed by (UserID, Timestamp).
type StepSample struct {
	UserID    string    `db:"user_id"`
	Timestamp time.Time `db:"timestamp"`
	Steps     int       `db:"steps"`
}

// DailyPayload is a fully parsed day as delivered by a source.
type DailyPayload struct {
	Summary ActivitySummary
	Samples []StepSample
}

// StepBucket is the total number of steps within one aggregation bucket.
type StepBucket struct {
	Start time.Time `db:"bucket" json:"start"`
	Steps int64     `db:"steps" json:"steps"`
}

// Day truncates t to its calendar day in UTC.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// SplitPayloads flattens payloads into summary and sample rows.
func SplitPayloads(payloads []DailyPayload) ([]ActivitySummary, []StepSample) {
	summaries := make([]ActivitySummary, 0, len(payloads))
	var samples []StepSample
	for _, p := range payloads {
		summaries = append(summaries, p.Summary)
		samples = append(samples, p.Samples...)
	}
	return summaries, samples
}
