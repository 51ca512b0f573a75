package polar

import (
	"fmt"
	"time"

	"github.com/sosodev/duration"

	"step_ingestor/internal/domain"
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

func parseTimestamp(s string) (time.Time, error) {
	var lastErr error
	for _, layout := range timestampLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

func parseOptionalTimestamp(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := parseTimestamp(s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func parseOptionalDuration(s string) (*time.Duration, error) {
	if s == "" {
		return nil, nil
	}
	d, err := duration.Parse(s)
	if err != nil {
		return nil, err
	}
	td := d.ToTimeDuration()
	return &td, nil
}

// toPayload validates a raw day and builds the complete payload for userID.
// Step samples without a timestamp or count are dropped.
func toPayload(userID string, a DailyActivity) (domain.DailyPayload, int, error) {
	start, err := parseTimestamp(a.StartTime)
	if err != nil {
		return domain.DailyPayload{}, 0, fmt.Errorf("start_time %q: %w", a.StartTime, err)
	}
	end, err := parseOptionalTimestamp(a.EndTime)
	if err != nil {
		return domain.DailyPayload{}, 0, fmt.Errorf("end_time %q: %w", a.EndTime, err)
	}
	active, err := parseOptionalDuration(a.ActiveDuration)
	if err != nil {
		return domain.DailyPayload{}, 0, fmt.Errorf("active_duration %q: %w", a.ActiveDuration, err)
	}
	inactive, err := parseOptionalDuration(a.InactiveDuration)
	if err != nil {
		return domain.DailyPayload{}, 0, fmt.Errorf("inactive_duration %q: %w", a.InactiveDuration, err)
	}

	payload := domain.DailyPayload{
		Summary: domain.ActivitySummary{
			UserID:               userID,
			Date:                 domain.Day(start),
			StartTime:            &start,
			EndTime:              end,
			ActiveDuration:       active,
			InactiveDuration:     inactive,
			DailyActivity:        a.DailyActivity,
			Calories:             a.Calories,
			ActiveCalories:       a.ActiveCalories,
			Steps:                a.Steps,
			InactivityAlertCount: a.InactivityAlertCount,
			DistanceFromSteps:    a.DistanceFromSteps,
		},
	}

	if a.Samples == nil || a.Samples.Steps == nil {
		return payload, 0, nil
	}

	dropped := 0
	payload.Samples = make([]domain.StepSample, 0, len(a.Samples.Steps.Samples))
	for _, p := range a.Samples.Steps.Samples {
		if p.Steps == nil || p.Timestamp == "" {
			dropped++
			continue
		}
		ts, err := parseTimestamp(p.Timestamp)
		if err != nil {
			dropped++
			continue
		}
		payload.Samples = append(payload.Samples, domain.StepSample{
			UserID:    userID,
			Timestamp: ts,
			Steps:     *p.Steps,
		})
	}

	return payload, dropped, nil
}
