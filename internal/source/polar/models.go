package polar

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// DailyActivity is one day as returned by the daily activity endpoint.
type DailyActivity struct {
	StartTime            string   `json:"start_time"`
	EndTime              string   `json:"end_time"`
	ActiveDuration       string   `json:"active_duration"`
	InactiveDuration     string   `json:"inactive_duration"`
	DailyActivity        *float64 `json:"daily_activity"`
	Calories             *int     `json:"calories"`
	ActiveCalories       *int     `json:"active_calories"`
	Steps                *int     `json:"steps"`
	InactivityAlertCount *int     `json:"inactivity_alert_count"`
	DistanceFromSteps    *float64 `json:"distance_from_steps"`
	Samples              *Samples `json:"samples"`
}

type Samples struct {
	Steps *StepSeries `json:"steps"`
}

type StepSeries struct {
	IntervalMillis int         `json:"interval_ms"`
	Samples        []StepPoint `json:"samples"`
}

type StepPoint struct {
	Steps     *int   `json:"steps"`
	Timestamp string `json:"timestamp"`
}

type ResultKind int

const (
	ResultEmpty ResultKind = iota
	ResultOne
	ResultMany
)

// ActivityResult is the activity endpoint body, which is either nothing, a
// single day object or a list of days. It is normalised once at decode time.
type ActivityResult struct {
	Kind  ResultKind
	Items []DailyActivity
}

func (r *ActivityResult) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*r = ActivityResult{Kind: ResultEmpty}
		return nil
	}

	switch trimmed[0] {
	case '[':
		var items []DailyActivity
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return err
		}
		if len(items) == 0 {
			*r = ActivityResult{Kind: ResultEmpty}
			return nil
		}
		*r = ActivityResult{Kind: ResultMany, Items: items}
	case '{':
		if bytes.Equal(bytes.Join(bytes.Fields(trimmed), nil), []byte("{}")) {
			*r = ActivityResult{Kind: ResultEmpty}
			return nil
		}
		var item DailyActivity
		if err := json.Unmarshal(trimmed, &item); err != nil {
			return err
		}
		*r = ActivityResult{Kind: ResultOne, Items: []DailyActivity{item}}
	default:
		return fmt.Errorf("unexpected activity payload starting with %q", trimmed[0])
	}

	return nil
}
