package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"step_ingestor/internal/domain"
)

const (
	dateLayout      = "2006-01-02"
	defaultFreq     = "day"
	defaultSpanDays = 14
)

type RangeParams struct {
	ID   string `validate:"required"`
	From string `validate:"omitempty,datetime=2006-01-02"`
	To   string `validate:"omitempty,datetime=2006-01-02"`
}

type StepsParams struct {
	RangeParams
	Freq string `validate:"required,oneof=hour day week month quarter year"`
}

type StepsResponse struct {
	UserID  string              `json:"user_id"`
	Freq    string              `json:"freq"`
	From    string              `json:"from"`
	To      string              `json:"to"`
	Buckets []domain.StepBucket `json:"buckets"`
}

// Summary is a stored daily summary; durations are in seconds.
type Summary struct {
	Date                 string   `json:"date"`
	StartTime            *string  `json:"start_time,omitempty"`
	EndTime              *string  `json:"end_time,omitempty"`
	ActiveDuration       *float64 `json:"active_duration,omitempty"`
	InactiveDuration     *float64 `json:"inactive_duration,omitempty"`
	DailyActivity        *float64 `json:"daily_activity,omitempty"`
	Calories             *int     `json:"calories,omitempty"`
	ActiveCalories       *int     `json:"active_calories,omitempty"`
	Steps                *int     `json:"steps,omitempty"`
	InactivityAlertCount *int     `json:"inactivity_alert_count,omitempty"`
	DistanceFromSteps    *float64 `json:"distance_from_steps,omitempty"`
}

type SummariesResponse struct {
	UserID    string    `json:"user_id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Summaries []Summary `json:"summaries"`
}

func (api *API) rangeParams(r *http.Request) RangeParams {
	return RangeParams{
		ID:   chi.URLParam(r, "id"),
		From: r.URL.Query().Get("from"),
		To:   r.URL.Query().Get("to"),
	}
}

func (api *API) GetSteps(w http.ResponseWriter, r *http.Request) {
	log := api.log.With("method", "GetSteps")

	params := StepsParams{
		RangeParams: api.rangeParams(r),
		Freq:        r.URL.Query().Get("freq"),
	}
	if params.Freq == "" {
		params.Freq = defaultFreq
	}

	if err := api.validate.Struct(params); err != nil {
		log.Warn("validation error", "error", err)
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	from, to, err := api.parseRange(params.From, params.To)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid date range: "+err.Error())
		return
	}

	buckets, err := api.activities.StepTotals(r.Context(), params.ID, params.Freq, from, to.AddDate(0, 0, 1))
	if err != nil {
		api.fail(w, log, "failed to fetch step totals", err)
		return
	}
	if buckets == nil {
		buckets = []domain.StepBucket{}
	}

	respondWithJSON(w, http.StatusOK, StepsResponse{
		UserID:  params.ID,
		Freq:    params.Freq,
		From:    from.Format(dateLayout),
		To:      to.Format(dateLayout),
		Buckets: buckets,
	})
}

func (api *API) GetSummaries(w http.ResponseWriter, r *http.Request) {
	log := api.log.With("method", "GetSummaries")

	params := api.rangeParams(r)
	if err := api.validate.Struct(params); err != nil {
		log.Warn("validation error", "error", err)
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	from, to, err := api.parseRange(params.From, params.To)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid date range: "+err.Error())
		return
	}

	summaries, err := api.activities.ListSummaries(r.Context(), params.ID, from, to)
	if err != nil {
		api.fail(w, log, "failed to fetch summaries", err)
		return
	}

	response := SummariesResponse{
		UserID:    params.ID,
		From:      from.Format(dateLayout),
		To:        to.Format(dateLayout),
		Summaries: make([]Summary, len(summaries)),
	}
	for i, s := range summaries {
		response.Summaries[i] = toSummary(s)
	}

	respondWithJSON(w, http.StatusOK, response)
}

func (api *API) SyncUser(w http.ResponseWriter, r *http.Request) {
	log := api.log.With("method", "SyncUser")

	userID := chi.URLParam(r, "id")
	if err := api.validate.Var(userID, "required"); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	stats, err := api.syncer.SyncUser(r.Context(), userID)
	if err != nil {
		api.fail(w, log.With("user_id", userID), "sync failed", err)
		return
	}

	respondWithJSON(w, http.StatusOK, stats)
}

func (api *API) DeleteUser(w http.ResponseWriter, r *http.Request) {
	log := api.log.With("method", "DeleteUser")

	userID := chi.URLParam(r, "id")
	if err := api.validate.Var(userID, "required"); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := api.users.Delete(r.Context(), userID); err != nil {
		api.fail(w, log.With("user_id", userID), "failed to delete user", err)
		return
	}

	clearSession(w)
	w.WriteHeader(http.StatusNoContent)
}

// parseRange parses inclusive from/to days. A missing to defaults to today and a
// missing from to the two weeks ending at to.
func (api *API) parseRange(fromStr, toStr string) (from, to time.Time, err error) {
	to = domain.Day(api.now().UTC())
	if toStr != "" {
		if to, err = time.Parse(dateLayout, toStr); err != nil {
			return
		}
	}

	from = to.AddDate(0, 0, -(defaultSpanDays - 1))
	if fromStr != "" {
		if from, err = time.Parse(dateLayout, fromStr); err != nil {
			return
		}
	}

	if from.After(to) {
		err = fmt.Errorf("from %s is after to %s", from.Format(dateLayout), to.Format(dateLayout))
	}
	return
}

func toSummary(s domain.ActivitySummary) Summary {
	return Summary{
		Date:                 s.Date.Format(dateLayout),
		StartTime:            formatTime(s.StartTime),
		EndTime:              formatTime(s.EndTime),
		ActiveDuration:       seconds(s.ActiveDuration),
		InactiveDuration:     seconds(s.InactiveDuration),
		DailyActivity:        s.DailyActivity,
		Calories:             s.Calories,
		ActiveCalories:       s.ActiveCalories,
		Steps:                s.Steps,
		InactivityAlertCount: s.InactivityAlertCount,
		DistanceFromSteps:    s.DistanceFromSteps,
	}
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	v := t.Format("2006-01-02T15:04:05")
	return &v
}

func seconds(d *time.Duration) *float64 {
	if d == nil {
		return nil
	}
	v := d.Seconds()
	return &v
}
