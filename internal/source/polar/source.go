package polar

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"step_ingestor/internal/domain"
)

const (
	SourceID   = "polar"
	SourceName = "Polar AccessLink"

	dateLayout   = "2006-01-02"
	maxErrorBody = 4 << 10
)

// Config holds Polar source configuration.
type Config struct {
	BaseURL           string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
}

// StatusError is a non-2xx answer from the API.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status: %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status: %d: %s", e.StatusCode, e.Body)
}

func (e *StatusError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden:
		return domain.ErrUnauthorized
	case e.StatusCode == http.StatusTooManyRequests:
		return domain.ErrRateLimited
	default:
		return domain.ErrUpstream
	}
}

func (e *StatusError) retryable() bool {
	return e.StatusCode >= http.StatusInternalServerError
}

// Source implements service.Source for the Polar AccessLink API.
type Source struct {
	httpClient     *http.Client
	baseURL        string
	limiter        *rate.Limiter
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	logger         *slog.Logger
}

// New creates a new Polar source.
func New(cfg Config, logger *slog.Logger) *Source {
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	return &Source{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL:        cfg.BaseURL,
		limiter:        rate.NewLimiter(limit, burst),
		maxAttempts:    maxAttempts,
		initialBackoff: cfg.InitialBackoff,
		maxBackoff:     cfg.MaxBackoff,
		logger:         logger.With("source", SourceID),
	}
}

// ID returns the source identifier.
func (s *Source) ID() string {
	return SourceID
}

// Name returns human-readable name.
func (s *Source) Name() string {
	return SourceName
}

// FetchRange fetches the daily activities with step samples for the inclusive
// range [from, to]. An empty answer yields no payloads and no error.
func (s *Source) FetchRange(ctx context.Context, creds domain.Credentials, from, to time.Time) ([]domain.DailyPayload, error) {
	query := url.Values{}
	query.Set("from", from.Format(dateLayout))
	query.Set("to", to.Format(dateLayout))
	query.Set("steps", "true")
	endpoint := s.baseURL + "/users/activities?" + query.Encode()

	var result ActivityResult
	found, err := s.getWithRetry(ctx, creds.AccessToken, endpoint, &result)
	if err != nil {
		return nil, err
	}
	if !found || result.Kind == ResultEmpty {
		return nil, nil
	}

	s.logger.Debug("fetched activities",
		"user_id", creds.UserID,
		"from", from.Format(dateLayout),
		"to", to.Format(dateLayout),
		"days", len(result.Items),
	)

	return s.transform(creds.UserID, result.Items), nil
}

// RegisterUser registers the member with this client application. A member that
// is already registered is not an error.
func (s *Source) RegisterUser(ctx context.Context, accessToken, memberID string) error {
	body, err := json.Marshal(map[string]string{"member-id": memberID})
	if err != nil {
		return fmt.Errorf("marshal registration: %w", err)
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/users", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	s.setHeaders(req, accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusNoContent:
		return nil
	case http.StatusConflict:
		s.logger.Debug("member already registered", "member_id", memberID)
		return nil
	default:
		return statusError(resp)
	}
}

func (s *Source) getWithRetry(ctx context.Context, accessToken, endpoint string, out any) (bool, error) {
	var found bool
	var err error

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		found, err = s.doRequest(ctx, accessToken, endpoint, out)
		if err == nil {
			return found, nil
		}

		var statusErr *StatusError
		if errors.As(err, &statusErr) && !statusErr.retryable() {
			return false, err
		}
		if ctx.Err() != nil {
			return false, ctx.Err()
		}

		if attempt == s.maxAttempts {
			break
		}

		backoff := s.calculateBackoff(attempt)
		s.logger.Warn("request failed, retrying",
			"attempt", attempt,
			"backoff", backoff,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(backoff):
		}
	}

	return false, fmt.Errorf("after %d attempts: %w", s.maxAttempts, err)
}

func (s *Source) doRequest(ctx context.Context, accessToken, endpoint string, out any) (bool, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return false, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, fmt.Errorf("create request: %w", err)
	}
	s.setHeaders(req, accessToken)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNoContent:
		return false, nil
	case resp.StatusCode != http.StatusOK:
		return false, statusError(resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, fmt.Errorf("read response: %w", err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return false, nil
	}

	if err := json.Unmarshal(body, out); err != nil {
		return false, fmt.Errorf("decode response: %w", err)
	}

	return true, nil
}

func (s *Source) setHeaders(req *http.Request, accessToken string) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("User-Agent", "StepIngestor/1.0")
}

func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(body))}
}

func (s *Source) calculateBackoff(attempt int) time.Duration {
	backoff := s.initialBackoff
	for i := 1; i < attempt; i++ {
		backoff *= 2
	}
	if backoff > s.maxBackoff {
		backoff = s.maxBackoff
	}
	return backoff
}

func (s *Source) transform(userID string, items []DailyActivity) []domain.DailyPayload {
	payloads := make([]domain.DailyPayload, 0, len(items))

	for _, item := range items {
		payload, dropped, err := toPayload(userID, item)
		if err != nil {
			s.logger.Warn("skipping invalid activity",
				"user_id", userID,
				"error", err,
			)
			continue
		}
		if dropped > 0 {
			s.logger.Warn("dropped invalid step samples",
				"user_id", userID,
				"date", payload.Summary.Date.Format(dateLayout),
				"dropped", dropped,
			)
		}

		payloads = append(payloads, payload)
	}

	return payloads
}
