package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"golang.org/x/oauth2"

	"step_ingestor/internal/backfill"
	"step_ingestor/internal/domain"
)

type ActivityReader interface {
	ListSummaries(ctx context.Context, userID string, from, to time.Time) ([]domain.ActivitySummary, error)
	StepTotals(ctx context.Context, userID, freq string, from, to time.Time) ([]domain.StepBucket, error)
}

type UserSyncer interface {
	SyncUser(ctx context.Context, userID string) (*domain.UserSyncStats, error)
}

type UserRegistry interface {
	Register(ctx context.Context, reg domain.Registration) (*domain.User, error)
	Delete(ctx context.Context, userID string) error
}

// TokenExchanger is the part of *oauth2.Config used by the OAuth handlers.
type TokenExchanger interface {
	AuthCodeURL(state string, opts ...oauth2.AuthCodeOption) string
	Exchange(ctx context.Context, code string, opts ...oauth2.AuthCodeOption) (*oauth2.Token, error)
}

type API struct {
	log        *slog.Logger
	activities ActivityReader
	syncer     UserSyncer
	users      UserRegistry
	oauth      TokenExchanger
	sessions   *Sessions
	validate   *validator.Validate
	now        func() time.Time
}

func NewAPI(
	log *slog.Logger,
	activities ActivityReader,
	syncer UserSyncer,
	users UserRegistry,
	oauth TokenExchanger,
	sessions *Sessions,
) *API {
	return &API{
		log:        log,
		activities: activities,
		syncer:     syncer,
		users:      users,
		oauth:      oauth,
		sessions:   sessions,
		validate:   validator.New(),
		now:        time.Now,
	}
}

func (api *API) Routes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(api.LoggingMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/oauth", func(r chi.Router) {
		r.Get("/login", api.Login)
		r.Get("/callback", api.Callback)
		r.Post("/logout", api.Logout)
	})

	r.Route("/users/{id}", func(r chi.Router) {
		r.Use(api.RequireSession)

		r.Get("/steps", api.GetSteps)
		r.Get("/summaries", api.GetSummaries)
		r.Post("/sync", api.SyncUser)
		r.Delete("/", api.DeleteUser)
	})

	return r
}

func (api *API) LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		defer func() {
			api.log.Info("request",
				"request_id", middleware.GetReqID(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

type errorResponse struct {
	Error string `json:"error"`
}

func respondWithJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondWithError(w http.ResponseWriter, status int, msg string) {
	respondWithJSON(w, status, errorResponse{Error: msg})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrUnauthorized), errors.Is(err, domain.ErrTokenExpired):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrUpstream):
		return http.StatusBadGateway
	case errors.Is(err, backfill.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (api *API) fail(w http.ResponseWriter, log *slog.Logger, msg string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error(msg, "error", err)
	} else {
		log.Warn(msg, "error", err)
	}
	respondWithError(w, status, err.Error())
}
