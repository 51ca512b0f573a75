package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

const sessionCookie = "session"

var (
	errNoSession      = errors.New("no session")
	errInvalidSession = errors.New("invalid session")
	errSessionExpired = errors.New("session expired")
)

// SessionSealer encrypts and authenticates session cookies. *secret.Box
// satisfies it.
type SessionSealer interface {
	Seal(plaintext string) (string, error)
	Open(sealed string) (string, error)
}

type session struct {
	UserID    string `json:"uid"`
	ExpiresAt int64  `json:"exp"`
}

// Sessions issues and reads the login session cookie set after the OAuth
// callback.
type Sessions struct {
	sealer SessionSealer
	ttl    time.Duration
}

func NewSessions(sealer SessionSealer, ttl time.Duration) *Sessions {
	return &Sessions{sealer: sealer, ttl: ttl}
}

func (s *Sessions) issue(w http.ResponseWriter, r *http.Request, userID string, now time.Time) error {
	data, err := json.Marshal(session{UserID: userID, ExpiresAt: now.Add(s.ttl).Unix()})
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	value, err := s.sealer.Seal(string(data))
	if err != nil {
		return fmt.Errorf("seal session: %w", err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    value,
		Path:     "/",
		MaxAge:   int(s.ttl.Seconds()),
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

func (s *Sessions) userID(r *http.Request, now time.Time) (string, error) {
	cookie, err := r.Cookie(sessionCookie)
	if err != nil || cookie.Value == "" {
		return "", errNoSession
	}

	plaintext, err := s.sealer.Open(cookie.Value)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errInvalidSession, err)
	}

	var sess session
	if err := json.Unmarshal([]byte(plaintext), &sess); err != nil || sess.UserID == "" {
		return "", errInvalidSession
	}
	if !now.Before(time.Unix(sess.ExpiresAt, 0)) {
		return "", errSessionExpired
	}
	return sess.UserID, nil
}

func clearSession(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{Name: sessionCookie, Path: "/", MaxAge: -1})
}

// RequireSession lets a request through only when the session belongs to the
// user named in the path.
func (api *API) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := api.sessions.userID(r, api.now())
		if err != nil {
			api.log.Debug("session rejected", "path", r.URL.Path, "error", err)
			respondWithError(w, http.StatusUnauthorized, "login required")
			return
		}

		if userID != chi.URLParam(r, "id") {
			api.log.Warn("session user mismatch", "session_user_id", userID, "path", r.URL.Path)
			respondWithError(w, http.StatusForbidden, "forbidden")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Logout drops the session cookie.
func (api *API) Logout(w http.ResponseWriter, r *http.Request) {
	clearSession(w)
	w.WriteHeader(http.StatusNoContent)
}
