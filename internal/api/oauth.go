package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"step_ingestor/internal/config"
	"step_ingestor/internal/domain"
)

const (
	stateCookie    = "oauth_state"
	stateCookieAge = 10 * time.Minute
	userIDExtra    = "x_user_id"
)

// NewOAuthConfig builds the authorization code flow configuration. Polar expects
// client credentials as HTTP basic auth.
func NewOAuthConfig(cfg config.PolarConfig) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Endpoint: oauth2.Endpoint{
			AuthURL:   cfg.AuthURL,
			TokenURL:  cfg.TokenURL,
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}
}

type RegistrationResponse struct {
	UserID        string `json:"user_id"`
	PolarMemberID string `json:"polar_member_id"`
}

// Login redirects to the upstream authorization page.
func (api *API) Login(w http.ResponseWriter, r *http.Request) {
	state := uuid.NewString()

	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/oauth",
		MaxAge:   int(stateCookieAge.Seconds()),
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, api.oauth.AuthCodeURL(state), http.StatusFound)
}

// Callback completes the authorization code flow and registers the user.
func (api *API) Callback(w http.ResponseWriter, r *http.Request) {
	log := api.log.With("method", "Callback")
	query := r.URL.Query()

	if errCode := query.Get("error"); errCode != "" {
		log.Warn("authorization denied", "error", errCode)
		respondWithError(w, http.StatusBadRequest, "authorization failed: "+errCode)
		return
	}

	cookie, err := r.Cookie(stateCookie)
	if err != nil || cookie.Value == "" || cookie.Value != query.Get("state") {
		respondWithError(w, http.StatusBadRequest, "invalid oauth state")
		return
	}
	http.SetCookie(w, &http.Cookie{Name: stateCookie, Path: "/oauth", MaxAge: -1})

	code := query.Get("code")
	if err := api.validate.Var(code, "required"); err != nil {
		respondWithError(w, http.StatusBadRequest, "missing authorization code")
		return
	}

	token, err := api.oauth.Exchange(r.Context(), code)
	if err != nil {
		log.Error("code exchange failed", "error", err)
		respondWithError(w, http.StatusBadGateway, "code exchange failed")
		return
	}

	userID, err := extraUserID(token)
	if err != nil {
		log.Error("invalid token response", "error", err)
		respondWithError(w, http.StatusBadGateway, err.Error())
		return
	}

	reg := domain.Registration{UserID: userID, AccessToken: token.AccessToken}
	if !token.Expiry.IsZero() {
		expiry := token.Expiry.UTC()
		reg.ExpiresAt = &expiry
	}

	user, err := api.users.Register(r.Context(), reg)
	if err != nil {
		api.fail(w, log.With("user_id", userID), "registration failed", err)
		return
	}

	if err := api.sessions.issue(w, r, user.ID, api.now()); err != nil {
		log.Error("failed to start session", "user_id", user.ID, "error", err)
		respondWithError(w, http.StatusInternalServerError, "failed to start session")
		return
	}

	respondWithJSON(w, http.StatusOK, RegistrationResponse{
		UserID:        user.ID,
		PolarMemberID: user.PolarMemberID,
	})
}

func extraUserID(token *oauth2.Token) (string, error) {
	switch v := token.Extra(userIDExtra).(type) {
	case string:
		if v != "" {
			return v, nil
		}
	case float64:
		return strconv.FormatInt(int64(v), 10), nil
	case json.Number:
		return v.String(), nil
	}
	return "", fmt.Errorf("token response has no %s", userIDExtra)
}
