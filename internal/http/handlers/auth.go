package handlers

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/notevault/server/internal/auth"
	"github.com/notevault/server/internal/logger"
	"github.com/notevault/server/internal/middleware"
	"github.com/notevault/server/internal/model"
)

const (
	stateCookieName = "oauth_state"
	stateCookieTTL  = 10 * time.Minute
	dateLayout      = "2006-01-02"
)

// AuthHandler handles authentication endpoints
type AuthHandler struct {
	service     *auth.Service
	google      auth.ProfileProvider
	frontendURL string
	secure      bool
	log         *slog.Logger
}

// AuthHandlerOption configures an AuthHandler.
type AuthHandlerOption func(*AuthHandler)

// WithSecureCookies marks the OAuth state cookie Secure. It is set from
// configuration because TLS usually ends at a proxy in front of the server.
func WithSecureCookies(secure bool) AuthHandlerOption {
	return func(h *AuthHandler) {
		h.secure = secure
	}
}

// NewAuthHandler creates a new auth handler. google may be nil when Google
// sign-in is not configured.
func NewAuthHandler(
	service *auth.Service,
	google auth.ProfileProvider,
	frontendURL string,
	log *slog.Logger,
	opts ...AuthHandlerOption,
) *AuthHandler {
	if log == nil {
		log = logger.Discard()
	}
	h := &AuthHandler{
		service:     service,
		google:      google,
		frontendURL: strings.TrimRight(frontendURL, "/"),
		log:         log.With(logger.Component("auth_handler")),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// signupRequest is the request body for POST /auth/signup
type signupRequest struct {
	Email       string `json:"email"`
	Name        string `json:"name"`
	DateOfBirth string `json:"dateOfBirth"`
}

// verifyOTPRequest is the request body for POST /auth/verify-otp
type verifyOTPRequest struct {
	Email       string `json:"email"`
	Code        string `json:"code"`
	OTP         string `json:"otp"`
	Name        string `json:"name"`
	DateOfBirth string `json:"dateOfBirth"`
	Password    string `json:"password"`
}

// loginRequest is the request body for POST /auth/login
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

// userResponse is the user object in API responses
type userResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Email       string    `json:"email"`
	DateOfBirth *string   `json:"dateOfBirth,omitempty"`
	GoogleID    *string   `json:"googleId,omitempty"`
	HasPassword bool      `json:"hasPassword"`
	CreatedAt   time.Time `json:"createdAt"`
}

func newUserResponse(u model.User) userResponse {
	resp := userResponse{
		ID:          u.ID.String(),
		Name:        u.Name,
		Email:       u.Email,
		GoogleID:    u.GoogleID,
		HasPassword: u.HasPassword(),
		CreatedAt:   u.CreatedAt,
	}
	if u.DateOfBirth != nil {
		dob := u.DateOfBirth.Format(dateLayout)
		resp.DateOfBirth = &dob
	}
	return resp
}

// HandleSignup handles POST /auth/signup. It sends a code to new and
// existing emails alike.
func (h *AuthHandler) HandleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	// Only verify-otp stores the date; here it is just checked early.
	if _, err := parseDate(req.DateOfBirth); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid dateOfBirth")
		return
	}

	err := h.service.RequestCode(r.Context(), auth.CodeRequest{
		Email: strings.TrimSpace(req.Email),
		Name:  req.Name,
	})
	if err != nil {
		h.writeAuthError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"message": "code sent"})
}

// HandleVerifyOTP handles POST /auth/verify-otp
func (h *AuthHandler) HandleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	dob, err := parseDate(req.DateOfBirth)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid dateOfBirth")
		return
	}

	code := strings.TrimSpace(req.Code)
	if code == "" {
		code = strings.TrimSpace(req.OTP)
	}

	res, err := h.service.Resolve(r.Context(), auth.OTPAttempt{
		Email:       strings.TrimSpace(req.Email),
		Code:        code,
		Name:        req.Name,
		DateOfBirth: dob,
		Password:    req.Password,
	})
	if err != nil {
		h.writeAuthError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, tokenResponse{Token: res.Token})
}

// HandleLogin handles POST /auth/login
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := h.service.Resolve(r.Context(), auth.PasswordAttempt{
		Email:    strings.TrimSpace(req.Email),
		Password: req.Password,
	})
	if err != nil {
		h.writeAuthError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, tokenResponse{Token: res.Token})
}

// HandleGoogle handles GET /auth/google by redirecting to the consent screen.
func (h *AuthHandler) HandleGoogle(w http.ResponseWriter, r *http.Request) {
	if h.google == nil {
		respondWithError(w, http.StatusServiceUnavailable, "Google sign-in is not configured")
		return
	}

	state, err := auth.NewState()
	if err != nil {
		h.log.ErrorContext(r.Context(), "failed to generate oauth state", logger.Error(err))
		respondWithError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Path:     "/auth/google",
		MaxAge:   int(stateCookieTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.secure || r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, h.google.AuthURL(state), http.StatusFound)
}

// HandleGoogleCallback handles GET /auth/google/callback. On success the
// browser is sent to the frontend with the session token in the query.
func (h *AuthHandler) HandleGoogleCallback(w http.ResponseWriter, r *http.Request) {
	if h.google == nil {
		respondWithError(w, http.StatusServiceUnavailable, "Google sign-in is not configured")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    "",
		Path:     "/auth/google",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secure || r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})

	q := r.URL.Query()
	cookie, err := r.Cookie(stateCookieName)
	if err != nil || q.Get("state") == "" ||
		subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(q.Get("state"))) != 1 {
		h.log.WarnContext(r.Context(), "oauth state mismatch")
		respondWithError(w, http.StatusBadRequest, "Google login failed")
		return
	}
	if reason := q.Get("error"); reason != "" {
		h.log.InfoContext(r.Context(), "google consent denied", slog.String("reason", reason))
		respondWithError(w, http.StatusBadRequest, "Google login failed")
		return
	}
	code := q.Get("code")
	if code == "" {
		respondWithError(w, http.StatusBadRequest, "Google login failed")
		return
	}

	profile, err := h.google.Profile(r.Context(), code)
	if err != nil {
		h.writeAuthError(w, r, err)
		return
	}

	res, err := h.service.Resolve(r.Context(), auth.OAuthAttempt{Profile: profile})
	if err != nil {
		h.writeAuthError(w, r, err)
		return
	}

	http.Redirect(w, r, h.frontendURL+"/welcome?token="+url.QueryEscape(res.Token), http.StatusFound)
}

// HandleMe handles GET /auth/me (protected). Returns the authenticated user.
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.GetIdentity(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	user, err := h.service.CurrentUser(r.Context(), identity.ID)
	if err != nil {
		h.writeAuthError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]userResponse{"user": newUserResponse(user)})
}

// writeAuthError maps service errors to status codes.
func (h *AuthHandler) writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *auth.ValidationError
	switch {
	case errors.As(err, &ve):
		respondWithError(w, http.StatusBadRequest, ve.Message)
	case errors.Is(err, auth.ErrInvalidChallenge):
		respondWithError(w, http.StatusBadRequest, "Invalid or expired OTP")
	case errors.Is(err, auth.ErrNotFound):
		respondWithError(w, http.StatusBadRequest, "User not found")
	case errors.Is(err, auth.ErrInvalidCredentials):
		respondWithError(w, http.StatusBadRequest, "Invalid password")
	case errors.Is(err, auth.ErrProvider):
		h.log.WarnContext(r.Context(), "google login failed", logger.Error(err))
		respondWithError(w, http.StatusBadRequest, "Google login failed")
	case errors.Is(err, auth.ErrUnauthorized):
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, auth.ErrDispatch):
		h.log.ErrorContext(r.Context(), "code dispatch failed", logger.Error(err))
		respondJSON(w, http.StatusInternalServerError, map[string]string{
			"message": "Failed to send OTP",
			"error":   err.Error(),
		})
	default:
		h.log.ErrorContext(r.Context(), "request failed", logger.Error(err))
		respondWithError(w, http.StatusInternalServerError, "internal server error")
	}
}

// parseDate accepts YYYY-MM-DD or RFC3339. An empty value is nil.
func parseDate(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		if t, err = time.Parse(time.RFC3339, s); err != nil {
			return nil, err
		}
	}
	t = t.UTC()
	return &t, nil
}
