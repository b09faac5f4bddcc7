package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strings"

	"github.com/authgate/authgate/internal/models"
	"github.com/authgate/authgate/internal/service"
	"github.com/sirupsen/logrus"
)

type AuthHandlers struct {
	sessions *service.SessionService
	logger   *logrus.Logger
}

func NewAuthHandlers(sessions *service.SessionService, logger *logrus.Logger) *AuthHandlers {
	return &AuthHandlers{
		sessions: sessions,
		logger:   logger,
	}
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type SignupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type SignupResponse struct {
	Email string      `json:"email"`
	Role  models.Role `json:"role"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh"`
}

type LogoutRequest struct {
	RefreshToken string `json:"refresh"`
}

type ForgotPasswordRequest struct {
	Email string `json:"email"`
}

type ResetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (h *AuthHandlers) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}

	email := strings.TrimSpace(req.Email)
	if !isValidEmail(email) || req.Password == "" {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Email and password are required")
		return
	}

	pair, err := h.sessions.Login(r.Context(), email, req.Password)
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, pair)
}

func (h *AuthHandlers) Signup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}

	email := strings.TrimSpace(req.Email)
	if !isValidEmail(email) {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_EMAIL", "Invalid email address")
		return
	}
	if len(req.Password) < 8 {
		h.respondWithError(w, http.StatusBadRequest, "WEAK_PASSWORD", "Password must be at least 8 characters")
		return
	}

	user, err := h.sessions.Signup(r.Context(), email, req.Password)
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusCreated, SignupResponse{
		Email: user.Email,
		Role:  user.Role,
	})
}

func (h *AuthHandlers) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}

	if req.RefreshToken == "" {
		h.respondWithError(w, http.StatusBadRequest, "MISSING_TOKEN", "Refresh token is required")
		return
	}

	pair, err := h.sessions.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, pair)
}

func (h *AuthHandlers) Logout(w http.ResponseWriter, r *http.Request) {
	var req LogoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}

	if req.RefreshToken == "" {
		h.respondWithError(w, http.StatusBadRequest, "MISSING_TOKEN", "Refresh token is required")
		return
	}

	if err := h.sessions.Logout(r.Context(), req.RefreshToken); err != nil {
		h.respondWithServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandlers) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req ForgotPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}

	email := strings.TrimSpace(req.Email)
	if !isValidEmail(email) {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_EMAIL", "Invalid email address")
		return
	}

	// Accepted whether or not the account exists; anything else would
	// let callers enumerate accounts.
	if _, err := h.sessions.ForgotPassword(r.Context(), email); err != nil {
		h.respondWithServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

func (h *AuthHandlers) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}

	if req.Token == "" || len(req.NewPassword) < 8 {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Token and a password of at least 8 characters are required")
		return
	}

	if err := h.sessions.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		h.respondWithServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type RevokeSessionsRequest struct {
	Email string `json:"email"`
}

// RevokeUserSessions is the admin operation behind forced logout of a
// user on every device. The router guards it with the admin role.
func (h *AuthHandlers) RevokeUserSessions(w http.ResponseWriter, r *http.Request) {
	var req RevokeSessionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}

	email := strings.TrimSpace(req.Email)
	if !isValidEmail(email) {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_EMAIL", "Invalid email address")
		return
	}

	if err := h.sessions.RevokeUserSessions(r.Context(), email); err != nil {
		h.respondWithServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// respondWithServiceError maps domain errors onto the HTTP contract.
// Credential and token failures share deliberately vague bodies.
func (h *AuthHandlers) respondWithServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrInvalidCredentials):
		h.respondWithError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password")
	case errors.Is(err, models.ErrRefreshReuse):
		h.respondWithError(w, http.StatusConflict, "TOKEN_REUSED", "Refresh token already used, session revoked")
	case errors.Is(err, models.ErrRefreshNotFound):
		h.respondWithError(w, http.StatusUnauthorized, "INVALID_TOKEN", "Invalid or expired token")
	case errors.Is(err, models.ErrTokenMalformed),
		errors.Is(err, models.ErrTokenSignature),
		errors.Is(err, models.ErrTokenExpired):
		h.respondWithError(w, http.StatusUnauthorized, "INVALID_TOKEN", "Invalid or expired token")
	case errors.Is(err, models.ErrUserExists):
		h.respondWithError(w, http.StatusConflict, "ACCOUNT_EXISTS", "Account already exists")
	case errors.Is(err, models.ErrStoreUnavailable):
		h.respondWithError(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "Temporarily unavailable, retry later")
	default:
		h.logger.WithError(err).Error("Unhandled service error")
		h.respondWithError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
	}
}

func (h *AuthHandlers) respondWithJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func (h *AuthHandlers) respondWithError(w http.ResponseWriter, status int, code, message string) {
	h.respondWithJSON(w, status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

func isValidEmail(email string) bool {
	return emailPattern.MatchString(email)
}
