package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"guardian/internal/auth"
	"guardian/internal/db"
)

type AuthHandler struct {
	userRepo   *db.UserRepository
	jwtService *auth.JWTService
}

func NewAuthHandler(userRepo *db.UserRepository, jwtService *auth.JWTService) *AuthHandler {
	return &AuthHandler{
		userRepo:   userRepo,
		jwtService: jwtService,
	}
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,max=254"`
	Password string `json:"password" validate:"required,max=128"`
}

type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
}

// POST /api/v1/auth/login
//
// Any well-formed credential pair is accepted. The account is created
// on first login; the password is never stored or checked.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if err := requestValidator.Var(req.Email, "email,max=254"); err != nil {
		badRequest(w, "invalid email format")
		return
	}

	user, err := h.userRepo.UpsertByEmail(req.Email)
	if err != nil {
		slog.Error("error upserting user", "error", err)
		internalError(w)
		return
	}

	token, expiresAt, err := h.jwtService.GenerateAccessToken(user)
	if err != nil {
		slog.Error("error generating access token", "error", err)
		internalError(w)
		return
	}

	writeJSON(w, http.StatusOK, LoginResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		UserID:    user.ID,
		Username:  user.Username,
	})
}
