// backend/src/handlers/user_handler.go
package handlers

import (
	"encoding/json"
	"net/http"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/sunnywifi/ledgerline/backend/src/config"
	"github.com/sunnywifi/ledgerline/backend/src/database"
	"github.com/sunnywifi/ledgerline/backend/src/logger"
	"github.com/sunnywifi/ledgerline/backend/src/model"
	"github.com/sunnywifi/ledgerline/backend/src/security"
	"github.com/sunnywifi/ledgerline/backend/src/services"
	"github.com/sunnywifi/ledgerline/backend/src/utils"
)

var usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9_.\-]{3,50}$`)

type UserHandler struct {
	authService *security.AuthService
}

func NewUserHandler(authService *security.AuthService) *UserHandler {
	return &UserHandler{authService: authService}
}

type registerRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// RegisterUserHandler creates a local account. Registration is closed by
// default and always capped for this private deployment.
func (h *UserHandler) RegisterUserHandler(w http.ResponseWriter, r *http.Request) {
	if !config.Cfg.EnableRegistration {
		utils.SendJSONError(w, services.CodeValidation, "registration is disabled", http.StatusForbidden)
		return
	}

	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.SendJSONError(w, services.CodeValidation, "invalid request body", http.StatusBadRequest)
		return
	}
	if !usernameRegex.MatchString(req.Username) {
		utils.SendJSONError(w, services.CodeValidation, "username must be 3-50 characters (letters, digits, _ . -)", http.StatusBadRequest)
		return
	}
	if len(req.Password) < 6 {
		utils.SendJSONError(w, services.CodeValidation, "password must be at least 6 characters", http.StatusBadRequest)
		return
	}

	count, err := model.CountUsers(r.Context(), database.DB)
	if err != nil {
		logger.FromContext(r.Context()).Error("Counting users failed", "error", err)
		utils.SendJSONError(w, services.CodeInternal, "registration failed", http.StatusInternalServerError)
		return
	}
	if count >= config.Cfg.MaxUsers {
		utils.SendJSONError(w, services.CodeValidation, "user limit reached", http.StatusForbidden)
		return
	}

	user := &model.User{Username: req.Username, APIKey: uuid.New().String()}
	if err := user.HashPassword(req.Password); err != nil {
		logger.FromContext(r.Context()).Error("Password hashing failed", "error", err)
		utils.SendJSONError(w, services.CodeInternal, "registration failed", http.StatusInternalServerError)
		return
	}
	if err := user.CreateUser(r.Context(), database.DB); err != nil {
		if model.IsUniqueConstraintErr(err) {
			utils.SendJSONError(w, services.CodeConflict, "username already taken", http.StatusConflict)
			return
		}
		logger.FromContext(r.Context()).Error("User creation failed", "error", err)
		utils.SendJSONError(w, services.CodeInternal, "registration failed", http.StatusInternalServerError)
		return
	}

	logger.FromContext(r.Context()).Info("User registered", "userID", user.ID, "username", user.Username)
	utils.SendJSONSuccess(w, map[string]any{
		"user_id":  user.ID,
		"username": user.Username,
		"api_key":  user.APIKey,
	}, "registered")
}

// LoginUserHandler verifies the password and issues an access token plus a
// refresh token bound to a session row.
func (h *UserHandler) LoginUserHandler(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.SendJSONError(w, services.CodeValidation, "invalid request body", http.StatusBadRequest)
		return
	}

	user, err := model.GetUserByUsername(r.Context(), database.DB, req.Username)
	if err != nil || user.CheckPassword(req.Password) != nil {
		utils.SendJSONError(w, services.CodeUnauthorized, "invalid username or password", http.StatusUnauthorized)
		return
	}

	resp, err := h.issueTokens(r, user.ID)
	if err != nil {
		logger.FromContext(r.Context()).Error("Token issuance failed", "userID", user.ID, "error", err)
		utils.SendJSONError(w, services.CodeInternal, "login failed", http.StatusInternalServerError)
		return
	}

	logger.FromContext(r.Context()).Info("User logged in", "userID", user.ID)
	utils.SendJSONSuccess(w, resp, "")
}

func (h *UserHandler) issueTokens(r *http.Request, userID int64) (*tokenResponse, error) {
	accessToken, err := h.authService.GenerateToken(userID, config.Cfg.AccessTokenExpiry)
	if err != nil {
		return nil, err
	}

	session := &model.Session{
		UserID:       userID,
		Token:        accessToken,
		RefreshToken: uuid.New().String(),
		ExpiresAt:    time.Now().Add(config.Cfg.RefreshTokenExpiry),
	}
	if err := model.CreateSession(r.Context(), database.DB, session); err != nil {
		return nil, err
	}

	return &tokenResponse{
		AccessToken:  accessToken,
		RefreshToken: session.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(config.Cfg.AccessTokenExpiry.Seconds()),
	}, nil
}

// RefreshTokenHandler rotates the session: the old session row is replaced
// by a new access/refresh pair.
func (h *UserHandler) RefreshTokenHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		utils.SendJSONError(w, services.CodeValidation, "refresh_token required", http.StatusBadRequest)
		return
	}

	session, err := model.GetSessionByRefreshToken(r.Context(), database.DB, req.RefreshToken)
	if err != nil {
		utils.SendJSONError(w, services.CodeUnauthorized, "invalid refresh token", http.StatusUnauthorized)
		return
	}
	if time.Now().After(session.ExpiresAt) {
		_ = model.DeleteSessionByRefreshToken(r.Context(), database.DB, req.RefreshToken)
		utils.SendJSONError(w, services.CodeUnauthorized, "refresh token expired", http.StatusUnauthorized)
		return
	}

	if err := model.DeleteSessionByRefreshToken(r.Context(), database.DB, req.RefreshToken); err != nil {
		logger.FromContext(r.Context()).Error("Session rotation failed", "error", err)
		utils.SendJSONError(w, services.CodeInternal, "refresh failed", http.StatusInternalServerError)
		return
	}

	resp, err := h.issueTokens(r, session.UserID)
	if err != nil {
		logger.FromContext(r.Context()).Error("Token issuance failed", "userID", session.UserID, "error", err)
		utils.SendJSONError(w, services.CodeInternal, "refresh failed", http.StatusInternalServerError)
		return
	}
	utils.SendJSONSuccess(w, resp, "")
}

// LogoutUserHandler revokes the presented access token's session.
func (h *UserHandler) LogoutUserHandler(w http.ResponseWriter, r *http.Request) {
	authHeader := r.Header.Get("Authorization")
	tokenString := ""
	if len(authHeader) > 7 && authHeader[:7] == "Bearer " {
		tokenString = authHeader[7:]
	}
	if tokenString != "" {
		if err := model.DeleteSessionByToken(r.Context(), database.DB, tokenString); err != nil {
			logger.FromContext(r.Context()).Warn("Session deletion on logout failed", "error", err)
		}
	}
	utils.SendJSONSuccess(w, nil, "logged out")
}

// GetMeHandler returns the authenticated user's profile including the API key.
func (h *UserHandler) GetMeHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, services.CodeUnauthorized, "authentication required", http.StatusUnauthorized)
		return
	}
	user, err := model.GetUserByID(r.Context(), database.DB, userID)
	if err != nil {
		utils.SendJSONError(w, services.CodeNotFound, "user not found", http.StatusNotFound)
		return
	}
	utils.SendJSONSuccess(w, user, "")
}

// RegenerateAPIKeyHandler rotates the user's API key.
func (h *UserHandler) RegenerateAPIKeyHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, services.CodeUnauthorized, "authentication required", http.StatusUnauthorized)
		return
	}
	user, err := model.GetUserByID(r.Context(), database.DB, userID)
	if err != nil {
		utils.SendJSONError(w, services.CodeNotFound, "user not found", http.StatusNotFound)
		return
	}
	if err := user.UpdateAPIKey(r.Context(), database.DB, uuid.New().String()); err != nil {
		logger.FromContext(r.Context()).Error("API key rotation failed", "userID", userID, "error", err)
		utils.SendJSONError(w, services.CodeInternal, "api key rotation failed", http.StatusInternalServerError)
		return
	}
	utils.SendJSONSuccess(w, map[string]string{"api_key": user.APIKey}, "api key rotated")
}
