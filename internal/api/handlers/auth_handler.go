package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/knowbase/knowbase/internal/core"
	"github.com/knowbase/knowbase/internal/logging"
	"github.com/knowbase/knowbase/internal/models"
)

type AuthHandler struct {
	dbclient  core.DbClient
	jwtSecret string
	logger    logging.Logger
}

func NewAuthHandler(dbclient core.DbClient, jwtSecret string, logger logging.Logger) *AuthHandler {
	return &AuthHandler{dbclient: dbclient, jwtSecret: jwtSecret, logger: logger.With("component", "auth")}
}

type signupRequest struct {
	FirstName string `json:"first_name"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	// OrganizationID joins an existing organization; empty mints a new one.
	OrganizationID string `json:"organization_id"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	Token          string `json:"token"`
	UserID         string `json:"user_id"`
	OrganizationID string `json:"organization_id"`
}

func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if req.Email == "" || req.Password == "" {
		http.Error(w, "email and password are required", http.StatusBadRequest)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		http.Error(w, "could not hash password", http.StatusInternalServerError)
		return
	}

	orgID := req.OrganizationID
	if orgID == "" {
		orgID = uuid.NewString()
	}

	user := &models.User{
		ID:             uuid.NewString(),
		OrganizationID: orgID,
		FirstName:      req.FirstName,
		Email:          req.Email,
		PasswordHash:   string(hash),
	}
	if err := h.dbclient.CreateUser(r.Context(), user); err != nil {
		h.logger.Warn("signup rejected", "email", req.Email, "error", err)
		http.Error(w, "user exists", http.StatusConflict)
		return
	}

	h.writeToken(w, user)
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	user, err := h.dbclient.GetUserByEmail(r.Context(), req.Email)
	if err != nil || user == nil ||
		bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	h.writeToken(w, user)
}

func (h *AuthHandler) writeToken(w http.ResponseWriter, user *models.User) {
	claims := jwt.MapClaims{
		"user_id":         user.ID,
		"organization_id": user.OrganizationID,
		"exp":             time.Now().Add(24 * time.Hour).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(h.jwtSecret))
	if err != nil {
		http.Error(w, "could not sign token", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(authResponse{
		Token:          token,
		UserID:         user.ID,
		OrganizationID: user.OrganizationID,
	})
}
