/*
auth.go - Registration, login, and token-based request authentication

PURPOSE:
  Implements the account surface: password registration with optional
  referral-code claim, login issuing a signed access token, and the
  middleware that resolves the bearer token to a user for protected
  routes.

TOKENS:
  HS256 JWTs with the user ID as subject, expiring after 7 days. The
  signing key comes from configuration; rotating it invalidates all
  outstanding tokens.

REFERRAL CLAIM:
  A referral code supplied at registration is resolved to the referrer
  and checked against the ancestor chain so the referrer graph stays
  acyclic. The claim is permanent; referrers cannot be changed later.

SEE ALSO:
  - handlers.go: Protected business endpoints
  - referral/commission.go: ValidateReferrer cycle guard
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/stakeline/invest-engine/core"
	"github.com/stakeline/invest-engine/referral"
)

const tokenLifetime = 7 * 24 * time.Hour

type ctxKey int

const userContextKey ctxKey = iota

// RegisterRequest is the body for POST /api/auth/register.
type RegisterRequest struct {
	Name         string `json:"name"`
	Email        string `json:"email"`
	Password     string `json:"password"`
	Phone        string `json:"phone"`
	ReferralCode string `json:"referral_code"`
}

// LoginRequest is the body for POST /api/auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthResponse returns the access token alongside the user profile.
type AuthResponse struct {
	Token string  `json:"token"`
	User  UserDTO `json:"user"`
}

// =============================================================================
// AUTH HANDLERS
// =============================================================================

// Register creates a new account, optionally linked to a referrer.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Name == "" || req.Email == "" {
		writeError(w, http.StatusBadRequest, "Name and email are required", nil)
		return
	}
	if len(req.Password) < 6 {
		writeError(w, http.StatusBadRequest, "Password must be at least 6 characters", nil)
		return
	}

	ctx := r.Context()
	userID := core.UserID(uuid.NewString())

	// Resolve the referral claim before creating anything.
	var referredBy *core.UserID
	if code := strings.TrimSpace(req.ReferralCode); code != "" {
		referrer, err := h.Store.GetUserByReferralCode(ctx, code)
		if err != nil {
			if core.IsNotFound(err) {
				writeError(w, http.StatusBadRequest, "Invalid referral code", nil)
				return
			}
			writeError(w, http.StatusInternalServerError, "Failed to resolve referral code", err)
			return
		}
		if err := referral.ValidateReferrer(ctx, h.Store, userID, referrer.ID); err != nil {
			writeDomainError(w, "Invalid referral code", err)
			return
		}
		referredBy = &referrer.ID
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to process password", err)
		return
	}

	now := time.Now().UTC()
	user := &core.User{
		ID:           userID,
		Name:         req.Name,
		Email:        req.Email,
		PasswordHash: string(hash),
		Phone:        req.Phone,
		ReferralCode: newReferralCode(),
		ReferredBy:   referredBy,
		Role:         core.RoleUser,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := h.Store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, core.ErrEmailTaken) {
			writeError(w, http.StatusConflict, "Email already registered", nil)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to create user", err)
		return
	}

	token, err := h.issueToken(user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to issue token", err)
		return
	}

	writeJSON(w, http.StatusCreated, AuthResponse{Token: token, User: toUserDTO(user)})
}

// Login verifies credentials and issues an access token.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ctx := r.Context()
	user, err := h.Store.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		if core.IsNotFound(err) {
			writeError(w, http.StatusUnauthorized, "Invalid email or password", nil)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to look up user", err)
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		writeError(w, http.StatusUnauthorized, "Invalid email or password", nil)
		return
	}
	if !user.IsActive {
		writeError(w, http.StatusUnauthorized, "Account is disabled", nil)
		return
	}

	if err := h.Store.UpdateUserLogin(ctx, user.ID, time.Now().UTC()); err != nil {
		// Login still succeeds; the timestamp is informational.
		log.Printf("[API] failed to record login time for %s: %v", user.ID, err)
	}

	token, err := h.issueToken(user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to issue token", err)
		return
	}

	writeJSON(w, http.StatusOK, AuthResponse{Token: token, User: toUserDTO(user)})
}

// Me returns the authenticated user's profile.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())
	writeJSON(w, http.StatusOK, toUserDTO(user))
}

// =============================================================================
// TOKENS AND MIDDLEWARE
// =============================================================================

func (h *Handler) issueToken(u *core.User) (string, error) {
	now := time.Now().UTC()
	claims := jwt.RegisteredClaims{
		Subject:   string(u.ID),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(tokenLifetime)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(h.JWTSecret)
}

// Authenticate resolves the bearer token to a user and stores it in the
// request context. Requests without a valid token get 401.
func (h *Handler) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			writeError(w, http.StatusUnauthorized, "Missing bearer token", nil)
			return
		}
		raw := strings.TrimPrefix(header, "Bearer ")

		claims := &jwt.RegisteredClaims{}
		token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return h.JWTSecret, nil
		})
		if err != nil || !token.Valid {
			writeError(w, http.StatusUnauthorized, "Invalid or expired token", nil)
			return
		}

		user, err := h.Store.GetUser(r.Context(), core.UserID(claims.Subject))
		if err != nil || !user.IsActive {
			writeError(w, http.StatusUnauthorized, "Invalid or expired token", nil)
			return
		}

		ctx := context.WithValue(r.Context(), userContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin rejects non-admin users with 401.
func (h *Handler) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user := userFrom(r.Context()); user == nil || !user.IsAdmin() {
			writeError(w, http.StatusUnauthorized, "Admin access required", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func userFrom(ctx context.Context) *core.User {
	user, _ := ctx.Value(userContextKey).(*core.User)
	return user
}

// newReferralCode generates a short shareable code. Codes are unique in
// practice; the database unique index is the backstop.
func newReferralCode() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}
