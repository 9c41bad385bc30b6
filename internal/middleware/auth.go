package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	log "github.com/sirupsen/logrus"

	"fleetsync/pkg/utils"
)

type contextKey string

const UserContextKey contextKey = "user"

// TokenTTL is how long a login token stays valid
const TokenTTL = 12 * time.Hour

// UserClaims identifies the actor behind a request
type UserClaims struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

type tokenClaims struct {
	UserClaims
	jwt.RegisteredClaims
}

// IssueToken signs an HS256 token for the given actor
func IssueToken(secret string, claims UserClaims, now time.Time) (string, error) {
	if secret == "" {
		return "", errors.New("jwt secret not configured")
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, tokenClaims{
		UserClaims: claims,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   claims.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(TokenTTL)),
		},
	})
	return token.SignedString([]byte(secret))
}

// ParseToken validates tokenString and returns its claims
func ParseToken(secret, tokenString string) (UserClaims, error) {
	if secret == "" {
		return UserClaims{}, errors.New("jwt secret not configured")
	}
	var claims tokenClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Method.Alg())
		}
		return []byte(secret), nil
	})
	if err != nil {
		return UserClaims{}, err
	}
	if !token.Valid {
		return UserClaims{}, jwt.ErrTokenSignatureInvalid
	}
	return claims.UserClaims, nil
}

// Auth attaches the caller's identity to the request context. With required
// set, requests without a valid bearer token are rejected; otherwise anonymous
// requests pass through and only malformed or invalid tokens are rejected.
func Auth(secret string, required bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				if required {
					log.WithField("path", r.URL.Path).Warn("❌ No authorization header")
					utils.RespondError(w, http.StatusUnauthorized, "Unauthorized")
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				log.WithField("parts", len(parts)).Warn("❌ Invalid authorization header format")
				utils.RespondError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}

			claims, err := ParseToken(secret, parts[1])
			if err != nil {
				log.WithError(err).Warn("❌ Invalid token")
				utils.RespondError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}

			log.WithFields(log.Fields{
				"user_id": claims.UserID,
				"role":    claims.Role,
			}).Debug("🔐 Authenticated request")

			ctx := context.WithValue(r.Context(), UserContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole middleware checks if user has one of the roles (must be used after Auth)
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userClaims, ok := GetUserFromContext(r)
			if !ok {
				utils.RespondError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
			for _, role := range roles {
				if userClaims.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			log.Warnf("❌ Insufficient permissions: required %v, got %s", roles, userClaims.Role)
			utils.RespondError(w, http.StatusForbidden, "Forbidden")
		})
	}
}

// GetUserFromContext extracts user claims from request context
func GetUserFromContext(r *http.Request) (UserClaims, bool) {
	userClaims, ok := r.Context().Value(UserContextKey).(UserClaims)
	return userClaims, ok
}
