// Package auth verifies bearer tokens and attaches the caller's user record
// to the request context. Token issuance belongs to the external identity
// service; the only local issuer is the `cbt token` dev command.
package auth

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nonzoo/cbt-ai/internal/model"
	"github.com/nonzoo/cbt-ai/internal/store"
)

// Claims are the JWT claims this service understands.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Service validates HS256 tokens against a shared secret.
type Service struct {
	hmac []byte
}

func NewService(secret string) *Service {
	return &Service{hmac: []byte(secret)}
}

// IssueToken mints a token for a username. Used by the CLI for local testing
// against deployments without the identity service.
func (a *Service) IssueToken(username string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			Issuer:    "cbt-ai",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(a.hmac)
}

// Parse validates a token string and returns its claims.
func (a *Service) Parse(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{},
		func(t *jwt.Token) (interface{}, error) { return a.hmac, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	c, ok := token.Claims.(*Claims)
	if !ok {
		return nil, fmt.Errorf("unexpected claims type")
	}
	return c, nil
}

// Middleware rejects requests without a valid bearer token and stores the
// matching active user in the request context.
func (a *Service) Middleware(s *store.Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := r.Header.Get("Authorization")
			if !strings.HasPrefix(h, "Bearer ") {
				unauthorized(w, "missing bearer token")
				return
			}
			claims, err := a.Parse(strings.TrimPrefix(h, "Bearer "))
			if err != nil {
				slog.Debug("token rejected", "error", err)
				unauthorized(w, "invalid token")
				return
			}
			username := claims.Username
			if username == "" {
				username = claims.Subject
			}
			user, err := s.GetUserByUsername(username)
			if err != nil {
				slog.Error("user lookup failed", "username", username, "error", err)
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}
			if user == nil || !user.Active {
				unauthorized(w, "unknown user")
				return
			}
			ctx := model.ContextWithUser(r.Context(), user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
