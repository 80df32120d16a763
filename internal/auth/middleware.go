package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/HanTheDev/devops-agent-gateway/internal/respond"
)

type contextKey string

const OperatorContextKey contextKey = "operator"

type Middleware struct {
	jwtSecret string
}

func NewMiddleware(jwtSecret string) *Middleware {
	return &Middleware{jwtSecret: jwtSecret}
}

func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			respond.Error(w, http.StatusUnauthorized, "Missing authorization header")
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			respond.Error(w, http.StatusUnauthorized, "Invalid authorization header format")
			return
		}

		claims, err := ValidateToken(parts[1], m.jwtSecret)
		if err != nil {
			respond.Error(w, http.StatusUnauthorized, "Invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), OperatorContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func GetOperatorFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(OperatorContextKey).(*Claims)
	return claims, ok
}
