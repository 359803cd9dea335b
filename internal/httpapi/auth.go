package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Supabase projects sign access tokens with one of the HMAC variants.
var allowedJWTMethods = []string{"HS256", "HS384", "HS512"}

type authClaims struct {
	Subject string
	Email   string
}

type claimsKey struct{}

func claimsFromContext(ctx context.Context) (authClaims, bool) {
	c, ok := ctx.Value(claimsKey{}).(authClaims)
	return c, ok
}

// requireAuth verifies Supabase bearer tokens. With no secret
// configured the middleware is a pass-through, so local development
// works without a Supabase project.
func requireAuth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if strings.TrimSpace(secret) == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				respondError(w, http.StatusUnauthorized, "missing_token", "missing or invalid Authorization header")
				return
			}
			token := strings.TrimPrefix(header, "Bearer ")

			claims, err := verifyToken(token, secret)
			if err != nil {
				respondError(w, http.StatusUnauthorized, "invalid_token", err.Error())
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
		})
	}
}

func verifyToken(token, secret string) (authClaims, error) {
	keyFunc := func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	}

	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, keyFunc,
		jwt.WithValidMethods(allowedJWTMethods),
		jwt.WithAudience("authenticated"),
	)
	if err != nil {
		// Some Supabase configurations omit the audience claim.
		claims = jwt.MapClaims{}
		parsed, err = jwt.ParseWithClaims(token, claims, keyFunc,
			jwt.WithValidMethods(allowedJWTMethods),
		)
		if err != nil {
			return authClaims{}, fmt.Errorf("invalid token: %w", err)
		}
	}
	if !parsed.Valid {
		return authClaims{}, fmt.Errorf("invalid token")
	}

	out := authClaims{}
	if sub, err := claims.GetSubject(); err == nil {
		out.Subject = sub
	}
	if email, ok := claims["email"].(string); ok {
		out.Email = email
	}
	return out, nil
}
