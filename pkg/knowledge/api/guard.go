package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/jwtauth"
	"github.com/go-chi/render"
	"github.com/tendant/chi-demo/middleware"
)

// ModeratorRole is the role claim a moderator token must carry.
const ModeratorRole = "moderator"

// GuardConfig selects how the moderation surface is protected. With neither
// field set the guard lets every request through.
type GuardConfig struct {
	// APIKeySHA256 is the hex sha256 digest of the accepted API key.
	APIKeySHA256 string
	// JWTSecret signs HS256 bearer tokens with a role claim of "moderator".
	JWTSecret string
}

// Enabled reports whether any credential is configured.
func (c GuardConfig) Enabled() bool {
	return c.APIKeySHA256 != "" || c.JWTSecret != ""
}

// NewModeratorGuard builds the middleware for review routes and moderator
// query overrides. When both credentials are configured a Bearer token is
// checked as a JWT and anything else goes to the API key check.
func NewModeratorGuard(cfg GuardConfig) (func(http.Handler) http.Handler, error) {
	if !cfg.Enabled() {
		return nil, nil
	}

	var apiKey func(http.Handler) http.Handler
	if cfg.APIKeySHA256 != "" {
		mw, err := middleware.ApiKeyMiddleware(middleware.ApiKeyConfig{
			APIKeys: map[string]string{"moderator": cfg.APIKeySHA256},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize API key middleware: %w", err)
		}
		apiKey = mw
	}

	var bearer func(http.Handler) http.Handler
	if cfg.JWTSecret != "" {
		tokenAuth := NewTokenAuth(cfg.JWTSecret)
		bearer = func(next http.Handler) http.Handler {
			return jwtauth.Verifier(tokenAuth)(jwtauth.Authenticator(requireModerator(next)))
		}
	}

	switch {
	case apiKey == nil:
		return bearer, nil
	case bearer == nil:
		return apiKey, nil
	}
	return func(next http.Handler) http.Handler {
		withBearer := bearer(next)
		withKey := apiKey(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(strings.ToLower(r.Header.Get("Authorization")), "bearer ") {
				withBearer.ServeHTTP(w, r)
				return
			}
			withKey.ServeHTTP(w, r)
		})
	}, nil
}

// NewTokenAuth returns the HS256 signer and verifier for moderator tokens.
func NewTokenAuth(secret string) *jwtauth.JWTAuth {
	return jwtauth.New("HS256", []byte(secret), nil)
}

// IssueModeratorToken signs a token accepted by the JWT guard.
func IssueModeratorToken(secret, subject string) (string, error) {
	_, token, err := NewTokenAuth(secret).Encode(map[string]interface{}{
		"sub":  subject,
		"role": ModeratorRole,
	})
	if err != nil {
		return "", fmt.Errorf("failed to sign moderator token: %w", err)
	}
	return token, nil
}

func requireModerator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, claims, err := jwtauth.FromContext(r.Context())
		if err != nil || claims["role"] != ModeratorRole {
			render.Status(r, http.StatusForbidden)
			render.JSON(w, r, ErrorResponse{Error: "moderator role required", Code: "forbidden"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
