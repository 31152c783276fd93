package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

var authBypassPaths = map[string]struct{}{
	"/healthz":    {},
	"/readyz":     {},
	"/api/health": {},
}

// authMiddleware rejects unauthenticated requests when an API key or basic
// credentials are configured. Health endpoints stay open for probes.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	if s.apiKey == "" && s.basicUser == "" {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.isAuthRequired(r) {
			next.ServeHTTP(w, r)
			return
		}

		if s.authorizeRequest(r) {
			next.ServeHTTP(w, r)
			return
		}

		if s.basicUser != "" {
			w.Header().Set("WWW-Authenticate", `Basic realm="PabloDNS", charset="UTF-8"`)
		}
		s.writeError(w, http.StatusUnauthorized, "Unauthorized")
	})
}

func (s *Server) isAuthRequired(r *http.Request) bool {
	if r.Method == http.MethodOptions {
		return false
	}
	if _, ok := authBypassPaths[r.URL.Path]; ok {
		return false
	}
	return true
}

func (s *Server) authorizeRequest(r *http.Request) bool {
	if s.apiKey != "" {
		if token := extractAPIKey(r); token != "" {
			if subtle.ConstantTimeCompare([]byte(token), []byte(s.apiKey)) == 1 {
				return true
			}
		}
	}

	if s.basicUser != "" && s.passwordHash != "" {
		if user, pass, ok := r.BasicAuth(); ok {
			if subtle.ConstantTimeCompare([]byte(user), []byte(s.basicUser)) != 1 {
				return false
			}
			return bcrypt.CompareHashAndPassword([]byte(s.passwordHash), []byte(pass)) == nil
		}
	}

	return false
}

// extractAPIKey reads a bearer token or bare key from the Authorization or
// X-API-Key headers.
func extractAPIKey(r *http.Request) string {
	value := strings.TrimSpace(r.Header.Get("X-API-Key"))
	if value == "" {
		value = strings.TrimSpace(r.Header.Get("Authorization"))
	}
	if value == "" {
		return ""
	}

	parts := strings.Fields(value)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return parts[1]
	}
	if len(parts) == 1 {
		return parts[0]
	}
	return ""
}
