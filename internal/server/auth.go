package server

import (
	"fmt"
	"net/http"
	"strings"

	internalauth "recink/internal/auth"
)

const apiKeyHeader = "X-API-Key"

// withAuth enforces the X-API-Key header. The upload endpoint stays
// outside this middleware; its single-use token is the credential there.
func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" && s.apiKeyHash == "" {
			s.writeErrorReq(w, r, http.StatusUnauthorized,
				unauthorizedCode(fmt.Errorf("no api key configured"), ErrCodeUnauthorized))
			return
		}

		candidate := strings.TrimSpace(r.Header.Get(apiKeyHeader))
		if candidate == "" {
			s.writeErrorReq(w, r, http.StatusUnauthorized,
				unauthorizedCode(fmt.Errorf("missing %s header", apiKeyHeader), ErrCodeUnauthorized))
			return
		}
		if !internalauth.VerifyAPIKey(candidate, s.apiKey, s.apiKeyHash) {
			s.writeErrorReq(w, r, http.StatusUnauthorized,
				unauthorizedCode(fmt.Errorf("invalid api key"), ErrCodeUnauthorized))
			return
		}

		next(w, r)
	}
}
