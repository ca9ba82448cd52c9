// ABOUTME: Bearer-token extraction and upgrade-time authentication helpers
// ABOUTME: Rejects bad or role-mismatched tokens before any room state is touched

package auth

import (
	"net/http"
	"strings"
)

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// Authenticate resolves the request's bearer token to connection claims and
// enforces that the token's role matches the endpoint's expected role. Any
// failure results in a 401 written to w and a nil return; no partial
// registration can occur because nothing downstream runs on nil claims.
func Authenticate(w http.ResponseWriter, r *http.Request, verifier TokenVerifier, expectedRole string) *Claims {
	token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
	if errMsg != "" {
		http.Error(w, `{"error":"`+errMsg+`"}`, http.StatusUnauthorized)
		return nil
	}

	claims, err := verifier.Verify(r.Context(), token)
	if err != nil {
		http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
		return nil
	}

	if claims.Role != expectedRole {
		http.Error(w, `{"error":"token role does not match endpoint"}`, http.StatusUnauthorized)
		return nil
	}

	return claims
}

// AdminMiddleware guards the administrative surface with a static bearer
// token configured on the server. Admin access is all-or-nothing.
func AdminMiddleware(adminToken string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if adminToken == "" {
				http.Error(w, `{"error":"admin surface disabled"}`, http.StatusUnauthorized)
				return
			}
			token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
			if errMsg != "" {
				http.Error(w, `{"error":"`+errMsg+`"}`, http.StatusUnauthorized)
				return
			}
			if token != adminToken {
				http.Error(w, `{"error":"invalid admin token"}`, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
