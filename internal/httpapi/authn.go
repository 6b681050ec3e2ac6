package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"authserver.org/internal/auth"
	"authserver.org/internal/obs"
)

const authHeader = "Authorization"

// Both the legacy "JWT" scheme and the standard "Bearer" scheme are accepted.
var tokenSchemes = []string{"JWT ", "Bearer "}

var errBadAuthHeader = errors.New("authorization header must be 'JWT <token>' or 'Bearer <token>'")

func extractToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	for _, scheme := range tokenSchemes {
		if len(header) > len(scheme) && strings.EqualFold(header[:len(scheme)], scheme) {
			if token := strings.TrimSpace(header[len(scheme):]); token != "" {
				return token, nil
			}
		}
	}
	return "", errBadAuthHeader
}

// authenticate attaches the caller to the request context. Requests without
// credentials pass through anonymously and are rejected later by protect.
func (a *API) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get(authHeader)
		if header == "" {
			next.ServeHTTP(w, r)
			return
		}
		token, err := extractToken(header)
		if err != nil {
			unauthorized(w, r, err.Error())
			return
		}
		payload, id, err := a.svc.Authenticate(r.Context(), token)
		if err != nil {
			unauthorized(w, r, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.ContextWithCaller(r.Context(), payload, id)))
	})
}

// protect runs the decision engine for every request under res.
func (a *API) protect(res auth.Resource) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := auth.Authorize(auth.RequestFromContext(r.Context(), res, r.Method))
			obs.ObserveDecision(d.Allowed, string(d.Reason))
			if d.Allowed {
				next.ServeHTTP(w, r)
				return
			}

			log := obs.Logger()
			switch d.Reason {
			case auth.ReasonMissingResource:
				log.Warn().Str("path", r.URL.Path).Msg("protected route has no resource declaration")
			default:
				log.Debug().
					Str("request_id", RequestIDFromContext(r.Context())).
					Str("reason", string(d.Reason)).
					Str("required", d.Required).
					Msg("request denied")
			}

			if errors.Is(d.Err(), auth.ErrNotAuthenticated) {
				unauthorized(w, r, "authentication credentials were not provided")
				return
			}
			writeError(w, r, http.StatusForbidden, "you do not have permission to perform this action")
		})
	}
}

func unauthorized(w http.ResponseWriter, r *http.Request, msg string) {
	w.Header().Set("WWW-Authenticate", `JWT realm="api"`)
	writeError(w, r, http.StatusUnauthorized, msg)
}
