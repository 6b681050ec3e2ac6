package httpapi

import (
	"errors"
	"net/http"
	"time"

	"authserver.org/internal/audit"
	"authserver.org/internal/auth"
	"authserver.org/internal/obs"
)

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenRequest struct {
	Token string `json:"token"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (a *API) obtainToken(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	issued, err := a.svc.IssueToken(r.Context(), req.Email, req.Password)
	if err != nil {
		a.audit(r, "token.rejected", map[string]any{"email": req.Email})
		handleTokenError(w, r, err)
		return
	}
	a.audit(r, "token.issued", map[string]any{
		"user_id":  issued.Payload.UserID,
		"token_id": issued.Payload.TokenID,
	})
	writeJSON(w, http.StatusOK, tokenResponse{Token: issued.Token, ExpiresAt: issued.Payload.ExpiresAt})
}

func (a *API) refreshToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	issued, err := a.svc.RefreshToken(r.Context(), req.Token)
	if err != nil {
		handleTokenError(w, r, err)
		return
	}
	a.audit(r, "token.refreshed", map[string]any{
		"user_id":  issued.Payload.UserID,
		"token_id": issued.Payload.TokenID,
	})
	writeJSON(w, http.StatusOK, tokenResponse{Token: issued.Token, ExpiresAt: issued.Payload.ExpiresAt})
}

func (a *API) verifyToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	payload, err := a.svc.VerifyToken(r.Context(), req.Token)
	if err != nil {
		handleTokenError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{Token: req.Token, ExpiresAt: payload.ExpiresAt})
}

func handleTokenError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, r, http.StatusBadRequest, "unable to log in with provided credentials")
	case errors.Is(err, auth.ErrRefreshExpired):
		writeError(w, r, http.StatusBadRequest, "refresh has expired")
	case errors.Is(err, auth.ErrInvalidToken):
		writeError(w, r, http.StatusBadRequest, "invalid token")
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	default:
		obs.Logger().Error().Err(err).Str("request_id", RequestIDFromContext(r.Context())).Msg("token operation failed")
		writeError(w, r, http.StatusInternalServerError, "token operation failed")
	}
}

func (a *API) audit(r *http.Request, event string, fields map[string]any) {
	if err := audit.LogEvent(r.Context(), event, fields); err != nil {
		obs.Logger().Warn().Err(err).Str("event", event).Msg("audit log failed")
	}
}
