package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"authserver.org/internal/auth"
)

func TestObtainTokenCarriesEffectivePermissions(t *testing.T) {
	c := newTestAPI(t)
	c.member("nurse@example.com", "Patient-GET", "Patient-POST")

	token := c.login("nurse@example.com")
	payload, err := c.svc.Tokens().Decode(token)
	require.NoError(t, err)
	require.True(t, payload.HasPermissions)
	require.Equal(t, []string{"Patient-GET", "Patient-POST"}, payload.Permissions)
	require.Equal(t, "nurse@example.com", payload.Email)
}

func TestObtainTokenRejectsBadCredentials(t *testing.T) {
	c := newTestAPI(t)
	u := c.user("staff@example.com", false)

	cases := []credentialsRequest{
		{Email: "staff@example.com", Password: "wrong"},
		{Email: "nobody@example.com", Password: testPassword},
	}
	for _, creds := range cases {
		resp := c.do(http.MethodPost, "/api/tokens/auth", creds, "")
		body := decode[map[string]any](t, resp)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		require.Equal(t, "unable to log in with provided credentials", body["error"])
	}

	inactive := false
	_, err := c.rbac.UpdateUser(context.Background(), u.ID, auth.UserUpdate{IsActive: &inactive})
	require.NoError(t, err)
	resp := c.do(http.MethodPost, "/api/tokens/auth", credentialsRequest{Email: u.Email, Password: testPassword}, "")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestRefreshRecomputesPermissions(t *testing.T) {
	c := newTestAPI(t)
	ctx := context.Background()
	u := c.member("doc@example.com", "Patient-GET")
	token := c.login(u.Email)

	role, err := c.rbac.CreateRole(ctx, "extra", "")
	require.NoError(t, err)
	perm, err := c.rbac.EnsurePermission(ctx, "Patient-DELETE", "")
	require.NoError(t, err)
	_, _, err = c.rbac.AttachPermission(ctx, role.ID, perm.ID)
	require.NoError(t, err)
	org, err := c.rbac.FindOrganizationByName(ctx, "org-doc@example.com")
	require.NoError(t, err)
	_, _, err = c.rbac.GrantRole(ctx, auth.Grant{RoleID: role.ID, OrganizationID: org.ID, UserID: u.ID})
	require.NoError(t, err)

	resp := c.do(http.MethodPost, "/api/tokens/refresh", tokenRequest{Token: token}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	refreshed := decode[tokenResponse](t, resp)

	before, err := c.svc.Tokens().Decode(token)
	require.NoError(t, err)
	after, err := c.svc.Tokens().Decode(refreshed.Token)
	require.NoError(t, err)
	require.Equal(t, []string{"Patient-DELETE", "Patient-GET"}, after.Permissions)
	require.True(t, before.OrigIssuedAt.Equal(after.OrigIssuedAt))
}

func TestVerifyToken(t *testing.T) {
	c := newTestAPI(t)
	c.user("v@example.com", false)
	token := c.login("v@example.com")

	resp := c.do(http.MethodPost, "/api/tokens/verify", tokenRequest{Token: token}, "")
	body := decode[tokenResponse](t, resp)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, token, body.Token)

	resp = c.do(http.MethodPost, "/api/tokens/verify", tokenRequest{Token: token + "x"}, "")
	errBody := decode[map[string]any](t, resp)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "invalid token", errBody["error"])
}

func TestTokenEndpointsAreRateLimited(t *testing.T) {
	c := newTestAPI(t, WithRateLimit(0.001, 1))
	creds := credentialsRequest{Email: "x@example.com", Password: "bad"}

	resp := c.do(http.MethodPost, "/api/tokens/auth", creds, "")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = c.do(http.MethodPost, "/api/tokens/auth", creds, "")
	body := decode[map[string]any](t, resp)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	require.NotEmpty(t, resp.Header.Get("Retry-After"))
	require.Equal(t, "rate limit exceeded", body["error"])
}

func TestLoginRateLimitIgnoresSpoofedForwardedFor(t *testing.T) {
	c := newTestAPI(t, WithRateLimit(0.001, 1))
	payload, err := json.Marshal(credentialsRequest{Email: "x@example.com", Password: "bad"})
	require.NoError(t, err)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req, err := http.NewRequest(http.MethodPost, c.baseURL+"/api/tokens/auth", bytes.NewReader(payload))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("198.51.100.%d", i+1))
		resp, err := c.client.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		codes = append(codes, resp.StatusCode)
	}
	require.Equal(t, []int{http.StatusBadRequest, http.StatusTooManyRequests, http.StatusTooManyRequests}, codes)
}
