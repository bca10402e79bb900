package a2arpc

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthenticateExtractsClaimsFromBearerToken(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", bearerFor("u1", "ws1"))

	claims, err := authenticate(req)

	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "ws1", claims.WorkspaceID)
}

func TestAuthenticateRejectsMissingHeader(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)

	_, err := authenticate(req)

	assert.ErrorIs(t, err, errMissingBearer)
}

func TestAuthenticateRejectsMalformedToken(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")

	_, err := authenticate(req)

	assert.ErrorIs(t, err, errMissingBearer)
}

func TestAuthenticateRejectsTokenMissingWorkspaceClaim(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", bearerFor("u1", ""))

	_, err := authenticate(req)

	assert.ErrorIs(t, err, errMissingBearer)
}
