package a2arpc

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

// Claims is the minimal JWT payload this gateway requires (§6): `sub` (the
// user ID) and `workspace_id`, which scopes every read and write.
type Claims struct {
	UserID      string `json:"sub"`
	WorkspaceID string `json:"workspace_id"`
}

var errMissingBearer = errors.New("a2arpc: missing or malformed bearer token")

// authenticate extracts and decodes the bearer token's claims. Signature
// verification is intentionally out of scope here: it belongs to a gateway
// sitting in front of this one (an API gateway or ingress that terminates
// TLS and validates the issuer's signing key), consistent with this
// package only trusting claims already vetted upstream.
func authenticate(r *http.Request) (Claims, error) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return Claims{}, errMissingBearer
	}
	segments := strings.Split(token, ".")
	if len(segments) != 3 {
		return Claims{}, errMissingBearer
	}
	payload, err := base64.RawURLEncoding.DecodeString(segments[1])
	if err != nil {
		return Claims{}, errMissingBearer
	}
	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return Claims{}, errMissingBearer
	}
	if claims.UserID == "" || claims.WorkspaceID == "" {
		return Claims{}, errMissingBearer
	}
	return claims, nil
}
