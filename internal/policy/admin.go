package policy

import (
	"crypto/subtle"
	"errors"
	"strings"
)

var (
	ErrAdminDisabled = errors.New("admin access disabled")
	ErrUnauthorized  = errors.New("unauthorized")
)

// AuthorizeAdmin checks an Authorization header against the configured admin
// token. An empty token disables admin access entirely.
func AuthorizeAdmin(authorization, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrAdminDisabled
	}
	scheme, value, ok := strings.Cut(strings.TrimSpace(authorization), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ErrUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(strings.TrimSpace(value)), []byte(token)) != 1 {
		return ErrUnauthorized
	}
	return nil
}
