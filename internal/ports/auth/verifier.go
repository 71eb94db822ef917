package auth

import (
	"context"
	"errors"
)

var ErrInvalidToken = errors.New("invalid token")

// AuthVerifier exchanges a bearer token for claims.
type AuthVerifier interface {
	Verify(ctx context.Context, token string) (Claims, error)
}
