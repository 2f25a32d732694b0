package auth

import (
	"context"
	"errors"
)

// ErrInvalidToken is returned for any token that does not yield an identity:
// malformed, expired, bad signature, or revoked.
var ErrInvalidToken = errors.New("invalid token")

type Client interface {
	// Validate authenticates a token presented by a connecting client and
	// returns the identity (roll number) it was issued to.
	Validate(ctx context.Context, token string) (string, error)
}
