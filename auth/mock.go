package auth

import (
	"context"
	"strings"
)

// MockClient accepts any token of the form "uid:<identity>" and returns the
// identity verbatim. For tests and the dev demo only.
type MockClient struct{}

func (c *MockClient) Validate(ctx context.Context, token string) (string, error) {
	identity, ok := strings.CutPrefix(token, "uid:")
	if !ok || identity == "" {
		return "", ErrInvalidToken
	}
	return identity, nil
}
