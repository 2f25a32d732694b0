package auth

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/golang/glog"
	"github.com/redis/go-redis/v9"
)

const revokedKeyPrefix = "revoked:"

// JWTClient validates HS256 access tokens. The subject claim carries the
// identity. When a redis client is configured, the token id (jti) is checked
// against a revocation denylist so that kicked or deactivated accounts lose
// socket access before their token expires.
type JWTClient struct {
	secret []byte
	issuer string
	leeway time.Duration
	rdb    *redis.Client
}

// NewJWTClient creates a JWTClient. rdb may be nil to skip revocation checks.
func NewJWTClient(secret []byte, issuer string, rdb *redis.Client) *JWTClient {
	return &JWTClient{
		secret: secret,
		issuer: issuer,
		leeway: 30 * time.Second,
		rdb:    rdb,
	}
}

func (c *JWTClient) Validate(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrInvalidToken
	}

	claims := &jwt.RegisteredClaims{}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(c.leeway),
		jwt.WithExpirationRequired(),
	}
	if c.issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.issuer))
	}

	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return c.secret, nil
	}, opts...)
	if err != nil || !parsed.Valid {
		glog.V(5).Infof("Validate(): parse error: %v", err)
		return "", ErrInvalidToken
	}

	if claims.Subject == "" {
		return "", ErrInvalidToken
	}

	if c.rdb != nil && claims.ID != "" {
		n, err := c.rdb.Exists(ctx, revokedKeyPrefix+claims.ID).Result()
		if err != nil {
			// Fail closed: cannot prove the token is still good.
			glog.Errorf("Validate(): revocation lookup error: %v", err)
			return "", ErrInvalidToken
		}
		if n > 0 {
			glog.V(5).Infof("Validate(): token %s is revoked", claims.ID)
			return "", ErrInvalidToken
		}
	}

	return claims.Subject, nil
}

// Revoke adds a token id to the denylist until the token would have expired
// anyway.
func (c *JWTClient) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	if c.rdb == nil || jti == "" {
		return nil
	}
	return c.rdb.Set(ctx, revokedKeyPrefix+jti, 1, ttl).Err()
}
