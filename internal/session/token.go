package session

import (
	"crypto/rand"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/eda3/ecs-wasm-game3/internal/world"
)

const tokenIssuer = "ecs-wasm-game3"

// DefaultTokenTTL bounds how long a dropped client may resume its session.
const DefaultTokenTTL = 15 * time.Minute

// ErrInvalidToken covers expired, malformed, and wrongly signed resume
// tokens; callers fall back to a fresh connect.
var ErrInvalidToken = errors.New("session: invalid resume token")

// TokenIssuer signs and verifies resume tokens so a reconnecting client can
// reclaim its player identity and owned entity without a fresh spawn.
type TokenIssuer struct {
	key []byte
	ttl time.Duration
}

// NewTokenIssuer constructs an issuer with the given signing key. An empty
// key is replaced with a random one, which invalidates tokens across
// restarts but keeps single-process runs working without configuration.
func NewTokenIssuer(key []byte, ttl time.Duration) *TokenIssuer {
	if len(key) < 32 {
		key = make([]byte, 32)
		_, _ = rand.Read(key)
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenIssuer{key: key, ttl: ttl}
}

type resumeClaims struct {
	EntityID string `json:"eid"`
	jwt.RegisteredClaims
}

// Issue mints a resume token binding the player to its owned entity.
func (t *TokenIssuer) Issue(playerID string, entityID world.EntityID, now time.Time) (string, error) {
	if t == nil {
		return "", ErrInvalidToken
	}
	claims := resumeClaims{
		EntityID: string(entityID),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   playerID,
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.key)
}

// Verify validates a resume token and returns the bound player and entity.
func (t *TokenIssuer) Verify(token string) (string, world.EntityID, error) {
	if t == nil || token == "" {
		return "", "", ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &resumeClaims{}, func(*jwt.Token) (any, error) {
		return t.key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(tokenIssuer))
	if err != nil || !parsed.Valid {
		return "", "", ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*resumeClaims)
	if !ok || claims.Subject == "" {
		return "", "", ErrInvalidToken
	}
	return claims.Subject, world.EntityID(claims.EntityID), nil
}
