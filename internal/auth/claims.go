package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenKind distinguishes the two token families. Each kind is signed with
// its own secret and TTL; a token presented to the wrong verifier fails the
// signature check and reports as invalid, never as the other kind.
type TokenKind string

const (
	TokenKindAccess  TokenKind = "access"
	TokenKindRefresh TokenKind = "refresh"
)

// defaultTokenTTL guards against a zero TTL reaching the signer.
const defaultTokenTTL = 15 * time.Minute

// TokenClaims are the registered claims carried by Gatehouse tokens.
// Identity is re-loaded from storage on every request, so the token carries
// only subject and validity — no role snapshot to go stale.
type TokenClaims struct {
	jwt.RegisteredClaims
}

// AccountID returns the subject claim.
func (c *TokenClaims) AccountID() string {
	return c.Subject
}

// TokenPair is the result of a successful authentication: a short-lived
// access token and a long-lived refresh token.
type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// IssueToken creates a signed HS256 JWT for an account. The caller supplies
// the kind-specific secret and TTL; nothing else distinguishes the kinds on
// the wire.
func IssueToken(accountID, secret string, ttl time.Duration) (string, error) {
	if accountID == "" {
		return "", fmt.Errorf("issuing token: empty account id")
	}
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}

	now := time.Now()
	claims := TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// VerifyToken validates a JWT against the given secret and returns its
// claims. Expiry is reported as ErrTokenExpired; every other failure —
// bad signature, malformed input, wrong algorithm, missing subject — is
// ErrTokenInvalid. A tampered token that is also expired reports invalid:
// nothing about an unauthenticated payload can be trusted, including exp.
func VerifyToken(tokenString, secret string) (*TokenClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &TokenClaims{}, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, fmt.Errorf("%w: %w", ErrTokenExpired, err)
		default:
			return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
		}
	}

	claims, ok := token.Claims.(*TokenClaims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}

	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}

	if claims.ExpiresAt == nil {
		return nil, fmt.Errorf("%w: missing expiry", ErrTokenInvalid)
	}

	return claims, nil
}
