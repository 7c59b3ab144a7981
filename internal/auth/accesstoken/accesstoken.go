// Package accesstoken issues and parses the bearer tokens handed out on login.
package accesstoken

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/willemschots/dreambig/internal/krypto"
)

const (
	issuer = "dreambig"

	// TokenType is the token_type reported to clients.
	TokenType = "bearer"
)

// ErrInvalid is returned for any access token that can't be used.
var ErrInvalid = errors.New("invalid access token")

// Claims are the claims embedded in an access token.
type Claims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Issuer signs and parses HS256 access tokens.
type Issuer struct {
	key    krypto.Key
	expiry time.Duration

	// NowFunc is used to get the current time.
	// Exposed for testing purposes.
	NowFunc func() time.Time
}

// NewIssuer creates a new Issuer. Tokens expire after expiry.
func NewIssuer(key krypto.Key, expiry time.Duration) *Issuer {
	return &Issuer{
		key:     key,
		expiry:  expiry,
		NowFunc: time.Now,
	}
}

// Issue creates a signed access token for the user.
func (i *Issuer) Issue(userID uuid.UUID, role string) (string, error) {
	now := i.NowFunc()

	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.expiry)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString(i.key.SecretValue())
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}

	return s, nil
}

// Parse validates the access token and returns the user id it was issued to.
func (i *Issuer) Parse(raw string) (uuid.UUID, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.NowFunc),
	)

	claims := &Claims{}
	_, err := parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return i.key.SecretValue(), nil
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	id, err := uuid.Parse(claims.Subject)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, ErrInvalid
	}

	return id, nil
}
