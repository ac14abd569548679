// Package feedtoken signs and verifies calendar feed subscription tokens.
package feedtoken

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalid is returned for tokens that fail verification.
var ErrInvalid = errors.New("invalid feed token")

// Claims binds a token to one series.
type Claims struct {
	SeriesID string `json:"sid"`
	jwt.RegisteredClaims
}

// Signer creates and validates feed tokens.
type Signer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSigner constructs a signer with the provided secret and TTL.
func NewSigner(secret string, ttl time.Duration) *Signer {
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &Signer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Generate returns a signed token for the series and its expiry.
func (s *Signer) Generate(seriesID string) (string, time.Time, error) {
	if seriesID == "" {
		return "", time.Time{}, fmt.Errorf("seriesID required")
	}
	if len(s.secret) == 0 {
		return "", time.Time{}, fmt.Errorf("signing secret missing")
	}
	issuedAt := s.now()
	expiresAt := issuedAt.Add(s.ttl)
	claims := Claims{
		SeriesID: seriesID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   seriesID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign feed token: %w", err)
	}
	return token, expiresAt, nil
}

// Verify checks the token signature and expiry and that it was issued for seriesID.
func (s *Signer) Verify(token, seriesID string) error {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil || !parsed.Valid {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if claims.SeriesID != seriesID {
		return fmt.Errorf("%w: issued for another series", ErrInvalid)
	}
	return nil
}
