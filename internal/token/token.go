package token

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	audienceAccess = "member-registry/access"
	audienceReset  = "member-registry/reset"
)

var (
	// ErrInvalid is returned for malformed, expired or wrongly signed tokens.
	ErrInvalid = errors.New("token: invalid")
	// ErrNotConfigured is returned when the issuer has no signing secret.
	ErrNotConfigured = errors.New("token: signing secret not configured")
)

// AccessClaims authenticates API callers. Subject carries the user id.
type AccessClaims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// ResetClaims authorise a single password change. The token stops verifying
// once the stored password hash no longer matches PasswordFingerprint.
type ResetClaims struct {
	Email               string `json:"email"`
	PasswordFingerprint string `json:"pwd"`
	IssuedAtMillis      int64  `json:"time"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies HS256 tokens.
type Issuer struct {
	secret    []byte
	accessTTL time.Duration
	resetTTL  time.Duration
	now       func() time.Time
}

func NewIssuer(secret string, accessTTL, resetTTL time.Duration) *Issuer {
	if accessTTL <= 0 {
		accessTTL = 24 * time.Hour
	}
	if resetTTL <= 0 {
		resetTTL = time.Hour
	}
	return &Issuer{
		secret:    []byte(strings.TrimSpace(secret)),
		accessTTL: accessTTL,
		resetTTL:  resetTTL,
		now:       time.Now,
	}
}

// WithClock replaces the time source; used by tests.
func (i *Issuer) WithClock(now func() time.Time) *Issuer {
	i.now = now
	return i
}

func (i *Issuer) IssueAccess(userID, email, role string) (string, error) {
	now := i.now().UTC()
	claims := AccessClaims{
		Email: email,
		Role:  role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Audience:  jwt.ClaimStrings{audienceAccess},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.accessTTL)),
		},
	}
	return i.sign(claims)
}

func (i *Issuer) ParseAccess(raw string) (*AccessClaims, error) {
	var claims AccessClaims
	if err := i.parse(raw, &claims, audienceAccess); err != nil {
		return nil, err
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalid)
	}
	return &claims, nil
}

// IssueReset binds the token to the current password hash of the account.
func (i *Issuer) IssueReset(email, passwordHash string) (string, error) {
	now := i.now().UTC()
	claims := ResetClaims{
		Email:               email,
		PasswordFingerprint: Fingerprint(passwordHash),
		IssuedAtMillis:      now.UnixMilli(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   email,
			Audience:  jwt.ClaimStrings{audienceReset},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.resetTTL)),
		},
	}
	return i.sign(claims)
}

func (i *Issuer) ParseReset(raw string) (*ResetClaims, error) {
	var claims ResetClaims
	if err := i.parse(raw, &claims, audienceReset); err != nil {
		return nil, err
	}
	if claims.Email == "" || claims.PasswordFingerprint == "" {
		return nil, fmt.Errorf("%w: missing reset claims", ErrInvalid)
	}
	return &claims, nil
}

// Matches reports whether passwordHash is still the hash the token was issued against.
func (c *ResetClaims) Matches(passwordHash string) bool {
	return c.PasswordFingerprint == Fingerprint(passwordHash)
}

// Fingerprint hashes a password hash into a short URL-safe value.
func Fingerprint(passwordHash string) string {
	sum := sha256.Sum256([]byte(passwordHash))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func (i *Issuer) sign(claims jwt.Claims) (string, error) {
	if len(i.secret) == 0 {
		return "", ErrNotConfigured
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func (i *Issuer) parse(raw string, claims jwt.Claims, audience string) error {
	if len(i.secret) == 0 {
		return ErrNotConfigured
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fmt.Errorf("%w: empty token", ErrInvalid)
	}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}
