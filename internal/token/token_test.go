package token

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestAccessRoundTrip(t *testing.T) {
	issuer := NewIssuer("secret", time.Hour, time.Hour)

	raw, err := issuer.IssueAccess("u1", "a@x.com", "Admin")
	require.NoError(t, err)

	claims, err := issuer.ParseAccess(raw)
	require.NoError(t, err)
	require.Equal(t, "u1", claims.Subject)
	require.Equal(t, "a@x.com", claims.Email)
	require.Equal(t, "Admin", claims.Role)
}

func TestAccessExpired(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	issuer := NewIssuer("secret", time.Minute, time.Minute).WithClock(fixedClock(start))

	raw, err := issuer.IssueAccess("u1", "a@x.com", "User")
	require.NoError(t, err)

	issuer.WithClock(fixedClock(start.Add(2 * time.Minute)))
	_, err = issuer.ParseAccess(raw)
	require.ErrorIs(t, err, ErrInvalid)
}

func TestWrongSecretRejected(t *testing.T) {
	raw, err := NewIssuer("secret", time.Hour, time.Hour).IssueAccess("u1", "a@x.com", "User")
	require.NoError(t, err)

	_, err = NewIssuer("other", time.Hour, time.Hour).ParseAccess(raw)
	require.ErrorIs(t, err, ErrInvalid)
}

func TestAudiencesAreSeparate(t *testing.T) {
	issuer := NewIssuer("secret", time.Hour, time.Hour)

	reset, err := issuer.IssueReset("a@x.com", "hash")
	require.NoError(t, err)
	_, err = issuer.ParseAccess(reset)
	require.ErrorIs(t, err, ErrInvalid)

	access, err := issuer.IssueAccess("u1", "a@x.com", "User")
	require.NoError(t, err)
	_, err = issuer.ParseReset(access)
	require.ErrorIs(t, err, ErrInvalid)
}

func TestResetBoundToPasswordHash(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	issuer := NewIssuer("secret", time.Hour, time.Hour).WithClock(fixedClock(now))

	raw, err := issuer.IssueReset("a@x.com", "old-hash")
	require.NoError(t, err)

	claims, err := issuer.ParseReset(raw)
	require.NoError(t, err)
	require.Equal(t, "a@x.com", claims.Email)
	require.Equal(t, now.UnixMilli(), claims.IssuedAtMillis)
	require.True(t, claims.Matches("old-hash"))
	require.False(t, claims.Matches("new-hash"))
}

func TestNoneAlgorithmRejected(t *testing.T) {
	claims := AccessClaims{
		Email: "a@x.com",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u1",
			Audience:  jwt.ClaimStrings{audienceAccess},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = NewIssuer("secret", time.Hour, time.Hour).ParseAccess(raw)
	require.ErrorIs(t, err, ErrInvalid)
}

func TestMissingSecret(t *testing.T) {
	_, err := NewIssuer(" ", time.Hour, time.Hour).IssueAccess("u1", "a@x.com", "User")
	require.ErrorIs(t, err, ErrNotConfigured)
}
