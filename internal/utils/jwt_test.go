package utils

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	SetJWTSecret("test-secret-key-for-testing")
}

func TestGenerateAndParseToken(t *testing.T) {
	token, err := GenerateToken(42, "alice", RoleReviewer, 24)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, uint(42), claims.UserID)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, RoleReviewer, claims.Role)
	assert.Equal(t, "scamarena", claims.Issuer)
}

func TestGenerateToken_UnknownRole(t *testing.T) {
	_, err := GenerateToken(1, "mallory", "root", 24)
	assert.ErrorIs(t, err, ErrUnknownRole)
}

func TestParseToken_InvalidToken(t *testing.T) {
	invalidTokens := []string{
		"",
		"invalid",
		"not.a.token",
		"eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9.invalid.signature",
	}

	for _, token := range invalidTokens {
		_, err := ParseToken(token)
		assert.Error(t, err, "ParseToken(%q)", token)
	}
}

func TestParseToken_WrongSecret(t *testing.T) {
	SetJWTSecret("original-secret")
	token, err := GenerateToken(1, "user", RoleAdmin, 24)
	require.NoError(t, err)

	SetJWTSecret("different-secret")
	_, err = ParseToken(token)
	SetJWTSecret("test-secret-key-for-testing")

	assert.ErrorIs(t, err, jwt.ErrTokenSignatureInvalid)
}

func TestParseToken_Expired(t *testing.T) {
	token, err := GenerateToken(1, "user", RoleViewer, -1)
	require.NoError(t, err)

	_, err = ParseToken(token)
	assert.True(t, errors.Is(err, jwt.ErrTokenExpired))
}

func TestGenerateToken_Expiration(t *testing.T) {
	token, err := GenerateToken(1, "user", RoleAdmin, 1)
	require.NoError(t, err)
	claims, err := ParseToken(token)
	require.NoError(t, err)

	expected := time.Now().Add(time.Hour)
	assert.WithinDuration(t, expected, claims.ExpiresAt.Time, time.Minute)
}

func TestValidRole(t *testing.T) {
	tests := []struct {
		role     string
		expected bool
	}{
		{RoleAdmin, true},
		{RoleReviewer, true},
		{RoleViewer, true},
		{"", false},
		{"Admin", false},
	}
	for _, tt := range tests {
		if got := ValidRole(tt.role); got != tt.expected {
			t.Errorf("ValidRole(%q) = %v, expected %v", tt.role, got, tt.expected)
		}
	}
}
