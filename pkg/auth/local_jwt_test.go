package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractToken(t *testing.T) {
	tests := []struct {
		header  string
		want    string
		wantErr bool
	}{
		{"Bearer abc.def.ghi", "abc.def.ghi", false},
		{"bearer   abc", "abc", false},
		{"", "", true},
		{"Token abc", "", true},
		{"Bearer ", "", true},
	}

	for _, tt := range tests {
		got, err := ExtractToken(tt.header)
		if tt.wantErr {
			assert.Error(t, err, tt.header)
			continue
		}
		require.NoError(t, err, tt.header)
		assert.Equal(t, tt.want, got)
	}
}

func TestLocalJWTAuth_RoundTrip(t *testing.T) {
	a, err := NewLocalJWTAuth("secret", time.Hour)
	require.NoError(t, err)

	token, err := a.IssueToken("alice", "Alice")
	require.NoError(t, err)

	claims, err := a.VerifyToken(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)
	assert.Equal(t, "Alice", claims.Name)
}

func TestLocalJWTAuth_Rejects(t *testing.T) {
	a, err := NewLocalJWTAuth("secret", time.Hour)
	require.NoError(t, err)

	t.Run("wrong key", func(t *testing.T) {
		other, _ := NewLocalJWTAuth("other", time.Hour)
		token, err := other.IssueToken("alice", "")
		require.NoError(t, err)
		_, err = a.VerifyToken(token)
		assert.Error(t, err)
	})

	t.Run("expired", func(t *testing.T) {
		token, err := a.IssueToken("alice", "")
		require.NoError(t, err)
		a.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
		defer func() { a.now = time.Now }()
		_, err = a.VerifyToken(token)
		assert.Error(t, err)
	})

	t.Run("none algorithm", func(t *testing.T) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
			Subject: "alice",
			Issuer:  tokenIssuer,
		}).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = a.VerifyToken(token)
		assert.Error(t, err)
	})

	t.Run("empty secret", func(t *testing.T) {
		_, err := NewLocalJWTAuth("", 0)
		assert.Error(t, err)
	})
}
