package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/PaulBabatuyi/amana-chat/internal/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashAndCheckPassword(t *testing.T) {
	pwd := "s3cr3t-password"
	hash, err := HashPassword(pwd)
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}

	if err := CheckPassword(hash, pwd); err != nil {
		t.Fatalf("CheckPassword failed when password should match: %v", err)
	}

	if err := CheckPassword(hash, "wrong"); err == nil {
		t.Fatal("CheckPassword succeeded when it should have failed")
	}
}

func TestHashPasswordAcceptsMultibyteInput(t *testing.T) {
	// 40 characters, 80 bytes
	pwd := strings.Repeat("é", 40)
	hash, err := HashPassword(pwd)
	require.NoError(t, err)
	assert.NoError(t, CheckPassword(hash, pwd))
	assert.Error(t, CheckPassword(hash, strings.Repeat("é", 35)))

	// only the first 72 bytes take part
	assert.NoError(t, CheckPassword(hash, strings.Repeat("é", 36)+"tail"))
}

func TestNewTokenManagerRequiresSecret(t *testing.T) {
	_, err := NewTokenManager("", time.Hour)
	assert.ErrorIs(t, err, apperr.ErrMisconfigured)

	_, err = NewTokenManagerFromKeys(map[string]string{"k1": "a"}, "k2", time.Hour)
	assert.ErrorIs(t, err, apperr.ErrMisconfigured)
}

func TestTokenManager_GenerateAndVerify(t *testing.T) {
	m, err := NewTokenManager("test-secret", 5*time.Minute)
	require.NoError(t, err)

	token, exp, err := m.GenerateToken("user-1")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(5*time.Minute), exp, 2*time.Second)

	claims, err := m.VerifyToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.NotNil(t, claims.IssuedAt)
}

func TestTokenManager_RejectsExpired(t *testing.T) {
	m, err := NewTokenManager("test-secret", SessionMaxAge)
	require.NoError(t, err)

	issued := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return issued }
	token, _, err := m.GenerateToken("user-1")
	require.NoError(t, err)

	m.now = func() time.Time { return issued.Add(SessionMaxAge - time.Minute) }
	_, err = m.VerifyToken(token)
	require.NoError(t, err)

	m.now = func() time.Time { return issued.Add(SessionMaxAge + time.Second) }
	_, err = m.VerifyToken(token)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestTokenManager_RejectsForeignSignature(t *testing.T) {
	m, err := NewTokenManager("test-secret", time.Hour)
	require.NoError(t, err)
	other, err := NewTokenManager("other-secret", time.Hour)
	require.NoError(t, err)

	token, _, err := other.GenerateToken("user-1")
	require.NoError(t, err)

	_, err = m.VerifyToken(token)
	assert.Error(t, err)
}

func TestTokenManager_RejectsOtherAlgorithms(t *testing.T) {
	m, err := NewTokenManager("test-secret", time.Hour)
	require.NoError(t, err)

	claims := jwt.RegisteredClaims{
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = m.VerifyToken(token)
	assert.Error(t, err)
}

func TestTokenManager_Rotation(t *testing.T) {
	// two keys loaded, k2 active
	keys := map[string]string{"k1": "secret-one", "k2": "secret-two"}
	m, err := NewTokenManagerFromKeys(keys, "k2", 5*time.Minute)
	require.NoError(t, err)

	tkn2, _, err := m.GenerateToken("rot-user")
	require.NoError(t, err)
	_, err = m.VerifyToken(tkn2)
	require.NoError(t, err)

	// a token issued while k1 was active must still verify
	mOld, err := NewTokenManagerFromKeys(keys, "k1", 5*time.Minute)
	require.NoError(t, err)
	tkn1, _, err := mOld.GenerateToken("rot-user")
	require.NoError(t, err)

	claims, err := m.VerifyToken(tkn1)
	require.NoError(t, err)
	assert.Equal(t, "rot-user", claims.Subject)

	// once k1 is retired its tokens stop verifying
	mNew, err := NewTokenManagerFromKeys(map[string]string{"k2": "secret-two"}, "k2", 5*time.Minute)
	require.NoError(t, err)
	_, err = mNew.VerifyToken(tkn1)
	assert.Error(t, err)
}
