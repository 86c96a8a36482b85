package jwt

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testAccessSecret = "test-access-secret-key-for-testing-purposes"
	testIssuer       = "smarttransit-auth"
)

func TestNewService(t *testing.T) {
	service := NewService(testAccessSecret, testIssuer, time.Hour)

	assert.NotNil(t, service)
	assert.Equal(t, testAccessSecret, service.accessSecret)
	assert.Equal(t, testIssuer, service.issuer)
	assert.Equal(t, time.Hour, service.accessTokenExpiry)
}

func TestGenerateAccessToken(t *testing.T) {
	service := NewService(testAccessSecret, testIssuer, time.Hour)
	userID := uuid.New()
	agentID := uuid.New()
	roles := []string{"tourist", "agent"}

	token, err := service.GenerateAccessToken(userID, roles, &agentID)
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	claims, err := service.ValidateAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, roles, claims.Roles)
	require.NotNil(t, claims.AgentID)
	assert.Equal(t, agentID, *claims.AgentID)
	assert.Equal(t, AccessToken, claims.TokenType)
}

func TestGenerateAccessToken_WithoutAgent(t *testing.T) {
	service := NewService(testAccessSecret, testIssuer, time.Hour)

	token, err := service.GenerateAccessToken(uuid.New(), []string{"tourist"}, nil)
	require.NoError(t, err)

	claims, err := service.ValidateAccessToken(token)
	require.NoError(t, err)
	assert.Nil(t, claims.AgentID)
}

func TestValidateAccessToken(t *testing.T) {
	service := NewService(testAccessSecret, testIssuer, time.Hour)
	userID := uuid.New()

	token, err := service.GenerateAccessToken(userID, []string{"tourist"}, nil)
	require.NoError(t, err)

	t.Run("valid token", func(t *testing.T) {
		claims, err := service.ValidateAccessToken(token)
		require.NoError(t, err)
		assert.Equal(t, userID, claims.UserID)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := service.ValidateAccessToken("invalid.token.here")
		assert.Error(t, err)
	})

	t.Run("wrong secret", func(t *testing.T) {
		wrongService := NewService("wrong-secret", testIssuer, time.Hour)
		_, err := wrongService.ValidateAccessToken(token)
		assert.Error(t, err)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		otherIssuer := NewService(testAccessSecret, "someone-else", time.Hour)
		_, err := otherIssuer.ValidateAccessToken(token)
		assert.Error(t, err)
	})
}

func TestValidateAccessToken_RejectsOtherTokenTypes(t *testing.T) {
	claims := Claims{
		UserID:    uuid.New(),
		TokenType: "refresh",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			Issuer:    testIssuer,
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testAccessSecret))
	require.NoError(t, err)

	service := NewService(testAccessSecret, testIssuer, time.Hour)
	_, err = service.ValidateAccessToken(token)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid token type")
}

func TestValidateAccessToken_RejectsOtherSigningMethods(t *testing.T) {
	claims := Claims{
		UserID:    uuid.New(),
		TokenType: AccessToken,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			Issuer:    testIssuer,
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte(testAccessSecret))
	require.NoError(t, err)

	service := NewService(testAccessSecret, testIssuer, time.Hour)
	_, err = service.ValidateAccessToken(token)
	assert.Error(t, err)
}

func TestExpiredToken(t *testing.T) {
	service := NewService(testAccessSecret, testIssuer, -time.Minute)

	token, err := service.GenerateAccessToken(uuid.New(), []string{"tourist"}, nil)
	require.NoError(t, err)

	_, err = service.ValidateAccessToken(token)
	assert.Error(t, err)
	assert.True(t, service.IsTokenExpired(token))
}

func TestExtractClaims(t *testing.T) {
	service := NewService(testAccessSecret, testIssuer, time.Hour)
	userID := uuid.New()
	roles := []string{"operator"}

	token, err := service.GenerateAccessToken(userID, roles, nil)
	require.NoError(t, err)

	claims, err := service.ExtractClaims(token)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, roles, claims.Roles)
	assert.Equal(t, testIssuer, claims.Issuer)
	assert.Equal(t, userID.String(), claims.Subject)
}

func TestIsTokenExpired(t *testing.T) {
	service := NewService(testAccessSecret, testIssuer, time.Hour)

	token, err := service.GenerateAccessToken(uuid.New(), []string{"tourist"}, nil)
	require.NoError(t, err)

	assert.False(t, service.IsTokenExpired(token))
	assert.True(t, service.IsTokenExpired("invalid.token.here"))
}

func TestConcurrentTokenGeneration(t *testing.T) {
	service := NewService(testAccessSecret, testIssuer, time.Hour)

	done := make(chan bool)
	errors := make(chan error, 100)

	for i := 0; i < 100; i++ {
		go func() {
			token, err := service.GenerateAccessToken(uuid.New(), []string{"tourist"}, nil)
			if err != nil {
				errors <- err
				done <- true
				return
			}

			_, err = service.ValidateAccessToken(token)
			if err != nil {
				errors <- err
			}
			done <- true
		}()
	}

	for i := 0; i < 100; i++ {
		<-done
	}

	close(errors)
	assert.Empty(t, errors)
}
