package helpers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestHashPassword_DefaultCost(t *testing.T) {
	hash, err := HashPassword("password123")
	require.NoError(t, err)
	assert.NotEqual(t, "password123", hash)

	cost, err := bcrypt.Cost([]byte(hash))
	require.NoError(t, err)
	assert.Equal(t, DefaultPasswordCost, cost)
	assert.True(t, CompareHashAndPassword(hash, "password123"))
	assert.False(t, CompareHashAndPassword(hash, "password124"))
}

func TestHashPasswordWithCost(t *testing.T) {
	hash, err := HashPasswordWithCost("password123", bcrypt.MinCost)
	require.NoError(t, err)
	cost, err := bcrypt.Cost([]byte(hash))
	require.NoError(t, err)
	assert.Equal(t, bcrypt.MinCost, cost)

	hash, err = HashPasswordWithCost("password123", 99)
	require.NoError(t, err)
	cost, err = bcrypt.Cost([]byte(hash))
	require.NoError(t, err)
	assert.Equal(t, DefaultPasswordCost, cost, "out of range cost falls back to default")
}

func TestHashPassword_Salted(t *testing.T) {
	a, err := HashPasswordWithCost("same-password", bcrypt.MinCost)
	require.NoError(t, err)
	b, err := HashPasswordWithCost("same-password", bcrypt.MinCost)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}
