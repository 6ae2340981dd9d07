package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateToken(t *testing.T) {
	token1, err := GenerateToken()
	require.NoError(t, err)
	assert.Len(t, token1, 64) // 32 字节 hex 编码

	token2, err := GenerateToken()
	require.NoError(t, err)
	assert.NotEqual(t, token1, token2)
}

func TestPasswordReset_IsValid(t *testing.T) {
	p := PasswordReset{ExpiresAt: time.Now().Add(30 * time.Minute)}
	assert.True(t, p.IsValid())
	assert.False(t, p.IsExpired())

	p.Used = true
	assert.False(t, p.IsValid())

	p.Used = false
	p.ExpiresAt = time.Now().Add(-time.Minute)
	assert.True(t, p.IsExpired())
	assert.False(t, p.IsValid())
}
