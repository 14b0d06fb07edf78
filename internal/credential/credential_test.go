package credential

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestHashAndCompare(t *testing.T) {
	Cost = bcrypt.MinCost
	hash, err := Hash("Secret123")
	require.NoError(t, err)
	assert.NotEqual(t, "Secret123", hash)

	assert.NoError(t, Compare(hash, "Secret123"))
	assert.ErrorIs(t, Compare(hash, "secret123"), ErrMismatch)
	assert.ErrorIs(t, Compare("", "Secret123"), ErrMismatch)
}

func TestValidateEmail(t *testing.T) {
	assert.NoError(t, ValidateEmail(NormalizeEmail("  Jane.Doe@Example.org ")))
	assert.Equal(t, "jane.doe@example.org", NormalizeEmail("  Jane.Doe@Example.org "))

	for _, bad := range []string{"", "no-at-sign", "a@b", "a@b.c", "spaces in@example.org"} {
		assert.Error(t, ValidateEmail(bad), bad)
	}
}

func TestValidatePassword(t *testing.T) {
	assert.NoError(t, ValidatePassword("Abcdefg1"))

	err := ValidatePassword("short")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least 8 characters")
	assert.Contains(t, err.Error(), "an upper-case letter")
	assert.Contains(t, err.Error(), "a digit")

	assert.Error(t, ValidatePassword("alllowercase1"))
	assert.Error(t, ValidatePassword("ALLUPPERCASE1"))
	assert.Error(t, ValidatePassword(""))
}
