package domain

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "wxpass/pkg/domain-errors"
)

func TestParseCredentialID(t *testing.T) {
	t.Run("valid uuid parses", func(t *testing.T) {
		want := uuid.New()
		got, err := ParseCredentialID(want.String())
		require.NoError(t, err)
		assert.Equal(t, CredentialID(want), got)
	})

	t.Run("empty string rejected", func(t *testing.T) {
		_, err := ParseCredentialID("")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("garbage rejected", func(t *testing.T) {
		_, err := ParseCredentialID("not-a-uuid")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}

func TestParseAddress(t *testing.T) {
	valid := strings.Repeat("A", AddressLength)

	t.Run("well-formed address parses", func(t *testing.T) {
		got, err := ParseAddress(valid)
		require.NoError(t, err)
		assert.Equal(t, Address(valid), got)
	})

	t.Run("wrong length rejected", func(t *testing.T) {
		_, err := ParseAddress(valid[:AddressLength-1])
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("lowercase rejected", func(t *testing.T) {
		_, err := ParseAddress(strings.ToLower(valid))
		require.Error(t, err)
	})

	t.Run("characters outside alphabet rejected", func(t *testing.T) {
		// 0, 1, 8, 9 are not part of the base32 alphabet
		_, err := ParseAddress("0" + valid[1:])
		require.Error(t, err)
	})
}

func TestAddressShort(t *testing.T) {
	addr := Address(strings.Repeat("B", AddressLength))
	assert.Equal(t, "BBBBBBBB...", addr.Short())
	assert.Equal(t, "AB", Address("AB").Short())
}

func TestIsNil(t *testing.T) {
	assert.True(t, CredentialID(uuid.Nil).IsNil())
	assert.False(t, NewCredentialID().IsNil())
	assert.True(t, Address("").IsNil())
	assert.False(t, TxID(uuid.New()).IsNil())
}
