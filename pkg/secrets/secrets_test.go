package secrets

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "wxpass/pkg/domain-errors"
)

func TestGenerate(t *testing.T) {
	a, err := Generate()
	require.NoError(t, err)
	b, err := Generate()
	require.NoError(t, err)
	assert.NotEqual(t, a, b, "generated secrets must be unique")
	assert.Len(t, a, 43) // 32 bytes, raw url base64
}

func TestHashAndVerify(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		hash, err := Hash("hunter2")
		require.NoError(t, err)
		assert.NoError(t, Verify("hunter2", hash))
	})

	t.Run("mismatch is unauthorized", func(t *testing.T) {
		hash, err := Hash("hunter2")
		require.NoError(t, err)
		err = Verify("wrong", hash)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	t.Run("empty secret rejected", func(t *testing.T) {
		_, err := Hash("")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}
