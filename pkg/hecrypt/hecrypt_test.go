package hecrypt

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundtrip(t *testing.T) {
	c, err := NewContext()
	require.NoError(t, err)

	ct, err := c.EncryptUint64Ct(42)
	require.NoError(t, err)

	v, err := c.DecryptUint64(ct)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), v)
}

func TestHomomorphicAdd(t *testing.T) {
	c, err := NewContext()
	require.NoError(t, err)

	a, err := c.EncryptUint64Ct(10)
	require.NoError(t, err)
	b, err := c.EncryptUint64Ct(20)
	require.NoError(t, err)

	sum, err := c.Add(a, b)
	require.NoError(t, err)

	v, err := c.DecryptUint64(sum)
	require.NoError(t, err)
	assert.Equal(t, uint64(30), v)
}

func TestSerializedHandleRoundtrip(t *testing.T) {
	c, err := NewContext()
	require.NoError(t, err)

	blob, err := c.EncryptUint64(7)
	require.NoError(t, err)

	v, err := c.DecryptBytes(blob)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), v)
}

func TestLoadOrGeneratePersistsKey(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "cipherwatt.key")

	c1, err := LoadOrGenerate(keyPath)
	require.NoError(t, err)

	blob, err := c1.EncryptUint64(99)
	require.NoError(t, err)

	// A second context loaded from the same key file must be able to
	// decrypt ciphertexts produced by the first.
	c2, err := LoadOrGenerate(keyPath)
	require.NoError(t, err)

	v, err := c2.DecryptBytes(blob)
	require.NoError(t, err)
	assert.Equal(t, uint64(99), v)
}
