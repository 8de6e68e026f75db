package revealStore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cipherwatt/cipherwatt/internal/keyValStore"
	"github.com/cipherwatt/cipherwatt/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	kv, err := keyValStore.NewKeyValStore(keyValStore.StoreConfig{
		Paths:            []string{t.TempDir()},
		MinimumFreeSpace: 1,
	})
	require.NoError(t, err)
	t.Cleanup(kv.Close)
	return New(kv)
}

func TestUnknownIdIsNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Get(7)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestInitCreatesUnrevealedPlaceholder(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Init(1))

	rec, err := s.Get(1)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), rec.ID)
	assert.False(t, rec.Revealed)
	assert.Zero(t, rec.Usage)
	assert.Zero(t, rec.Load)
}

func TestMarkRevealedIsWriteOnce(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Init(1))

	require.NoError(t, s.MarkRevealed(1, 100, 42))

	rec, err := s.Get(1)
	require.NoError(t, err)
	assert.True(t, rec.Revealed)
	assert.Equal(t, uint64(100), rec.Usage)
	assert.Equal(t, uint64(42), rec.Load)

	// Second reveal is rejected and the record keeps its values.
	err = s.MarkRevealed(1, 999, 999)
	assert.ErrorIs(t, err, types.ErrAlreadyRevealed)

	rec, err = s.Get(1)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), rec.Usage)
	assert.Equal(t, uint64(42), rec.Load)
}

func TestInitDoesNotResetRevealedRecord(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Init(1))
	require.NoError(t, s.MarkRevealed(1, 10, 20))

	require.NoError(t, s.Init(1))

	rec, err := s.Get(1)
	require.NoError(t, err)
	assert.True(t, rec.Revealed)
	assert.Equal(t, uint64(20), rec.Load)
}
