package aggregator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cipherwatt/cipherwatt/internal/keyValStore"
	"github.com/cipherwatt/cipherwatt/pkg/hecrypt"
	"github.com/cipherwatt/cipherwatt/pkg/types"
)

func newTestAggregator(t *testing.T) (*Aggregator, *hecrypt.Context) {
	t.Helper()
	he, err := hecrypt.NewContext()
	require.NoError(t, err)
	kv, err := keyValStore.NewKeyValStore(keyValStore.StoreConfig{
		Paths:            []string{t.TempDir()},
		MinimumFreeSpace: 1,
	})
	require.NoError(t, err)
	t.Cleanup(kv.Close)

	a, err := New(he, kv)
	require.NoError(t, err)
	return a, he
}

func TestSumUnknownSystem(t *testing.T) {
	a, _ := newTestAggregator(t)

	_, err := a.Sum("never_seen")
	assert.ErrorIs(t, err, types.ErrUnknownSystem)

	_, err = a.SumBytes("never_seen")
	assert.ErrorIs(t, err, types.ErrUnknownSystem)
}

func TestAccumulateDecryptsToPlaintextSum(t *testing.T) {
	a, he := newTestAggregator(t)

	for _, load := range []uint64{5, 7, 9} {
		require.NoError(t, a.Accumulate("central_system", load))
	}

	sum, err := a.Sum("central_system")
	require.NoError(t, err)

	v, err := he.DecryptUint64(sum)
	require.NoError(t, err)
	assert.Equal(t, uint64(21), v)
}

func TestLazyInitRegistersKey(t *testing.T) {
	a, _ := newTestAggregator(t)

	assert.Empty(t, a.SystemKeys())

	require.NoError(t, a.Accumulate("hvac_east", 3))
	require.NoError(t, a.Accumulate("hvac_west", 4))
	require.NoError(t, a.Accumulate("hvac_east", 2))

	assert.Equal(t, []string{"hvac_east", "hvac_west"}, a.SystemKeys())

	key, ok := a.KeyByHash(KeyHash("hvac_east"))
	require.True(t, ok)
	assert.Equal(t, "hvac_east", key)

	_, ok = a.KeyByHash(KeyHash("hvac_north"))
	assert.False(t, ok)
}

func TestRevealedSumSnapshot(t *testing.T) {
	a, _ := newTestAggregator(t)

	err := a.SetRevealedSum("central_system", 21)
	assert.ErrorIs(t, err, types.ErrUnknownSystem)

	require.NoError(t, a.Accumulate("central_system", 21))
	require.NoError(t, a.SetRevealedSum("central_system", 21))

	sum, ok := a.RevealedSum("central_system")
	require.True(t, ok)
	assert.Equal(t, uint64(21), sum)

	// Snapshots may be re-derived at later times.
	require.NoError(t, a.Accumulate("central_system", 9))
	require.NoError(t, a.SetRevealedSum("central_system", 30))
	sum, _ = a.RevealedSum("central_system")
	assert.Equal(t, uint64(30), sum)
}

func TestAccumulatorSurvivesReload(t *testing.T) {
	he, err := hecrypt.NewContext()
	require.NoError(t, err)
	dir := t.TempDir()

	kv, err := keyValStore.NewKeyValStore(keyValStore.StoreConfig{
		Paths:            []string{dir},
		MinimumFreeSpace: 1,
	})
	require.NoError(t, err)

	a, err := New(he, kv)
	require.NoError(t, err)
	require.NoError(t, a.Accumulate("central_system", 12))
	require.NoError(t, a.SetRevealedSum("central_system", 12))
	kv.Close()

	kv, err = keyValStore.NewKeyValStore(keyValStore.StoreConfig{
		Paths:            []string{dir},
		MinimumFreeSpace: 1,
	})
	require.NoError(t, err)
	defer kv.Close()

	a, err = New(he, kv)
	require.NoError(t, err)

	require.NoError(t, a.Accumulate("central_system", 8))
	sum, err := a.Sum("central_system")
	require.NoError(t, err)
	v, err := he.DecryptUint64(sum)
	require.NoError(t, err)
	assert.Equal(t, uint64(20), v)

	rs, ok := a.RevealedSum("central_system")
	require.True(t, ok)
	assert.Equal(t, uint64(12), rs)
}
