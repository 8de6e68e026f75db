package aggregator

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/cipherwatt/cipherwatt/internal/keyValStore"
	"github.com/cipherwatt/cipherwatt/pkg/hecrypt"
)

// Accumulation must commute: any order of the same loads decrypts to the
// same sum.
func TestAccumulationCommutes(t *testing.T) {
	he, err := hecrypt.NewContext()
	require.NoError(t, err)
	kv, err := keyValStore.NewKeyValStore(keyValStore.StoreConfig{
		Paths:            []string{t.TempDir()},
		MinimumFreeSpace: 1,
	})
	require.NoError(t, err)
	defer kv.Close()

	var runs int
	rapid.Check(t, func(rt *rapid.T) {
		loads := rapid.SliceOfN(rapid.Uint64Range(0, 1000), 1, 3).Draw(rt, "loads")

		a, err := New(he, kv)
		if err != nil {
			rt.Fatalf("New: %v", err)
		}

		// Distinct keys per run keep the shared store out of the way.
		runs++
		forward := fmt.Sprintf("fwd_%d", runs)
		reverse := fmt.Sprintf("rev_%d", runs)

		var total uint64
		for _, l := range loads {
			total += l
			if err := a.Accumulate(forward, l); err != nil {
				rt.Fatalf("Accumulate forward: %v", err)
			}
		}
		for i := len(loads) - 1; i >= 0; i-- {
			if err := a.Accumulate(reverse, loads[i]); err != nil {
				rt.Fatalf("Accumulate reverse: %v", err)
			}
		}

		for _, key := range []string{forward, reverse} {
			sum, err := a.Sum(key)
			if err != nil {
				rt.Fatalf("Sum %q: %v", key, err)
			}
			v, err := he.DecryptUint64(sum)
			if err != nil {
				rt.Fatalf("DecryptUint64: %v", err)
			}
			if v != total {
				rt.Fatalf("sum of %q = %d, want %d", key, v, total)
			}
		}
	})
}
