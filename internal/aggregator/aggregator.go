// Package aggregator maintains one homomorphically-encrypted running load
// sum per system key. Sums are only ever fed with values that have already
// been revealed; the decryption coordinator is the sole caller that
// enforces this ordering.
package aggregator

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"sort"
	"sync"

	"github.com/tuneinsight/lattigo/v5/core/rlwe"
	"golang.org/x/crypto/blake2b"

	"github.com/cipherwatt/cipherwatt/internal/keyValStore"
	"github.com/cipherwatt/cipherwatt/pkg/hecrypt"
	"github.com/cipherwatt/cipherwatt/pkg/types"
)

const (
	sumPrefix      = "aggregate:sum:"
	revealedPrefix = "aggregate:revealed:"
)

// KeyHash derives the fixed-size identifier a system key is referenced by
// in pending-request targets.
func KeyHash(systemKey string) [32]byte {
	return blake2b.Sum256([]byte(systemKey))
}

// revealedSum is the persisted point-in-time plaintext snapshot of an
// accumulator, written after a successful sum reveal.
type revealedSum struct {
	Sum uint64
}

type Aggregator struct {
	he *hecrypt.Context
	kv *keyValStore.KeyValStore

	mu         sync.RWMutex
	sums       map[string]*rlwe.Ciphertext
	keysByHash map[[32]byte]string
	revealed   map[string]uint64
}

// New loads any persisted accumulators from the store.
func New(he *hecrypt.Context, kv *keyValStore.KeyValStore) (*Aggregator, error) {
	a := &Aggregator{
		he:         he,
		kv:         kv,
		sums:       make(map[string]*rlwe.Ciphertext),
		keysByHash: make(map[[32]byte]string),
		revealed:   make(map[string]uint64),
	}

	items, err := kv.GetItemsWithPrefix([]byte(sumPrefix))
	if err != nil {
		return nil, fmt.Errorf("loading accumulators: %w", err)
	}
	for _, kvPair := range items {
		systemKey := string(kvPair[0][len(sumPrefix):])
		blob, err := kv.ReadCompressed(kvPair[0])
		if err != nil {
			return nil, fmt.Errorf("loading accumulator %q: %w", systemKey, err)
		}
		ct, err := he.UnmarshalCiphertext(blob)
		if err != nil {
			return nil, fmt.Errorf("decoding accumulator %q: %w", systemKey, err)
		}
		a.sums[systemKey] = ct
		a.keysByHash[KeyHash(systemKey)] = systemKey
	}

	items, err = kv.GetItemsWithPrefix([]byte(revealedPrefix))
	if err != nil {
		return nil, fmt.Errorf("loading revealed sums: %w", err)
	}
	for _, kvPair := range items {
		systemKey := string(kvPair[0][len(revealedPrefix):])
		var rs revealedSum
		if err := gob.NewDecoder(bytes.NewReader(kvPair[1])).Decode(&rs); err != nil {
			return nil, fmt.Errorf("decoding revealed sum %q: %w", systemKey, err)
		}
		a.revealed[systemKey] = rs.Sum
	}

	return a, nil
}

func sumKey(systemKey string) []byte {
	return append([]byte(sumPrefix), systemKey...)
}

func revealedKey(systemKey string) []byte {
	return append([]byte(revealedPrefix), systemKey...)
}

// Accumulate homomorphically adds the encryption of revealedLoad to the
// running sum for systemKey. An unseen key is lazily initialized to the
// encryption of zero and registered for reverse lookup.
func (a *Aggregator) Accumulate(systemKey string, revealedLoad uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	sum, ok := a.sums[systemKey]
	if !ok {
		zero, err := a.he.EncryptUint64Ct(0)
		if err != nil {
			return fmt.Errorf("initializing accumulator %q: %w", systemKey, err)
		}
		sum = zero
		a.keysByHash[KeyHash(systemKey)] = systemKey
	}

	encLoad, err := a.he.EncryptUint64Ct(revealedLoad)
	if err != nil {
		return fmt.Errorf("encrypting load for %q: %w", systemKey, err)
	}
	newSum, err := a.he.Add(sum, encLoad)
	if err != nil {
		return fmt.Errorf("accumulating into %q: %w", systemKey, err)
	}

	blob, err := a.he.MarshalCiphertext(newSum)
	if err != nil {
		return fmt.Errorf("encoding accumulator %q: %w", systemKey, err)
	}
	if err := a.kv.WriteCompressed(sumKey(systemKey), blob); err != nil {
		return fmt.Errorf("persisting accumulator %q: %w", systemKey, err)
	}

	a.sums[systemKey] = newSum
	return nil
}

// Sum returns the current encrypted running sum. This is a read, not a
// reveal.
func (a *Aggregator) Sum(systemKey string) (*rlwe.Ciphertext, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	sum, ok := a.sums[systemKey]
	if !ok {
		return nil, fmt.Errorf("accumulator %q: %w", systemKey, types.ErrUnknownSystem)
	}
	return sum, nil
}

// SumBytes returns the serialized encrypted running sum.
func (a *Aggregator) SumBytes(systemKey string) ([]byte, error) {
	sum, err := a.Sum(systemKey)
	if err != nil {
		return nil, err
	}
	return a.he.MarshalCiphertext(sum)
}

// SystemKeys enumerates the known accumulator keys in stable order.
func (a *Aggregator) SystemKeys() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	keys := make([]string, 0, len(a.sums))
	for k := range a.sums {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// KeyByHash resolves a key hash back to its system key string in constant
// time.
func (a *Aggregator) KeyByHash(h [32]byte) (string, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	key, ok := a.keysByHash[h]
	return key, ok
}

// SetRevealedSum stores the plaintext snapshot of an accumulator after a
// successful sum reveal. Later reveals overwrite it; the aggregate is a
// point-in-time snapshot, not a single-reveal artifact.
func (a *Aggregator) SetRevealedSum(systemKey string, sum uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.sums[systemKey]; !ok {
		return fmt.Errorf("accumulator %q: %w", systemKey, types.ErrUnknownSystem)
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(revealedSum{Sum: sum}); err != nil {
		return fmt.Errorf("encoding revealed sum %q: %w", systemKey, err)
	}
	if err := a.kv.Write(revealedKey(systemKey), buf.Bytes()); err != nil {
		return fmt.Errorf("persisting revealed sum %q: %w", systemKey, err)
	}

	a.revealed[systemKey] = sum
	return nil
}

// RevealedSum returns the last revealed plaintext sum for systemKey, if any
// sum reveal has completed for it.
func (a *Aggregator) RevealedSum(systemKey string) (uint64, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	sum, ok := a.revealed[systemKey]
	return sum, ok
}
