// Package cipherStore owns the encrypted submissions of the ledger. It
// assigns the sequential submission ids and persists the immutable
// ciphertext triples.
package cipherStore

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"sync"
	"time"

	"github.com/cipherwatt/cipherwatt/internal/keyValStore"
	"github.com/cipherwatt/cipherwatt/pkg/types"
)

const submissionPrefix = "submission:"

var counterKey = []byte("counter:submissions")

type Store struct {
	kv *keyValStore.KeyValStore

	// mu keeps id assignment and the submission write in one step, so
	// the persisted order matches the id order.
	mu sync.Mutex
}

func New(kv *keyValStore.KeyValStore) *Store {
	return &Store{kv: kv}
}

func submissionKey(id uint64) []byte {
	key := make([]byte, len(submissionPrefix)+8)
	copy(key, submissionPrefix)
	binary.BigEndian.PutUint64(key[len(submissionPrefix):], id)
	return key
}

// Submit stores the three ciphertext handles under the next sequential id,
// starting at 1. The handles are stored as given; well-formedness is the
// encryption scheme's concern, not this layer's.
func (s *Store) Submit(usageCt, timestampCt, loadCt []byte) (types.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.kv.IncrementCounter(counterKey)
	if err != nil {
		return types.Submission{}, fmt.Errorf("assigning submission id: %w", err)
	}

	sub := types.Submission{
		ID:          id,
		UsageCt:     usageCt,
		TimestampCt: timestampCt,
		LoadCt:      loadCt,
		AcceptedAt:  time.Now(),
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(sub); err != nil {
		return types.Submission{}, fmt.Errorf("encoding submission %d: %w", id, err)
	}
	if err := s.kv.WriteCompressed(submissionKey(id), buf.Bytes()); err != nil {
		return types.Submission{}, fmt.Errorf("persisting submission %d: %w", id, err)
	}

	return sub, nil
}

// Get returns the submission for id. Ids outside [1, Count()] fail with
// types.ErrNotFound.
func (s *Store) Get(id uint64) (types.Submission, error) {
	if id == 0 {
		return types.Submission{}, fmt.Errorf("submission %d: %w", id, types.ErrNotFound)
	}

	raw, err := s.kv.ReadCompressed(submissionKey(id))
	if keyValStore.IsNotFound(err) {
		return types.Submission{}, fmt.Errorf("submission %d: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return types.Submission{}, fmt.Errorf("reading submission %d: %w", id, err)
	}

	var sub types.Submission
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&sub); err != nil {
		return types.Submission{}, fmt.Errorf("decoding submission %d: %w", id, err)
	}
	return sub, nil
}

// Count returns the highest assigned submission id, zero when nothing has
// been submitted.
func (s *Store) Count() (uint64, error) {
	return s.kv.ReadCounter(counterKey)
}
