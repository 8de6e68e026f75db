// Package revealStore owns the plaintext results of decrypted submissions.
// Records are write-once: the revealed flag flips false to true exactly once
// and the plaintext fields are only written in that same step.
package revealStore

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"sync"

	"github.com/cipherwatt/cipherwatt/internal/keyValStore"
	"github.com/cipherwatt/cipherwatt/pkg/types"
)

const revealPrefix = "reveal:"

type Store struct {
	kv *keyValStore.KeyValStore
	mu sync.Mutex
}

func New(kv *keyValStore.KeyValStore) *Store {
	return &Store{kv: kv}
}

func revealKey(id uint64) []byte {
	key := make([]byte, len(revealPrefix)+8)
	copy(key, revealPrefix)
	binary.BigEndian.PutUint64(key[len(revealPrefix):], id)
	return key
}

func (s *Store) write(rec types.RevealRecord) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(rec); err != nil {
		return fmt.Errorf("encoding reveal record %d: %w", rec.ID, err)
	}
	return s.kv.Write(revealKey(rec.ID), buf.Bytes())
}

func (s *Store) read(id uint64) (types.RevealRecord, error) {
	raw, err := s.kv.Read(revealKey(id))
	if keyValStore.IsNotFound(err) {
		return types.RevealRecord{}, fmt.Errorf("reveal record %d: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return types.RevealRecord{}, fmt.Errorf("reading reveal record %d: %w", id, err)
	}
	var rec types.RevealRecord
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&rec); err != nil {
		return types.RevealRecord{}, fmt.Errorf("decoding reveal record %d: %w", id, err)
	}
	return rec, nil
}

// Init creates the un-revealed placeholder for a freshly accepted
// submission. An existing record is left untouched.
func (s *Store) Init(id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	exists, err := s.kv.Exists(revealKey(id))
	if err != nil {
		return fmt.Errorf("checking reveal record %d: %w", id, err)
	}
	if exists {
		return nil
	}
	return s.write(types.RevealRecord{ID: id})
}

// Get returns the reveal record for id, zero-valued with Revealed false if
// the submission has not been decrypted yet. Unknown ids fail with
// types.ErrNotFound.
func (s *Store) Get(id uint64) (types.RevealRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(id)
}

// MarkRevealed writes the plaintexts and flips the revealed flag. A record
// that is already revealed fails with types.ErrAlreadyRevealed and stays
// unchanged.
func (s *Store) MarkRevealed(id uint64, usage, load uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.read(id)
	if err != nil {
		return err
	}
	if rec.Revealed {
		return fmt.Errorf("reveal record %d: %w", id, types.ErrAlreadyRevealed)
	}

	rec.Usage = usage
	rec.Load = load
	rec.Revealed = true
	return s.write(rec)
}
