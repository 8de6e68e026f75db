// Package types holds the record types, events and error taxonomy shared
// between the ledger core and its consumers.
package types

import (
	"time"
)

// Submission is one encrypted energy reading as accepted by the ledger.
// The three ciphertext handles are opaque serialized ciphertexts; they are
// immutable once the submission has been created.
type Submission struct {
	ID          uint64
	UsageCt     []byte
	TimestampCt []byte
	LoadCt      []byte
	AcceptedAt  time.Time
}

// RevealRecord carries the plaintext result of a submission's decryption.
// Until the submission has been revealed, Usage and Load are zero and
// Revealed is false. Revealed flips false to true exactly once.
type RevealRecord struct {
	ID       uint64
	Usage    uint64
	Load     uint64
	Revealed bool
}

// EventKind discriminates the events emitted by the ledger core.
type EventKind string

const (
	EventSubmissionAccepted     EventKind = "submission_accepted"
	EventDecryptionRequested    EventKind = "decryption_requested"
	EventDataRevealed           EventKind = "data_revealed"
	EventSumDecryptionRequested EventKind = "sum_decryption_requested"
	EventSumRevealed            EventKind = "sum_revealed"
)

// Event is a single audit event. SubmissionID is set for the per-submission
// kinds, SystemKey for the aggregate kinds.
type Event struct {
	Kind         EventKind `json:"kind"`
	SubmissionID uint64    `json:"submissionId,omitempty"`
	SystemKey    string    `json:"systemKey,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}
