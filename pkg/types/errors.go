package types

import "errors"

// Protocol errors. All of these are local, recoverable conditions reported
// to the caller synchronously; none is fatal to the process. The core never
// retries internally.
var (
	// ErrNotFound reports an unknown submission id.
	ErrNotFound = errors.New("cipherwatt: unknown submission id")

	// ErrUnknownSystem reports an aggregate key with no contributions.
	ErrUnknownSystem = errors.New("cipherwatt: unknown system key")

	// ErrUnknownRequest reports a callback for an unmapped request id.
	ErrUnknownRequest = errors.New("cipherwatt: unknown decryption request id")

	// ErrAlreadyRevealed reports a duplicate request or duplicate callback
	// for an already-settled submission.
	ErrAlreadyRevealed = errors.New("cipherwatt: already revealed")

	// ErrRequestPending reports a decryption request for a target that
	// already has one outstanding.
	ErrRequestPending = errors.New("cipherwatt: decryption request already pending")

	// ErrRequestCollision reports an oracle request id that is already
	// mapped to a different target. The existing mapping is kept.
	ErrRequestCollision = errors.New("cipherwatt: decryption request id collision")

	// ErrInvalidProof reports a callback whose decryption proof failed
	// verification. No state is changed when this is returned.
	ErrInvalidProof = errors.New("cipherwatt: invalid decryption proof")
)
