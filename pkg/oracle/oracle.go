// Package oracle defines the decryption-oracle contract the ledger depends
// on, and a single-process implementation of it for deployments where the
// ledger operator also holds the decryption key.
package oracle

import (
	"encoding/binary"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/group/edwards25519"
	"go.dedis.ch/kyber/v3/sign/schnorr"
	"go.dedis.ch/kyber/v3/util/key"
	"golang.org/x/crypto/blake2b"

	"github.com/cipherwatt/cipherwatt/pkg/hecrypt"
)

// Callback delivers the result of a decryption request. Implementations of
// Oracle must never invoke it synchronously from within RequestDecryption:
// the caller records the returned request id before any callback for it can
// be processed.
type Callback func(requestID string, plaintexts []uint64, proof []byte)

// Oracle is the external decryption collaborator. RequestDecryption is
// fire-and-forget: it returns a fresh request id immediately and delivers
// plaintexts plus a proof later through cb. CheckSignatures verifies that a
// proof covers exactly the given request id and plaintexts; it returns nil
// for a valid proof.
type Oracle interface {
	RequestDecryption(ciphertexts [][]byte, cb Callback) (requestID string, err error)
	CheckSignatures(requestID string, plaintexts []uint64, proof []byte) error
}

// ProofDigest derives the message a decryption proof signs: a hash over the
// request id and the plaintexts in delivery order.
func ProofDigest(requestID string, plaintexts []uint64) []byte {
	h, _ := blake2b.New256(nil)
	h.Write([]byte(requestID))
	var buf [8]byte
	for _, p := range plaintexts {
		binary.BigEndian.PutUint64(buf[:], p)
		h.Write(buf[:])
	}
	return h.Sum(nil)
}

// LocalOracle decrypts in-process with the scheme's secret key and signs
// proofs with a Schnorr key pair. Callbacks are delivered on their own
// goroutine, one per request.
type LocalOracle struct {
	he    *hecrypt.Context
	suite *edwards25519.SuiteEd25519
	priv  kyber.Scalar
	pub   kyber.Point
	log   *slog.Logger
}

// NewLocalOracle creates an oracle over the given crypto context. A nil
// logger falls back to slog.Default.
func NewLocalOracle(he *hecrypt.Context, log *slog.Logger) *LocalOracle {
	if log == nil {
		log = slog.Default()
	}
	suite := edwards25519.NewBlakeSHA256Ed25519()
	kp := key.NewKeyPair(suite)
	return &LocalOracle{
		he:    he,
		suite: suite,
		priv:  kp.Private,
		pub:   kp.Public,
		log:   log,
	}
}

// PublicKey returns the proof-verification key.
func (o *LocalOracle) PublicKey() kyber.Point {
	return o.pub
}

// RequestDecryption assigns a request id, then decrypts and delivers
// asynchronously. Ciphertext handles that fail to decrypt abort the whole
// request; no callback is delivered for it.
func (o *LocalOracle) RequestDecryption(ciphertexts [][]byte, cb Callback) (string, error) {
	if len(ciphertexts) == 0 {
		return "", fmt.Errorf("no ciphertexts to decrypt")
	}
	requestID := uuid.NewString()

	go func() {
		plaintexts := make([]uint64, 0, len(ciphertexts))
		for i, blob := range ciphertexts {
			v, err := o.he.DecryptBytes(blob)
			if err != nil {
				o.log.Error("oracle decryption failed",
					"requestId", requestID, "index", i, "error", err)
				return
			}
			plaintexts = append(plaintexts, v)
		}

		proof, err := schnorr.Sign(o.suite, o.priv, ProofDigest(requestID, plaintexts))
		if err != nil {
			o.log.Error("oracle proof signing failed",
				"requestId", requestID, "error", err)
			return
		}

		cb(requestID, plaintexts, proof)
	}()

	return requestID, nil
}

// CheckSignatures verifies a decryption proof against the request id and
// plaintexts it claims to cover.
func (o *LocalOracle) CheckSignatures(requestID string, plaintexts []uint64, proof []byte) error {
	if err := schnorr.Verify(o.suite, o.pub, ProofDigest(requestID, plaintexts), proof); err != nil {
		return fmt.Errorf("schnorr verification: %w", err)
	}
	return nil
}
