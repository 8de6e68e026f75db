// Package coordinator implements the decryption-request state machine. It
// owns the pending-request table and is the only writer to the reveal store
// and the aggregator.
//
// Per submission a target moves Sealed -> Requested -> Revealed; Revealed is
// terminal. Per system key an accumulator moves Uninitialized ->
// Accumulating -> RequestedSum -> SumRevealed, and may be re-requested after
// SumRevealed since an aggregate reveal is a point-in-time snapshot.
package coordinator

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/cipherwatt/cipherwatt/internal/aggregator"
	"github.com/cipherwatt/cipherwatt/internal/cipherStore"
	"github.com/cipherwatt/cipherwatt/internal/events"
	"github.com/cipherwatt/cipherwatt/internal/revealStore"
	"github.com/cipherwatt/cipherwatt/pkg/oracle"
	"github.com/cipherwatt/cipherwatt/pkg/types"
)

// targetKind keeps submission targets and aggregate targets in disjoint
// identifier spaces, so a forged callback for one can never resolve against
// the other.
type targetKind int

const (
	targetSubmission targetKind = iota + 1
	targetAggregate
)

type pendingTarget struct {
	kind       targetKind
	submission uint64
	keyHash    [32]byte
}

type Config struct {
	Oracle      oracle.Oracle
	Submissions *cipherStore.Store
	Reveals     *revealStore.Store
	Aggregates  *aggregator.Aggregator
	Bus         *events.Bus
	// SystemKey names the accumulator that revealed loads are fed into.
	SystemKey string
	Logger    *logrus.Logger
}

type Coordinator struct {
	oracle    oracle.Oracle
	subs      *cipherStore.Store
	reveals   *revealStore.Store
	agg       *aggregator.Aggregator
	bus       *events.Bus
	systemKey string
	log       *logrus.Logger

	// mu guards the request tables and serializes the verify-write-flip-
	// accumulate sequence, so a failed callback can never expose partial
	// state to another one.
	mu             sync.Mutex
	pending        map[string]pendingTarget
	outstanding    map[uint64]bool
	sumOutstanding map[string]bool
}

func New(cfg Config) *Coordinator {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &Coordinator{
		oracle:         cfg.Oracle,
		subs:           cfg.Submissions,
		reveals:        cfg.Reveals,
		agg:            cfg.Aggregates,
		bus:            cfg.Bus,
		systemKey:      cfg.SystemKey,
		log:            cfg.Logger,
		pending:        make(map[string]pendingTarget),
		outstanding:    make(map[uint64]bool),
		sumOutstanding: make(map[string]bool),
	}
}

// RequestReveal forwards the ciphertext triple of a sealed submission to the
// oracle. At most one request may be outstanding per submission: a request
// while one is pending fails with types.ErrRequestPending, a request for an
// already-revealed submission with types.ErrAlreadyRevealed.
//
// The pending mapping is recorded before RequestReveal returns, so a
// callback for the new request id can never race past the lookup as an
// unmapped request.
func (c *Coordinator) RequestReveal(id uint64) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, err := c.reveals.Get(id)
	if err != nil {
		return "", err
	}
	if rec.Revealed {
		return "", fmt.Errorf("submission %d: %w", id, types.ErrAlreadyRevealed)
	}
	if c.outstanding[id] {
		return "", fmt.Errorf("submission %d: %w", id, types.ErrRequestPending)
	}

	sub, err := c.subs.Get(id)
	if err != nil {
		return "", err
	}

	requestID, err := c.oracle.RequestDecryption(
		[][]byte{sub.UsageCt, sub.TimestampCt, sub.LoadCt},
		c.deliverReveal,
	)
	if err != nil {
		return "", fmt.Errorf("forwarding submission %d to oracle: %w", id, err)
	}

	if _, dup := c.pending[requestID]; dup {
		return "", fmt.Errorf("request %s: %w", requestID, types.ErrRequestCollision)
	}
	c.pending[requestID] = pendingTarget{kind: targetSubmission, submission: id}
	c.outstanding[id] = true

	c.log.WithFields(logrus.Fields{
		"submissionId": id,
		"requestId":    requestID,
	}).Info("decryption requested")
	c.bus.Publish(types.Event{Kind: types.EventDecryptionRequested, SubmissionID: id})

	return requestID, nil
}

// deliverReveal adapts the oracle callback to OnRevealCallback; rejections
// are logged, not propagated, since the oracle has no use for them.
func (c *Coordinator) deliverReveal(requestID string, plaintexts []uint64, proof []byte) {
	if err := c.OnRevealCallback(requestID, plaintexts, proof); err != nil {
		c.log.WithField("requestId", requestID).WithError(err).Warn("reveal callback rejected")
	}
}

// OnRevealCallback settles one decryption request. The order is fixed:
// verify the proof, write the plaintexts, flip the revealed flag, feed the
// aggregator. A failure before the write leaves every store untouched.
func (c *Coordinator) OnRevealCallback(requestID string, plaintexts []uint64, proof []byte) error {
	c.mu.Lock()

	target, ok := c.pending[requestID]
	if !ok || target.kind != targetSubmission {
		c.mu.Unlock()
		return fmt.Errorf("request %s: %w", requestID, types.ErrUnknownRequest)
	}
	id := target.submission

	rec, err := c.reveals.Get(id)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	if rec.Revealed {
		c.mu.Unlock()
		return fmt.Errorf("submission %d: %w", id, types.ErrAlreadyRevealed)
	}

	// The oracle decrypts the triple in submission order.
	if len(plaintexts) != 3 {
		c.mu.Unlock()
		return fmt.Errorf("request %s: got %d plaintexts, want 3: %w",
			requestID, len(plaintexts), types.ErrInvalidProof)
	}
	if err := c.oracle.CheckSignatures(requestID, plaintexts, proof); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("request %s: %v: %w", requestID, err, types.ErrInvalidProof)
	}

	usage, load := plaintexts[0], plaintexts[2]
	if err := c.reveals.MarkRevealed(id, usage, load); err != nil {
		c.mu.Unlock()
		return err
	}

	delete(c.pending, requestID)
	delete(c.outstanding, id)

	if err := c.agg.Accumulate(c.systemKey, load); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("aggregating revealed load of submission %d: %w", id, err)
	}
	c.mu.Unlock()

	c.log.WithFields(logrus.Fields{
		"submissionId": id,
		"requestId":    requestID,
	}).Info("data revealed")
	c.bus.Publish(types.Event{Kind: types.EventDataRevealed, SubmissionID: id})

	return nil
}

// RequestSumReveal forwards the current encrypted sum of systemKey to the
// oracle. The pending target is the key hash, not the key itself, which
// keeps it in a different identifier space than submission targets.
func (c *Coordinator) RequestSumReveal(systemKey string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	blob, err := c.agg.SumBytes(systemKey)
	if err != nil {
		return "", err
	}
	if c.sumOutstanding[systemKey] {
		return "", fmt.Errorf("system %q: %w", systemKey, types.ErrRequestPending)
	}

	requestID, err := c.oracle.RequestDecryption([][]byte{blob}, c.deliverSumReveal)
	if err != nil {
		return "", fmt.Errorf("forwarding sum of %q to oracle: %w", systemKey, err)
	}

	if _, dup := c.pending[requestID]; dup {
		return "", fmt.Errorf("request %s: %w", requestID, types.ErrRequestCollision)
	}
	c.pending[requestID] = pendingTarget{kind: targetAggregate, keyHash: aggregator.KeyHash(systemKey)}
	c.sumOutstanding[systemKey] = true

	c.log.WithFields(logrus.Fields{
		"systemKey": systemKey,
		"requestId": requestID,
	}).Info("sum decryption requested")
	c.bus.Publish(types.Event{Kind: types.EventSumDecryptionRequested, SystemKey: systemKey})

	return requestID, nil
}

func (c *Coordinator) deliverSumReveal(requestID string, plaintexts []uint64, proof []byte) {
	if len(plaintexts) != 1 {
		c.log.WithField("requestId", requestID).Warn("sum reveal callback with unexpected plaintext count")
		return
	}
	if err := c.OnSumRevealCallback(requestID, plaintexts[0], proof); err != nil {
		c.log.WithField("requestId", requestID).WithError(err).Warn("sum reveal callback rejected")
	}
}

// OnSumRevealCallback settles a sum decryption request with the same proof
// and idempotency discipline as OnRevealCallback.
func (c *Coordinator) OnSumRevealCallback(requestID string, plaintextSum uint64, proof []byte) error {
	c.mu.Lock()

	target, ok := c.pending[requestID]
	if !ok || target.kind != targetAggregate {
		c.mu.Unlock()
		return fmt.Errorf("request %s: %w", requestID, types.ErrUnknownRequest)
	}

	systemKey, ok := c.agg.KeyByHash(target.keyHash)
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("request %s: %w", requestID, types.ErrUnknownSystem)
	}

	if err := c.oracle.CheckSignatures(requestID, []uint64{plaintextSum}, proof); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("request %s: %v: %w", requestID, err, types.ErrInvalidProof)
	}

	if err := c.agg.SetRevealedSum(systemKey, plaintextSum); err != nil {
		c.mu.Unlock()
		return err
	}

	delete(c.pending, requestID)
	delete(c.sumOutstanding, systemKey)
	c.mu.Unlock()

	c.log.WithFields(logrus.Fields{
		"systemKey": systemKey,
		"requestId": requestID,
		"sum":       plaintextSum,
	}).Info("sum revealed")
	c.bus.Publish(types.Event{Kind: types.EventSumRevealed, SystemKey: systemKey})

	return nil
}
