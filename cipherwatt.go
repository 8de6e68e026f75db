// Package cipherwatt is a ledger for homomorphically-encrypted energy
// readings. Tenants submit encrypted readings, the ledger aggregates them
// without decryption, and individual or aggregate values are revealed only
// through an explicit, auditable decryption-request protocol against an
// external oracle.
package cipherwatt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/cipherwatt/cipherwatt/internal/aggregator"
	"github.com/cipherwatt/cipherwatt/internal/cipherStore"
	"github.com/cipherwatt/cipherwatt/internal/coordinator"
	"github.com/cipherwatt/cipherwatt/internal/events"
	"github.com/cipherwatt/cipherwatt/internal/keyValStore"
	"github.com/cipherwatt/cipherwatt/internal/revealStore"
	"github.com/cipherwatt/cipherwatt/pkg/hecrypt"
	"github.com/cipherwatt/cipherwatt/pkg/oracle"
	"github.com/cipherwatt/cipherwatt/pkg/types"
)

// DefaultSystemKey is the accumulator fed by individual reveals when the
// config does not name one.
const DefaultSystemKey = "central_system"

var (
	ErrNotStarted = errors.New("cipherwatt: ledger not started")
	ErrClosed     = errors.New("cipherwatt: ledger closed")
)

// Config configures the ledger instance. Only Paths[0] is used at the
// moment; future versions may use multiple paths for sharding or tiering.
type Config struct {
	// Paths contains data directories. Currently only Paths[0] is used.
	Paths []string
	// MinimumFreeGB is a free-space threshold for on-disk operations.
	MinimumFreeGB uint
	// Logger is an optional structured logger. If nil, a stderr logger is used.
	Logger *slog.Logger
	// SystemKey names the accumulator that individual reveals feed.
	// Empty means DefaultSystemKey.
	SystemKey string
	// Oracle overrides the decryption oracle. If nil, an in-process
	// oracle holding the scheme's secret key is used.
	Oracle oracle.Oracle
}

// Ledger is the main handle. It owns the crypto context, the stores, the
// decryption coordinator and the lifecycle of the event bus.
type Ledger struct {
	log    *slog.Logger
	config Config

	he      *hecrypt.Context
	kv      *keyValStore.KeyValStore
	subs    *cipherStore.Store
	reveals *revealStore.Store
	agg     *aggregator.Aggregator
	coord   *coordinator.Coordinator
	bus     *events.Bus
	oracle  oracle.Oracle

	started   atomic.Bool
	closed    atomic.Bool
	startOnce sync.Once
	closeOnce sync.Once
}

// defaultLogger returns a logger that writes text logs to stderr at Info
// level. Applications can inject their own slog.Logger for JSON, different
// levels, etc.
func defaultLogger() *slog.Logger {
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	return slog.New(h)
}

// New constructs a ledger handle. New does not perform heavy I/O or start
// background goroutines. Call Start to initialize subsystems.
func New(conf Config) (*Ledger, error) {
	if len(conf.Paths) == 0 {
		return nil, fmt.Errorf("at least one path must be provided in config")
	}
	if conf.Logger == nil {
		conf.Logger = defaultLogger()
	}
	if conf.SystemKey == "" {
		conf.SystemKey = DefaultSystemKey
	}
	return &Ledger{
		log:    conf.Logger,
		config: conf,
	}, nil
}

// Start initializes the crypto context, the store and the coordinator and
// marks the ledger as ready. Start is safe to call multiple times; only the
// first call has effect.
func (l *Ledger) Start(ctx context.Context) error {
	var startErr error
	l.startOnce.Do(func() {
		dataRoot := l.config.Paths[0]
		if err := os.MkdirAll(dataRoot, 0o700); err != nil {
			startErr = fmt.Errorf("mkdir %s: %w", dataRoot, err)
			return
		}

		// Scheme keys live at Paths[0]/cipherwatt.key so ciphertexts
		// stay decryptable across restarts.
		he, err := hecrypt.LoadOrGenerate(filepath.Join(dataRoot, "cipherwatt.key"))
		if err != nil {
			startErr = fmt.Errorf("init crypto context: %w", err)
			return
		}

		kvDir := filepath.Join(dataRoot, "kv")
		if err := os.MkdirAll(kvDir, 0o700); err != nil {
			startErr = fmt.Errorf("mkdir %s: %w", kvDir, err)
			return
		}

		internalLog := logrus.New()
		kv, err := keyValStore.NewKeyValStore(keyValStore.StoreConfig{
			Paths:            []string{kvDir},
			MinimumFreeSpace: int(l.config.MinimumFreeGB),
			Logger:           internalLog,
		})
		if err != nil {
			startErr = fmt.Errorf("init kv: %w", err)
			return
		}

		agg, err := aggregator.New(he, kv)
		if err != nil {
			kv.Close()
			startErr = fmt.Errorf("init aggregator: %w", err)
			return
		}

		l.he = he
		l.kv = kv
		l.subs = cipherStore.New(kv)
		l.reveals = revealStore.New(kv)
		l.agg = agg
		l.bus = events.NewBus()

		l.oracle = l.config.Oracle
		if l.oracle == nil {
			l.oracle = oracle.NewLocalOracle(he, l.log)
		}

		l.coord = coordinator.New(coordinator.Config{
			Oracle:      l.oracle,
			Submissions: l.subs,
			Reveals:     l.reveals,
			Aggregates:  agg,
			Bus:         l.bus,
			SystemKey:   l.config.SystemKey,
			Logger:      internalLog,
		})

		l.started.Store(true)
		l.log.InfoContext(ctx, "ledger started",
			"dataPath", dataRoot, "systemKey", l.config.SystemKey)
	})
	return startErr
}

// Close releases the store and closes the event bus. Close is safe to call
// multiple times.
func (l *Ledger) Close() error {
	l.closeOnce.Do(func() {
		l.closed.Store(true)
		l.started.Store(false)
		if l.bus != nil {
			l.bus.Close()
		}
		if l.kv != nil {
			l.kv.Close()
		}
		l.log.Info("ledger closed")
	})
	return nil
}

func (l *Ledger) ready() error {
	if l.closed.Load() {
		return ErrClosed
	}
	if !l.started.Load() {
		return ErrNotStarted
	}
	return nil
}

// Submit accepts three ciphertext handles, assigns the next sequential id
// and creates the un-revealed placeholder record. No well-formedness check
// is done here; the scheme either produced a valid handle or failed before
// this call.
func (l *Ledger) Submit(usageCt, timestampCt, loadCt []byte) (uint64, error) {
	if err := l.ready(); err != nil {
		return 0, err
	}

	sub, err := l.subs.Submit(usageCt, timestampCt, loadCt)
	if err != nil {
		return 0, err
	}
	if err := l.reveals.Init(sub.ID); err != nil {
		return 0, fmt.Errorf("creating reveal placeholder for %d: %w", sub.ID, err)
	}

	l.log.Info("submission accepted", "submissionId", sub.ID, "acceptedAt", sub.AcceptedAt)
	l.bus.Publish(types.Event{
		Kind:         types.EventSubmissionAccepted,
		SubmissionID: sub.ID,
		Timestamp:    sub.AcceptedAt,
	})
	return sub.ID, nil
}

// GetSubmission returns the stored submission for id.
func (l *Ledger) GetSubmission(id uint64) (types.Submission, error) {
	if err := l.ready(); err != nil {
		return types.Submission{}, err
	}
	return l.subs.Get(id)
}

// GetReveal returns the reveal record for id; zero-valued with Revealed
// false while the submission is still sealed.
func (l *Ledger) GetReveal(id uint64) (types.RevealRecord, error) {
	if err := l.ready(); err != nil {
		return types.RevealRecord{}, err
	}
	return l.reveals.Get(id)
}

// RequestReveal asks the oracle to decrypt submission id. It returns the
// oracle's request id; the result arrives later through the callback.
func (l *Ledger) RequestReveal(id uint64) (string, error) {
	if err := l.ready(); err != nil {
		return "", err
	}
	return l.coord.RequestReveal(id)
}

// RequestSumReveal asks the oracle to decrypt the current running sum of
// systemKey.
func (l *Ledger) RequestSumReveal(systemKey string) (string, error) {
	if err := l.ready(); err != nil {
		return "", err
	}
	return l.coord.RequestSumReveal(systemKey)
}

// OnRevealCallback is the oracle's delivery entry point for individual
// reveals. It is not meant to be called by tenants.
func (l *Ledger) OnRevealCallback(requestID string, plaintexts []uint64, proof []byte) error {
	if err := l.ready(); err != nil {
		return err
	}
	return l.coord.OnRevealCallback(requestID, plaintexts, proof)
}

// OnSumRevealCallback is the oracle's delivery entry point for sum reveals.
func (l *Ledger) OnSumRevealCallback(requestID string, plaintextSum uint64, proof []byte) error {
	if err := l.ready(); err != nil {
		return err
	}
	return l.coord.OnSumRevealCallback(requestID, plaintextSum, proof)
}

// GetSum returns the serialized encrypted running sum for systemKey. This
// is a read, not a reveal.
func (l *Ledger) GetSum(systemKey string) ([]byte, error) {
	if err := l.ready(); err != nil {
		return nil, err
	}
	return l.agg.SumBytes(systemKey)
}

// RevealedSum returns the last revealed plaintext sum for systemKey, if a
// sum reveal has completed for it.
func (l *Ledger) RevealedSum(systemKey string) (uint64, bool, error) {
	if err := l.ready(); err != nil {
		return 0, false, err
	}
	sum, ok := l.agg.RevealedSum(systemKey)
	return sum, ok, nil
}

// SystemKeys enumerates the known accumulator keys.
func (l *Ledger) SystemKeys() ([]string, error) {
	if err := l.ready(); err != nil {
		return nil, err
	}
	return l.agg.SystemKeys(), nil
}

// EncryptReading encrypts one reading with the ledger's public key. It is a
// convenience for in-process tenants; remote tenants encrypt client-side.
func (l *Ledger) EncryptReading(usage, timestamp, load uint64) (usageCt, timestampCt, loadCt []byte, err error) {
	if err := l.ready(); err != nil {
		return nil, nil, nil, err
	}
	if usageCt, err = l.he.EncryptUint64(usage); err != nil {
		return nil, nil, nil, err
	}
	if timestampCt, err = l.he.EncryptUint64(timestamp); err != nil {
		return nil, nil, nil, err
	}
	if loadCt, err = l.he.EncryptUint64(load); err != nil {
		return nil, nil, nil, err
	}
	return usageCt, timestampCt, loadCt, nil
}

// Events subscribes to the ledger's audit events. The cancel func must be
// called when the subscriber is done.
func (l *Ledger) Events(buffer int) (<-chan types.Event, func(), error) {
	if err := l.ready(); err != nil {
		return nil, nil, err
	}
	ch, cancel := l.bus.Subscribe(buffer)
	return ch, cancel, nil
}
