package cipherwatt_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cipherwatt "github.com/cipherwatt/cipherwatt"
	"github.com/cipherwatt/cipherwatt/pkg/types"
)

func startLedger(t *testing.T) *cipherwatt.Ledger {
	t.Helper()
	l, err := cipherwatt.New(cipherwatt.Config{
		Paths:         []string{t.TempDir()},
		MinimumFreeGB: 1,
	})
	require.NoError(t, err)
	require.NoError(t, l.Start(context.Background()))
	t.Cleanup(func() { l.Close() })
	return l
}

// waitFor consumes events until one matches, or fails the test.
func waitFor(t *testing.T, ch <-chan types.Event, match func(types.Event) bool) types.Event {
	t.Helper()
	deadline := time.After(30 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				t.Fatal("event channel closed")
			}
			if match(ev) {
				return ev
			}
		case <-deadline:
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestOperationsRequireStart(t *testing.T) {
	l, err := cipherwatt.New(cipherwatt.Config{Paths: []string{t.TempDir()}})
	require.NoError(t, err)

	_, err = l.Submit([]byte("u"), []byte("t"), []byte("l"))
	assert.ErrorIs(t, err, cipherwatt.ErrNotStarted)

	_, err = l.GetSubmission(1)
	assert.ErrorIs(t, err, cipherwatt.ErrNotStarted)
}

func TestEndToEndRevealFlow(t *testing.T) {
	l := startLedger(t)

	events, cancel, err := l.Events(64)
	require.NoError(t, err)
	defer cancel()

	loads := []uint64{5, 7, 9}
	var ids []uint64
	for i, load := range loads {
		usageCt, tsCt, loadCt, err := l.EncryptReading(50+uint64(i), uint64(i), load)
		require.NoError(t, err)
		id, err := l.Submit(usageCt, tsCt, loadCt)
		require.NoError(t, err)
		ids = append(ids, id)

		ev := waitFor(t, events, func(ev types.Event) bool {
			return ev.Kind == types.EventSubmissionAccepted && ev.SubmissionID == id
		})
		assert.False(t, ev.Timestamp.IsZero())
	}
	assert.Equal(t, []uint64{1, 2, 3}, ids)

	for _, id := range ids {
		_, err := l.RequestReveal(id)
		require.NoError(t, err)
		waitFor(t, events, func(ev types.Event) bool {
			return ev.Kind == types.EventDataRevealed && ev.SubmissionID == id
		})

		rec, err := l.GetReveal(id)
		require.NoError(t, err)
		assert.True(t, rec.Revealed)
	}

	keys, err := l.SystemKeys()
	require.NoError(t, err)
	assert.Equal(t, []string{cipherwatt.DefaultSystemKey}, keys)

	_, err = l.RequestSumReveal(cipherwatt.DefaultSystemKey)
	require.NoError(t, err)
	waitFor(t, events, func(ev types.Event) bool {
		return ev.Kind == types.EventSumRevealed && ev.SystemKey == cipherwatt.DefaultSystemKey
	})

	sum, ok, err := l.RevealedSum(cipherwatt.DefaultSystemKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(21), sum)

	// The encrypted sum view remains a read, not a reveal.
	blob, err := l.GetSum(cipherwatt.DefaultSystemKey)
	require.NoError(t, err)
	assert.NotEmpty(t, blob)
}

func TestRevealIsWriteOnceAcrossTheSurface(t *testing.T) {
	l := startLedger(t)

	events, cancel, err := l.Events(16)
	require.NoError(t, err)
	defer cancel()

	usageCt, tsCt, loadCt, err := l.EncryptReading(1, 2, 3)
	require.NoError(t, err)
	id, err := l.Submit(usageCt, tsCt, loadCt)
	require.NoError(t, err)

	_, err = l.RequestReveal(id)
	require.NoError(t, err)
	waitFor(t, events, func(ev types.Event) bool {
		return ev.Kind == types.EventDataRevealed && ev.SubmissionID == id
	})

	_, err = l.RequestReveal(id)
	assert.ErrorIs(t, err, types.ErrAlreadyRevealed)
}

func TestUnknownIdsAcrossTheSurface(t *testing.T) {
	l := startLedger(t)

	_, err := l.GetSubmission(0)
	assert.ErrorIs(t, err, types.ErrNotFound)
	_, err = l.GetReveal(42)
	assert.ErrorIs(t, err, types.ErrNotFound)
	_, err = l.RequestReveal(42)
	assert.ErrorIs(t, err, types.ErrNotFound)
	_, err = l.GetSum("nobody_contributed")
	assert.ErrorIs(t, err, types.ErrUnknownSystem)
	_, err = l.RequestSumReveal("nobody_contributed")
	assert.ErrorIs(t, err, types.ErrUnknownSystem)
}

func TestLedgerSurvivesRestart(t *testing.T) {
	dir := t.TempDir()

	l, err := cipherwatt.New(cipherwatt.Config{Paths: []string{dir}, MinimumFreeGB: 1})
	require.NoError(t, err)
	require.NoError(t, l.Start(context.Background()))

	usageCt, tsCt, loadCt, err := l.EncryptReading(9, 1, 4)
	require.NoError(t, err)
	id, err := l.Submit(usageCt, tsCt, loadCt)
	require.NoError(t, err)
	require.Equal(t, uint64(1), id)
	require.NoError(t, l.Close())

	l, err = cipherwatt.New(cipherwatt.Config{Paths: []string{dir}, MinimumFreeGB: 1})
	require.NoError(t, err)
	require.NoError(t, l.Start(context.Background()))
	defer l.Close()

	events, cancel, err := l.Events(16)
	require.NoError(t, err)
	defer cancel()

	// The reading persisted and is still revealable with the reloaded key.
	_, err = l.RequestReveal(id)
	require.NoError(t, err)
	waitFor(t, events, func(ev types.Event) bool {
		return ev.Kind == types.EventDataRevealed && ev.SubmissionID == id
	})

	rec, err := l.GetReveal(id)
	require.NoError(t, err)
	assert.True(t, rec.Revealed)
	assert.Equal(t, uint64(4), rec.Load)

	// Ids keep increasing after restart.
	usageCt, tsCt, loadCt, err = l.EncryptReading(1, 1, 1)
	require.NoError(t, err)
	id2, err := l.Submit(usageCt, tsCt, loadCt)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), id2)
}
