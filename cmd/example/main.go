// End-to-end walkthrough: submit three encrypted readings, reveal them one
// by one and reveal the aggregate sum.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	cipherwatt "github.com/cipherwatt/cipherwatt"
	"github.com/cipherwatt/cipherwatt/pkg/types"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	dir, err := os.MkdirTemp("", "cipherwatt-example-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	ledger, err := cipherwatt.New(cipherwatt.Config{
		Paths:         []string{dir},
		MinimumFreeGB: 1,
		Logger:        logger,
	})
	if err != nil {
		return err
	}
	if err := ledger.Start(context.Background()); err != nil {
		return err
	}
	defer ledger.Close()

	events, cancel, err := ledger.Events(64)
	if err != nil {
		return err
	}
	defer cancel()

	loads := []uint64{5, 7, 9}
	for i, load := range loads {
		usageCt, tsCt, loadCt, err := ledger.EncryptReading(100+uint64(i), uint64(time.Now().Unix()), load)
		if err != nil {
			return err
		}
		id, err := ledger.Submit(usageCt, tsCt, loadCt)
		if err != nil {
			return err
		}
		fmt.Printf("submitted reading %d (load %d, encrypted)\n", id, load)
	}

	for id := uint64(1); id <= 3; id++ {
		if _, err := ledger.RequestReveal(id); err != nil {
			return err
		}
		if err := waitFor(events, types.EventDataRevealed); err != nil {
			return err
		}
		rec, err := ledger.GetReveal(id)
		if err != nil {
			return err
		}
		fmt.Printf("revealed reading %d: usage=%d load=%d\n", rec.ID, rec.Usage, rec.Load)
	}

	if _, err := ledger.RequestSumReveal(cipherwatt.DefaultSystemKey); err != nil {
		return err
	}
	if err := waitFor(events, types.EventSumRevealed); err != nil {
		return err
	}
	sum, _, err := ledger.RevealedSum(cipherwatt.DefaultSystemKey)
	if err != nil {
		return err
	}
	fmt.Printf("revealed aggregate sum of %q: %d\n", cipherwatt.DefaultSystemKey, sum)
	return nil
}

func waitFor(events <-chan types.Event, kind types.EventKind) error {
	deadline := time.After(30 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Kind == kind {
				return nil
			}
		case <-deadline:
			return fmt.Errorf("timed out waiting for %s", kind)
		}
	}
}
