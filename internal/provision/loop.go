package provision

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/addrbook/provisioner/internal/history"
	"github.com/addrbook/provisioner/internal/ledger"
)

// AttemptRecorder persists unit outcomes; satisfied by *history.Store
type AttemptRecorder interface {
	Add(a *history.Attempt) error
}

// suffix returns the loggable tail of an address
func suffix(addr string) string {
	if len(addr) <= 10 {
		return addr
	}
	return "..." + addr[len(addr)-10:]
}

func record(rec AttemptRecorder, settings Settings, unit Unit, outcome Outcome, started time.Time) {
	if rec == nil {
		return
	}
	a := &history.Attempt{
		Platform:  settings.Platform,
		Addresses: unit.Addresses,
		StartedAt: started,
		EndedAt:   time.Now(),
	}
	if outcome.State == StateConfirmed {
		a.Outcome = history.OutcomeConfirmed
	} else {
		a.Outcome = history.OutcomeFailed
		a.Reason = string(outcome.Reason)
	}
	if err := rec.Add(a); err != nil {
		log.Printf("Warning: failed to record attempt: %v", err)
	}
}

// cooldown sleeps between units, honoring cancellation
func cooldown(ctx context.Context, settings Settings) {
	if settings.CooldownSec <= 0 {
		return
	}
	log.Printf("Waiting %d seconds...", settings.CooldownSec)
	select {
	case <-ctx.Done():
	case <-time.After(time.Duration(settings.CooldownSec) * time.Second):
	}
}

// RunSequential processes one address at a time. A confirmed address is
// checkpointed immediately; a failed one stays pending for the next run
// rather than being retried in place, to avoid tripping rate limits.
func RunSequential(ctx context.Context, m *Machine, lgr *ledger.Ledger, rec AttemptRecorder, settings Settings) error {
	pending := lgr.Pending()
	for i, addr := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}

		log.Printf("[%d/%d] Try to add %s", i+1, len(pending), suffix(addr))
		unit := Unit{Addresses: []string{addr}, Settings: settings}
		started := time.Now()
		outcome := m.Run(ctx, unit)
		record(rec, settings, unit, outcome, started)

		if outcome.State == StateConfirmed {
			if err := lgr.MarkDone(addr); err != nil {
				return err
			}
			log.Printf("Success, removed %s from the address file", suffix(addr))
		} else {
			log.Printf("Failed to add %s at %s: %s (stays pending)", suffix(addr), outcome.Stage, outcome.Reason)
		}

		if i < len(pending)-1 {
			if err := m.strategy.Reset(ctx); err != nil {
				log.Printf("Warning: surface reload failed: %v", err)
			}
			cooldown(ctx, settings)
		}
	}
	return nil
}

// RunBatched processes batches of up to the strategy's batch size, retrying
// the same remaining pending set after any failed cycle. No batch is ever
// dropped; the loop ends when pending is empty or the optional cycle cap
// is reached.
func RunBatched(ctx context.Context, m *Machine, lgr *ledger.Ledger, rec AttemptRecorder, settings Settings) error {
	size := m.strategy.BatchSize()
	if size < 1 {
		size = 1
	}

	for cycle := 1; len(lgr.Pending()) > 0; cycle++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if settings.MaxCycles > 0 && cycle > settings.MaxCycles {
			return fmt.Errorf("gave up after %d cycles with %d addresses pending", settings.MaxCycles, len(lgr.Pending()))
		}

		pending := lgr.Pending()
		batch := pending
		if len(batch) > size {
			batch = batch[:size]
		}
		log.Printf("Cycle %d: submitting batch of %d (%d pending)", cycle, len(batch), len(pending))

		unit := Unit{Addresses: batch, Settings: settings}
		started := time.Now()
		outcome := m.Run(ctx, unit)
		record(rec, settings, unit, outcome, started)

		if outcome.State == StateConfirmed {
			if err := lgr.MarkDone(batch...); err != nil {
				return err
			}
			log.Printf("Batch confirmed, %d addresses remaining", len(lgr.Pending()))
		} else {
			log.Printf("Batch failed at %s (%s), will retry the same pending set", outcome.Stage, outcome.Reason)
			if err := m.strategy.Reset(ctx); err != nil {
				log.Printf("Warning: surface reload failed: %v", err)
			}
		}

		if len(lgr.Pending()) > 0 {
			cooldown(ctx, settings)
		}
	}
	return nil
}
