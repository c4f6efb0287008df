// Package ledger implements the two persisted economies: the penalty ledger
// and the grace-day economy. Each ledger guards its state with its own mutex
// and never calls into the other while holding it; the decision engine
// coordinates them sequentially.
package ledger

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/commitgate/commitd/internal/domain"
	"github.com/commitgate/commitd/internal/integrity"
)

// PenaltyLedger owns the single persisted penalty row: the penalty window,
// the lifetime violation counter and the time-integrity checkpoint.
//
// State is cached in memory after the first load. Every mutation persists
// before updating the cache, so a failed write leaves both the store and the
// cache at their previous values and the operation can be retried next tick.
type PenaltyLedger struct {
	mu     sync.Mutex
	store  domain.StateStore
	logger *zap.Logger

	state  domain.PenaltyState
	loaded bool
}

// NewPenaltyLedger creates a penalty ledger backed by the given store.
func NewPenaltyLedger(store domain.StateStore, logger *zap.Logger) *PenaltyLedger {
	return &PenaltyLedger{
		store:  store,
		logger: logger,
	}
}

// ensureLoaded populates the cache from the store. The row is created lazily:
// an absent row reads as the zero state and is only written on first mutation.
// Caller must hold p.mu.
func (p *PenaltyLedger) ensureLoaded() error {
	if p.loaded {
		return nil
	}
	state, err := p.store.LoadPenaltyState()
	if err != nil {
		return fmt.Errorf("load penalty state: %w", err)
	}
	if state != nil {
		p.state = *state
	}
	p.loaded = true
	return nil
}

// persist writes the candidate row and updates the cache only on success.
// Caller must hold p.mu.
func (p *PenaltyLedger) persist(next domain.PenaltyState) error {
	if err := p.store.SavePenaltyState(next); err != nil {
		return fmt.Errorf("save penalty state: %w", err)
	}
	p.state = next
	return nil
}

// StartPenalty opens (or overwrites) the penalty window ending at
// nowMs+duration and increments the violation counter. Calling it during an
// active penalty replaces the end time rather than stacking; stacking would
// be a product decision this ledger does not take.
func (p *PenaltyLedger) StartPenalty(nowMs int64, duration time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ensureLoaded(); err != nil {
		return err
	}

	next := p.state
	next.PenaltyEndMs = nowMs + duration.Milliseconds()
	next.ViolationCount++

	if err := p.persist(next); err != nil {
		return err
	}

	p.logger.Info("penalty started",
		zap.Int64("end_ms", next.PenaltyEndMs),
		zap.Int("violation_count", next.ViolationCount))
	return nil
}

// IsPenaltyActive reports whether a penalty window covers nowMs.
// False when no penalty was ever started.
func (p *PenaltyLedger) IsPenaltyActive(nowMs int64) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ensureLoaded(); err != nil {
		return false, err
	}
	return p.state.PenaltyEndMs != 0 && nowMs < p.state.PenaltyEndMs, nil
}

// ClearPenalty unsets the penalty end time. The violation counter is never
// decremented; the row itself is never deleted.
func (p *PenaltyLedger) ClearPenalty() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ensureLoaded(); err != nil {
		return err
	}
	if p.state.PenaltyEndMs == 0 {
		return nil
	}

	next := p.state
	next.PenaltyEndMs = 0

	if err := p.persist(next); err != nil {
		return err
	}

	p.logger.Info("penalty cleared",
		zap.Int("violation_count", next.ViolationCount))
	return nil
}

// ViolationCount returns the lifetime violation counter.
func (p *PenaltyLedger) ViolationCount() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ensureLoaded(); err != nil {
		return 0, err
	}
	return p.state.ViolationCount, nil
}

// SaveCheckpoint persists the integrity guard's reference points.
func (p *PenaltyLedger) SaveCheckpoint(wallMs, monoMs int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ensureLoaded(); err != nil {
		return err
	}

	next := p.state
	next.CheckpointWallMs = wallMs
	next.CheckpointMonoMs = monoMs
	return p.persist(next)
}

// LoadCheckpoint returns the last saved reference points, or nil if no
// checkpoint has been saved yet (first run).
func (p *PenaltyLedger) LoadCheckpoint() (*integrity.Checkpoint, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ensureLoaded(); err != nil {
		return nil, err
	}
	if p.state.CheckpointWallMs == 0 && p.state.CheckpointMonoMs == 0 {
		return nil, nil
	}
	return &integrity.Checkpoint{
		WallMs: p.state.CheckpointWallMs,
		MonoMs: p.state.CheckpointMonoMs,
	}, nil
}

// Snapshot returns a copy of the current row for status display.
func (p *PenaltyLedger) Snapshot() (domain.PenaltyState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ensureLoaded(); err != nil {
		return domain.PenaltyState{}, err
	}
	return p.state, nil
}
