// Package engine implements the blocking decision engine: the state machine
// that decides, each tick, whether distraction surfaces should be blocked.
package engine

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/commitgate/commitd/internal/domain"
	"github.com/commitgate/commitd/internal/integrity"
	"github.com/commitgate/commitd/internal/ledger"
)

// Config tunes the engine's durations. Zero values fall back to the domain
// defaults.
type Config struct {
	PenaltyDuration time.Duration
	IntegritySlack  time.Duration
	GraceExpiry     time.Duration
}

func (c Config) withDefaults() Config {
	if c.PenaltyDuration <= 0 {
		c.PenaltyDuration = domain.DefaultPenaltyDuration
	}
	if c.IntegritySlack <= 0 {
		c.IntegritySlack = domain.DefaultIntegritySlack
	}
	if c.GraceExpiry <= 0 {
		c.GraceExpiry = domain.DefaultGraceExpiry
	}
	return c
}

// Engine orchestrates the integrity guard, the task queries and the two
// ledgers into a published boolean blocking state.
//
// UpdateState ticks are serialized by the engine's own mutex. The last
// published flag is held in an atomic so IsCurrentlyBlocked never takes a
// lock. On any storage or clock failure the tick aborts with persisted state
// and the published flag untouched: the engine fails to "last known state",
// never to unblocked.
type Engine struct {
	config  Config
	tasks   domain.TaskQuery
	penalty *ledger.PenaltyLedger
	grace   *ledger.GraceEconomy
	clock   domain.Clock
	logger  *zap.Logger

	mu      sync.Mutex
	blocked atomic.Bool

	subMu   sync.Mutex
	subs    map[int]chan bool
	nextSub int
}

// New creates a decision engine. The ledgers must be backed by the same
// persistence the engine should survive restarts on.
func New(
	config Config,
	tasks domain.TaskQuery,
	penalty *ledger.PenaltyLedger,
	grace *ledger.GraceEconomy,
	clock domain.Clock,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		config:  config.withDefaults(),
		tasks:   tasks,
		penalty: penalty,
		grace:   grace,
		clock:   clock,
		logger:  logger,
		subs:    make(map[int]chan bool),
	}
}

// UpdateState runs one evaluation tick at nowMs and republishes the blocking
// flag. Returned errors mean the tick aborted with all state unchanged; the
// external scheduler owns retry, so the error is informational.
func (e *Engine) UpdateState(nowMs int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	monoMs, err := e.clock.MonotonicMs()
	if err != nil {
		e.logger.Error("tick aborted: monotonic clock unavailable", zap.Error(err))
		return fmt.Errorf("%w: %v", domain.ErrClockUnavailable, err)
	}

	// Step 1: tamper check against the last checkpoint. Tampering is
	// punished unconditionally, regardless of task state.
	last, err := e.penalty.LoadCheckpoint()
	if err != nil {
		return e.abort("load checkpoint", err)
	}
	now := integrity.Checkpoint{WallMs: nowMs, MonoMs: monoMs}
	if last != nil && integrity.IsManipulated(*last, now, e.config.IntegritySlack.Milliseconds()) {
		e.logger.Warn("clock manipulation detected",
			zap.Int64("last_wall_ms", last.WallMs),
			zap.Int64("now_wall_ms", nowMs))
		if err := e.penalty.StartPenalty(nowMs, e.config.PenaltyDuration); err != nil {
			return e.abort("start tamper penalty", err)
		}
	}

	// Step 2: save fresh checkpoints unconditionally so the same historical
	// event is not re-detected every tick.
	if err := e.penalty.SaveCheckpoint(nowMs, monoMs); err != nil {
		return e.abort("save checkpoint", err)
	}

	// Opportunistic sweep; a stale balance should not absorb violations.
	if err := e.grace.ExpireIfStale(nowMs, e.config.GraceExpiry); err != nil {
		return e.abort("expire grace", err)
	}

	// Steps 3-4: with no outstanding commitments there is nothing to
	// enforce, so any penalty is forgiven and the gate opens.
	activeCount, err := e.tasks.CountActiveIncompleteNonDaily(nowMs)
	if err != nil {
		return e.abort("count active tasks", err)
	}
	if activeCount == 0 {
		penaltyActive, err := e.penalty.IsPenaltyActive(nowMs)
		if err != nil {
			return e.abort("check penalty", err)
		}
		if penaltyActive {
			if err := e.penalty.ClearPenalty(); err != nil {
				return e.abort("clear penalty", err)
			}
			e.logger.Info("penalty cleared: no active tasks remain")
		}
		e.publish(false)
		return nil
	}

	// Step 5: violations either burn a grace day or start a penalty, but
	// only when no penalty is already running.
	penaltyActive, err := e.penalty.IsPenaltyActive(nowMs)
	if err != nil {
		return e.abort("check penalty", err)
	}
	if !penaltyActive {
		if err := e.punishOrForgive(nowMs); err != nil {
			return err
		}
	}

	// Step 6: the published flag is always the pure recomputation.
	blocked, err := e.IsBlocked(nowMs)
	if err != nil {
		return e.abort("recompute blocked", err)
	}
	e.publish(blocked)
	return nil
}

// punishOrForgive checks hardness violations first (the stricter, earlier
// trigger), then plain overdue. The first non-empty list costs one grace day
// or, with no grace left, starts a penalty.
func (e *Engine) punishOrForgive(nowMs int64) error {
	hard, err := e.tasks.GetHardnessViolations(nowMs)
	if err != nil {
		return e.abort("query hardness violations", err)
	}

	violations := hard
	trigger := "hardness"
	if len(violations) == 0 {
		overdue, err := e.tasks.GetOverdueIncomplete(nowMs)
		if err != nil {
			return e.abort("query overdue tasks", err)
		}
		violations = overdue
		trigger = "overdue"
	}
	if len(violations) == 0 {
		return nil
	}

	forgiven, err := e.grace.ConsumeGraceDay()
	if err != nil {
		return e.abort("consume grace", err)
	}
	if forgiven {
		e.logger.Info("violation absorbed by grace day",
			zap.String("trigger", trigger),
			zap.String("task", violations[0].ID),
			zap.Int("violations", len(violations)))
		return nil
	}

	if err := e.penalty.StartPenalty(nowMs, e.config.PenaltyDuration); err != nil {
		return e.abort("start penalty", err)
	}
	e.logger.Info("penalty started",
		zap.String("trigger", trigger),
		zap.Int("violations", len(violations)))
	return nil
}

// IsBlocked is the pure recomputation of the blocking state at nowMs. It
// reads the ledgers and task queries but mutates nothing.
//
// Known quirk, preserved deliberately: a grace day consumed this tick does
// not remove the violating task from these lists, so IsBlocked can still
// report true right after a forgiveness. See the regression test pinning
// this and DESIGN.md for the decision.
func (e *Engine) IsBlocked(nowMs int64) (bool, error) {
	activeCount, err := e.tasks.CountActiveIncompleteNonDaily(nowMs)
	if err != nil {
		return false, err
	}
	if activeCount == 0 {
		return false, nil
	}

	penaltyActive, err := e.penalty.IsPenaltyActive(nowMs)
	if err != nil {
		return false, err
	}
	if penaltyActive {
		return true, nil
	}

	hard, err := e.tasks.GetHardnessViolations(nowMs)
	if err != nil {
		return false, err
	}
	if len(hard) > 0 {
		return true, nil
	}

	overdue, err := e.tasks.GetOverdueIncomplete(nowMs)
	if err != nil {
		return false, err
	}
	return len(overdue) > 0, nil
}

// IsCurrentlyBlocked returns the last published flag without touching
// storage. A few hundred milliseconds of staleness is acceptable here; this
// gates a productivity tool, not a safety system.
func (e *Engine) IsCurrentlyBlocked() bool {
	return e.blocked.Load()
}

// Subscribe registers an observer of the blocking flag. The channel carries
// the latest value and coalesces rapid duplicates (latest value wins); the
// current flag is delivered immediately. The returned func unsubscribes.
func (e *Engine) Subscribe() (<-chan bool, func()) {
	e.subMu.Lock()
	defer e.subMu.Unlock()

	id := e.nextSub
	e.nextSub++
	ch := make(chan bool, 1)
	ch <- e.blocked.Load()
	e.subs[id] = ch

	return ch, func() {
		e.subMu.Lock()
		defer e.subMu.Unlock()
		if sub, ok := e.subs[id]; ok {
			delete(e.subs, id)
			close(sub)
		}
	}
}

// publish stores the flag and fans it out to subscribers, replacing any
// undelivered previous value.
func (e *Engine) publish(blocked bool) {
	prev := e.blocked.Swap(blocked)
	if prev != blocked {
		e.logger.Info("blocking state changed", zap.Bool("blocked", blocked))
	}

	e.subMu.Lock()
	defer e.subMu.Unlock()
	for _, ch := range e.subs {
		select {
		case ch <- blocked:
		default:
			// Drop the stale value, then deliver the latest.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- blocked:
			default:
			}
		}
	}
}

// abort logs a failed tick step and wraps the error. Persisted state and the
// published flag are left exactly as they were.
func (e *Engine) abort(step string, err error) error {
	e.logger.Error("tick aborted", zap.String("step", step), zap.Error(err))
	return fmt.Errorf("%s: %w", step, err)
}
