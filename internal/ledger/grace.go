package ledger

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/commitgate/commitd/internal/domain"
)

// GraceEconomy owns the single persisted grace row: the capped grace-day
// balance, the last-earned timestamp and the bonus-task accrual counter.
//
// Same discipline as PenaltyLedger: every operation is one critical section
// under the economy's own mutex, and the cache only advances after a
// successful persist.
type GraceEconomy struct {
	mu     sync.Mutex
	store  domain.StateStore
	logger *zap.Logger

	state  domain.GraceState
	loaded bool
}

// NewGraceEconomy creates a grace economy backed by the given store.
func NewGraceEconomy(store domain.StateStore, logger *zap.Logger) *GraceEconomy {
	return &GraceEconomy{
		store:  store,
		logger: logger,
	}
}

// Caller must hold g.mu.
func (g *GraceEconomy) ensureLoaded() error {
	if g.loaded {
		return nil
	}
	state, err := g.store.LoadGraceState()
	if err != nil {
		return fmt.Errorf("load grace state: %w", err)
	}
	if state != nil {
		g.state = *state
	}
	g.loaded = true
	return nil
}

// Caller must hold g.mu.
func (g *GraceEconomy) persist(next domain.GraceState) error {
	if err := g.store.SaveGraceState(next); err != nil {
		return fmt.Errorf("save grace state: %w", err)
	}
	g.state = next
	return nil
}

// EarnGraceDay adds one grace day. Earning at the cap is silently absorbed,
// not an error.
func (g *GraceEconomy) EarnGraceDay(nowMs int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.ensureLoaded(); err != nil {
		return err
	}
	if g.state.Balance >= domain.MaxGraceDays {
		return nil
	}

	next := g.state
	next.Balance++
	next.LastEarnedMs = nowMs

	if err := g.persist(next); err != nil {
		return err
	}

	g.logger.Info("grace day earned", zap.Int("balance", next.Balance))
	return nil
}

// ConsumeGraceDay spends one grace day. Returns false when the balance is
// empty; callers treat that as "no grace available", not as an error. The
// balance can never go negative: the check and the decrement happen inside
// one critical section.
func (g *GraceEconomy) ConsumeGraceDay() (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.ensureLoaded(); err != nil {
		return false, err
	}
	if g.state.Balance <= 0 {
		return false, nil
	}

	next := g.state
	next.Balance--

	if err := g.persist(next); err != nil {
		return false, err
	}

	g.logger.Info("grace day consumed", zap.Int("balance", next.Balance))
	return true, nil
}

// ExpireIfStale resets the whole balance when nothing was earned within
// expiry. This is deliberately coarse: one stale grant discards the entire
// balance rather than expiring grants FIFO. A per-grant queue would slot in
// behind the same EarnGraceDay/ConsumeGraceDay contract if that ever matters.
func (g *GraceEconomy) ExpireIfStale(nowMs int64, expiry time.Duration) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.ensureLoaded(); err != nil {
		return err
	}
	if g.state.LastEarnedMs == 0 || g.state.Balance == 0 {
		return nil
	}
	if nowMs-g.state.LastEarnedMs <= expiry.Milliseconds() {
		return nil
	}

	next := g.state
	next.Balance = 0

	if err := g.persist(next); err != nil {
		return err
	}

	g.logger.Info("grace balance expired",
		zap.Int64("last_earned_ms", next.LastEarnedMs))
	return nil
}

// AddBonusTaskCredit records n completed bonus tasks awaiting exchange.
func (g *GraceEconomy) AddBonusTaskCredit(n int) error {
	if n <= 0 {
		return nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.ensureLoaded(); err != nil {
		return err
	}

	next := g.state
	next.BonusAccrual += n
	return g.persist(next)
}

// TryExchangeBonusForGrace converts BonusExchangeThreshold accrued credits
// into one grace day. Returns false when the accrual is short or the balance
// is already at the cap; exactly that many credits are consumed on success.
func (g *GraceEconomy) TryExchangeBonusForGrace(nowMs int64) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.ensureLoaded(); err != nil {
		return false, err
	}
	if g.state.BonusAccrual < domain.BonusExchangeThreshold {
		return false, nil
	}
	if g.state.Balance >= domain.MaxGraceDays {
		return false, nil
	}

	next := g.state
	next.BonusAccrual -= domain.BonusExchangeThreshold
	next.Balance++
	next.LastEarnedMs = nowMs

	if err := g.persist(next); err != nil {
		return false, err
	}

	g.logger.Info("bonus credits exchanged for grace",
		zap.Int("balance", next.Balance),
		zap.Int("bonus_accrual", next.BonusAccrual))
	return true, nil
}

// Snapshot returns a copy of the current row for status display.
func (g *GraceEconomy) Snapshot() (domain.GraceState, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.ensureLoaded(); err != nil {
		return domain.GraceState{}, err
	}
	return g.state, nil
}

// Balance returns the current grace-day balance.
func (g *GraceEconomy) Balance() (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.ensureLoaded(); err != nil {
		return 0, err
	}
	return g.state.Balance, nil
}
