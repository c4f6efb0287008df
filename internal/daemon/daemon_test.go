package daemon

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/commitgate/commitd/internal/domain"
	"github.com/commitgate/commitd/internal/engine"
	"github.com/commitgate/commitd/internal/ledger"
)

// mockStateStore implements domain.StateStore for testing.
type mockStateStore struct {
	mu      sync.Mutex
	penalty *domain.PenaltyState
	grace   *domain.GraceState
}

func (m *mockStateStore) LoadPenaltyState() (*domain.PenaltyState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.penalty == nil {
		return nil, nil
	}
	cp := *m.penalty
	return &cp, nil
}

func (m *mockStateStore) SavePenaltyState(state domain.PenaltyState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := state
	m.penalty = &cp
	return nil
}

func (m *mockStateStore) LoadGraceState() (*domain.GraceState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.grace == nil {
		return nil, nil
	}
	cp := *m.grace
	return &cp, nil
}

func (m *mockStateStore) SaveGraceState(state domain.GraceState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := state
	m.grace = &cp
	return nil
}

// mockTaskQuery implements domain.TaskQuery.
type mockTaskQuery struct {
	mu          sync.Mutex
	activeCount int
	overdue     []domain.TaskRef
}

func (m *mockTaskQuery) CountActiveIncompleteNonDaily(int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeCount, nil
}

func (m *mockTaskQuery) GetOverdueIncomplete(int64) ([]domain.TaskRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.overdue, nil
}

func (m *mockTaskQuery) GetHardnessViolations(int64) ([]domain.TaskRef, error) {
	return nil, nil
}

// fakeClock implements domain.Clock with advancing readings.
type fakeClock struct {
	mu   sync.Mutex
	wall int64
	mono int64
}

func (c *fakeClock) WallClockMs() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.wall += 10
	return c.wall
}

func (c *fakeClock) MonotonicMs() (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mono += 10
	return c.mono, nil
}

func newTestDaemon(tasks *mockTaskQuery) (*Daemon, *engine.Engine) {
	logger := zap.NewNop()
	store := &mockStateStore{}
	clock := &fakeClock{wall: 1_000_000, mono: 1000}
	penalty := ledger.NewPenaltyLedger(store, logger)
	grace := ledger.NewGraceEconomy(store, logger)
	eng := engine.New(engine.Config{}, tasks, penalty, grace, clock, logger)

	d := New(Config{TickInterval: 5 * time.Millisecond, HookInterval: time.Hour},
		eng, nil, clock, logger)
	return d, eng
}

// TestRun_TicksAndStopsOnCancel verifies the loop evaluates on startup,
// keeps ticking, and exits with the context error.
func TestRun_TicksAndStopsOnCancel(t *testing.T) {
	tasks := &mockTaskQuery{activeCount: 1, overdue: []domain.TaskRef{{ID: "t1"}}}
	d, eng := newTestDaemon(tasks)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	// The startup tick should already have blocked the gate.
	assert.Eventually(t, eng.IsCurrentlyBlocked, time.Second, time.Millisecond)

	// Task completed: a later tick unblocks without external prompting.
	tasks.mu.Lock()
	tasks.activeCount = 0
	tasks.overdue = nil
	tasks.mu.Unlock()

	assert.Eventually(t, func() bool { return !eng.IsCurrentlyBlocked() },
		time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("daemon did not stop on cancel")
	}
}

// TestTick_OnDemand verifies the opportunistic tick entry point.
func TestTick_OnDemand(t *testing.T) {
	tasks := &mockTaskQuery{activeCount: 1, overdue: []domain.TaskRef{{ID: "t1"}}}
	d, eng := newTestDaemon(tasks)

	require.False(t, eng.IsCurrentlyBlocked())
	d.Tick()
	assert.True(t, eng.IsCurrentlyBlocked())
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 15*time.Minute, cfg.TickInterval)
	assert.Equal(t, 10*time.Second, cfg.HookInterval)
}
