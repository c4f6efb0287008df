// Package daemon runs the periodic evaluation loop around the decision
// engine and the interception hook.
package daemon

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/commitgate/commitd/internal/domain"
	"github.com/commitgate/commitd/internal/engine"
	"github.com/commitgate/commitd/internal/hook"
)

// Config holds the daemon loop intervals.
type Config struct {
	TickInterval time.Duration // engine re-evaluation cadence (default 15 min)
	HookInterval time.Duration // interception sweep cadence (default 10 s)
}

// DefaultConfig returns the default daemon configuration.
func DefaultConfig() Config {
	return Config{
		TickInterval: 15 * time.Minute,
		HookInterval: 10 * time.Second,
	}
}

// Daemon owns the two tickers: the slow engine tick that re-evaluates the
// blocking state, and the fast hook sweep that intercepts processes while
// blocked. A failed engine tick is logged and simply retried on the next
// tick; the engine guarantees a failed tick changes nothing.
type Daemon struct {
	config      Config
	engine      *engine.Engine
	interceptor *hook.Interceptor
	clock       domain.Clock
	logger      *zap.Logger
}

// New creates the daemon loop.
func New(
	config Config,
	eng *engine.Engine,
	interceptor *hook.Interceptor,
	clock domain.Clock,
	logger *zap.Logger,
) *Daemon {
	return &Daemon{
		config:      config,
		engine:      eng,
		interceptor: interceptor,
		clock:       clock,
		logger:      logger,
	}
}

// Run starts the loop. This blocks until the context is canceled.
func (d *Daemon) Run(ctx context.Context) error {
	d.logger.Info("daemon started",
		zap.Duration("tick_interval", d.config.TickInterval),
		zap.Duration("hook_interval", d.config.HookInterval))

	// Evaluate immediately on startup so a restart can't dodge enforcement.
	d.tick()
	d.sweep()

	tickTicker := time.NewTicker(d.config.TickInterval)
	hookTicker := time.NewTicker(d.config.HookInterval)
	defer tickTicker.Stop()
	defer hookTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("daemon stopping")
			return ctx.Err()

		case <-tickTicker.C:
			d.tick()

		case <-hookTicker.C:
			d.sweep()
		}
	}
}

// Tick runs one engine evaluation immediately. Exposed so task-mutating
// actions can trigger a re-evaluation without waiting for the ticker.
func (d *Daemon) Tick() {
	d.tick()
}

func (d *Daemon) tick() {
	nowMs := d.clock.WallClockMs()
	if err := d.engine.UpdateState(nowMs); err != nil {
		// Retried on the next scheduled tick; state was left untouched.
		d.logger.Warn("evaluation tick failed", zap.Error(err))
	}
}

func (d *Daemon) sweep() {
	if d.interceptor == nil {
		return
	}

	result, err := d.interceptor.EnforceOnce(time.Now())
	if err != nil {
		d.logger.Warn("interception sweep failed", zap.Error(err))
		return
	}

	if len(result.KilledPIDs) > 0 {
		d.logger.Info("interception sweep completed",
			zap.Int("processes_killed", len(result.KilledPIDs)),
			zap.Strings("rules", result.Rules))
	}
}
