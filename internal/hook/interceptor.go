// Package hook is the in-process reference implementation of the OS
// enforcement hook: it consumes the engine's blocking state and the per-rule
// schedule predicate, and intercepts running processes that match enabled
// app rules. Platform hooks (overlay, accessibility service) consume the
// same two inputs.
package hook

import (
	"time"

	"go.uber.org/zap"

	"github.com/commitgate/commitd/internal/domain"
	"github.com/commitgate/commitd/internal/schedule"
)

// BlockState is the slice of the decision engine the hook needs.
type BlockState interface {
	IsCurrentlyBlocked() bool
}

// Result captures what happened during one interception sweep.
type Result struct {
	KilledPIDs []int
	Rules      []string // identifiers of rules that matched running processes
	Errors     []error
	ExecutedAt time.Time
}

// Interceptor kills processes matching enabled, schedule-active app rules
// while the engine reports blocked. Schedule evaluation happens at
// interception time, never cached: it is cheap and time-sensitive.
type Interceptor struct {
	rules  domain.RuleStore
	pm     domain.ProcessManager
	state  BlockState
	logger *zap.Logger
}

// NewInterceptor creates an interceptor over the given rule store and engine.
func NewInterceptor(rules domain.RuleStore, pm domain.ProcessManager, state BlockState, logger *zap.Logger) *Interceptor {
	return &Interceptor{
		rules:  rules,
		pm:     pm,
		state:  state,
		logger: logger,
	}
}

// ShouldIntercept is the per-rule predicate external hooks call at launch
// interception time: true iff the engine is blocked AND the rule exists, is
// enabled and its schedule covers now.
func (i *Interceptor) ShouldIntercept(identifier string, now time.Time) (bool, error) {
	if !i.state.IsCurrentlyBlocked() {
		return false, nil
	}

	rule, err := i.rules.GetByID(identifier)
	if err != nil {
		return false, err
	}
	if rule == nil || !rule.Enabled {
		return false, nil
	}

	return schedule.IsActiveNow(rule.Schedule, now.Weekday(), minuteOfDay(now)), nil
}

// EnforceOnce runs one interception sweep: while blocked, every enabled app
// rule whose schedule is active gets its matching processes killed. URL
// rules are matched by the platform hook, not by process name, so they are
// skipped here.
func (i *Interceptor) EnforceOnce(now time.Time) (*Result, error) {
	result := &Result{ExecutedAt: now}

	if !i.state.IsCurrentlyBlocked() {
		return result, nil
	}

	rules, err := i.rules.GetAll()
	if err != nil {
		return nil, err
	}

	for _, rule := range rules {
		if rule.Kind != domain.RuleApp || !rule.Enabled {
			continue
		}
		if !schedule.IsActiveNow(rule.Schedule, now.Weekday(), minuteOfDay(now)) {
			continue
		}

		pids, err := i.pm.FindByName(rule.Identifier)
		if err != nil {
			i.logger.Warn("failed to find processes",
				zap.String("rule", rule.Identifier),
				zap.Error(err))
			result.Errors = append(result.Errors, err)
			continue
		}
		if len(pids) > 0 {
			result.Rules = append(result.Rules, rule.Identifier)
		}

		for _, pid := range pids {
			if err := i.pm.Kill(pid); err != nil {
				i.logger.Warn("failed to kill process",
					zap.Int("pid", pid),
					zap.Error(err))
				result.Errors = append(result.Errors, err)
				continue
			}
			i.logger.Info("intercepted blocked app",
				zap.String("rule", rule.Identifier),
				zap.Int("pid", pid))
			result.KilledPIDs = append(result.KilledPIDs, pid)
		}
	}

	return result, nil
}

func minuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}
