package domain

import "errors"

// Error classes surfaced by ports. The pure components (schedule evaluator,
// integrity guard) never error; everything else wraps one of these so the
// engine can abort a tick without changing published state.
var (
	ErrPersistenceRead  = errors.New("persistence read failure")
	ErrPersistenceWrite = errors.New("persistence write failure")
	ErrClockUnavailable = errors.New("clock unavailable")
)

// StateStore persists the two single-row ledgers.
// Load methods return nil (no error) when the row has never been written.
// Implementation: SQLCipher encrypted database, so the ledgers can't be
// reset by editing a preference file.
type StateStore interface {
	LoadPenaltyState() (*PenaltyState, error)
	SavePenaltyState(state PenaltyState) error

	LoadGraceState() (*GraceState, error)
	SaveGraceState(state GraceState) error
}

// RuleStore provides access to block rules. Identifier is the primary key;
// Upsert replaces any existing rule with the same identifier.
type RuleStore interface {
	GetAll() ([]BlockRule, error)
	GetByID(identifier string) (*BlockRule, error)
	Upsert(rule BlockRule) error
	Delete(identifier string) error
}

// TaskQuery is the read-only view of the task set the engine depends on.
// Task CRUD lives elsewhere; the engine only ever needs these three facts.
type TaskQuery interface {
	// CountActiveIncompleteNonDaily counts tasks that are incomplete and not
	// daily-recurring. Zero means there is nothing to enforce.
	CountActiveIncompleteNonDaily(nowMs int64) (int, error)

	// GetOverdueIncomplete lists incomplete tasks whose deadline has passed.
	GetOverdueIncomplete(nowMs int64) ([]TaskRef, error)

	// GetHardnessViolations lists incomplete tasks whose hardness-derived
	// commitment window has been violated. Hardness encodes "must finish N
	// days before deadline", so this triggers earlier than raw overdue.
	GetHardnessViolations(nowMs int64) ([]TaskRef, error)
}

// Clock abstracts the two time sources the engine reads.
// MonotonicMs must be immune to user wall-clock changes (boot-relative
// elapsed time); a read failure maps to ErrClockUnavailable.
type Clock interface {
	WallClockMs() int64
	MonotonicMs() (int64, error)
}

// ProcessManager handles OS process operations for the enforcement hook.
// Implementation: uses gopsutil for cross-platform support.
type ProcessManager interface {
	// FindByName returns PIDs of processes matching the pattern.
	FindByName(pattern string) ([]int, error)

	// Kill terminates a process by PID (SIGKILL).
	Kill(pid int) error

	// IsRunning checks if a PID exists and is running.
	IsRunning(pid int) bool
}
