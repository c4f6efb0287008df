// Package infra implements infrastructure concerns (storage, clock, process).
package infra

import (
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sqlcipher "github.com/mutecomm/go-sqlcipher/v4"

	"github.com/commitgate/commitd/internal/domain"
)

// Ensure sqlcipher driver is registered.
var _ = sqlcipher.SQLiteDriver{}

const stateDBName = "state.db"

const msPerDay = int64(24 * time.Hour / time.Millisecond)

// EncryptedStore implements domain.StateStore, domain.RuleStore and
// domain.TaskQuery on a SQLCipher encrypted SQLite database.
//
// Everything the engine must trust lives in this one encrypted file: the
// penalty and grace rows, the block rules and the task table the queries
// read. Wiping it to escape a penalty also wipes the tasks and rules the
// user wants to keep, which is the point.
type EncryptedStore struct {
	db     *sql.DB
	dbPath string
}

// NewEncryptedStore opens (or creates) the encrypted state database.
// The key is used as the SQLCipher passphrase via PRAGMA key.
func NewEncryptedStore(dataDir string, key []byte) (*EncryptedStore, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, stateDBName)
	keyHex := hex.EncodeToString(key)

	dsn := fmt.Sprintf("%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096", dbPath, keyHex)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open encrypted database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to encrypted database: %w", err)
	}

	store := &EncryptedStore{db: db, dbPath: dbPath}
	if err := store.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return store, nil
}

func (s *EncryptedStore) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS penalty_state (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		penalty_end_ms INTEGER NOT NULL,
		violation_count INTEGER NOT NULL,
		checkpoint_wall_ms INTEGER NOT NULL,
		checkpoint_mono_ms INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS grace_state (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		balance INTEGER NOT NULL,
		last_earned_ms INTEGER NOT NULL,
		bonus_accrual INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS block_rules (
		identifier TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		enabled INTEGER NOT NULL,
		schedule_kind TEXT NOT NULL,
		day_mask INTEGER NOT NULL DEFAULT 0,
		start_minute INTEGER NOT NULL DEFAULT 0,
		end_minute INTEGER NOT NULL DEFAULT 1439,
		start_day INTEGER,
		end_day INTEGER
	);

	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		deadline_ms INTEGER NOT NULL,
		hardness_days INTEGER NOT NULL DEFAULT 0,
		daily INTEGER NOT NULL DEFAULT 0,
		completed INTEGER NOT NULL DEFAULT 0
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// --- domain.StateStore implementation ---

// LoadPenaltyState reads the single penalty row, nil if never written.
func (s *EncryptedStore) LoadPenaltyState() (*domain.PenaltyState, error) {
	var state domain.PenaltyState
	err := s.db.QueryRow(`
		SELECT penalty_end_ms, violation_count, checkpoint_wall_ms, checkpoint_mono_ms
		FROM penalty_state WHERE id = 1`).
		Scan(&state.PenaltyEndMs, &state.ViolationCount,
			&state.CheckpointWallMs, &state.CheckpointMonoMs)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: penalty state: %v", domain.ErrPersistenceRead, err)
	}
	return &state, nil
}

// SavePenaltyState upserts the single penalty row.
func (s *EncryptedStore) SavePenaltyState(state domain.PenaltyState) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO penalty_state
			(id, penalty_end_ms, violation_count, checkpoint_wall_ms, checkpoint_mono_ms)
		VALUES (1, ?, ?, ?, ?)`,
		state.PenaltyEndMs, state.ViolationCount,
		state.CheckpointWallMs, state.CheckpointMonoMs)
	if err != nil {
		return fmt.Errorf("%w: penalty state: %v", domain.ErrPersistenceWrite, err)
	}
	return nil
}

// LoadGraceState reads the single grace row, nil if never written.
func (s *EncryptedStore) LoadGraceState() (*domain.GraceState, error) {
	var state domain.GraceState
	err := s.db.QueryRow(`
		SELECT balance, last_earned_ms, bonus_accrual
		FROM grace_state WHERE id = 1`).
		Scan(&state.Balance, &state.LastEarnedMs, &state.BonusAccrual)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: grace state: %v", domain.ErrPersistenceRead, err)
	}
	return &state, nil
}

// SaveGraceState upserts the single grace row.
func (s *EncryptedStore) SaveGraceState(state domain.GraceState) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO grace_state (id, balance, last_earned_ms, bonus_accrual)
		VALUES (1, ?, ?, ?)`,
		state.Balance, state.LastEarnedMs, state.BonusAccrual)
	if err != nil {
		return fmt.Errorf("%w: grace state: %v", domain.ErrPersistenceWrite, err)
	}
	return nil
}

// --- domain.RuleStore implementation ---

// GetAll returns every block rule.
func (s *EncryptedStore) GetAll() ([]domain.BlockRule, error) {
	rows, err := s.db.Query(`
		SELECT identifier, kind, enabled, schedule_kind, day_mask,
		       start_minute, end_minute, start_day, end_day
		FROM block_rules ORDER BY identifier`)
	if err != nil {
		return nil, fmt.Errorf("%w: rules: %v", domain.ErrPersistenceRead, err)
	}
	defer rows.Close()

	var rules []domain.BlockRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: rules: %v", domain.ErrPersistenceRead, err)
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: rules: %v", domain.ErrPersistenceRead, err)
	}
	return rules, nil
}

// GetByID returns the rule for an identifier, nil if absent.
func (s *EncryptedStore) GetByID(identifier string) (*domain.BlockRule, error) {
	row := s.db.QueryRow(`
		SELECT identifier, kind, enabled, schedule_kind, day_mask,
		       start_minute, end_minute, start_day, end_day
		FROM block_rules WHERE identifier = ?`, identifier)

	rule, err := scanRule(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: rule %q: %v", domain.ErrPersistenceRead, identifier, err)
	}
	return &rule, nil
}

// Upsert replaces any rule with the same identifier.
func (s *EncryptedStore) Upsert(rule domain.BlockRule) error {
	var startDay, endDay sql.NullInt64
	if rule.Schedule.StartDay != nil {
		startDay = sql.NullInt64{Int64: int64(*rule.Schedule.StartDay), Valid: true}
	}
	if rule.Schedule.EndDay != nil {
		endDay = sql.NullInt64{Int64: int64(*rule.Schedule.EndDay), Valid: true}
	}

	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO block_rules
			(identifier, kind, enabled, schedule_kind, day_mask,
			 start_minute, end_minute, start_day, end_day)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rule.Identifier, string(rule.Kind), boolToInt(rule.Enabled),
		string(rule.Schedule.Kind), rule.Schedule.DayMask,
		rule.Schedule.StartMinute, rule.Schedule.EndMinute, startDay, endDay)
	if err != nil {
		return fmt.Errorf("%w: rule %q: %v", domain.ErrPersistenceWrite, rule.Identifier, err)
	}
	return nil
}

// Delete removes a rule; deleting an absent rule is not an error.
func (s *EncryptedStore) Delete(identifier string) error {
	_, err := s.db.Exec(`DELETE FROM block_rules WHERE identifier = ?`, identifier)
	if err != nil {
		return fmt.Errorf("%w: rule %q: %v", domain.ErrPersistenceWrite, identifier, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (domain.BlockRule, error) {
	var rule domain.BlockRule
	var kind, scheduleKind string
	var enabled int
	var startDay, endDay sql.NullInt64

	err := row.Scan(&rule.Identifier, &kind, &enabled, &scheduleKind,
		&rule.Schedule.DayMask, &rule.Schedule.StartMinute,
		&rule.Schedule.EndMinute, &startDay, &endDay)
	if err != nil {
		return domain.BlockRule{}, err
	}

	rule.Kind = domain.RuleKind(kind)
	rule.Enabled = enabled != 0
	rule.Schedule.Kind = domain.ScheduleKind(scheduleKind)
	if startDay.Valid {
		d := time.Weekday(startDay.Int64)
		rule.Schedule.StartDay = &d
	}
	if endDay.Valid {
		d := time.Weekday(endDay.Int64)
		rule.Schedule.EndDay = &d
	}
	return rule, nil
}

// --- domain.TaskQuery implementation ---
// Task CRUD is owned by the task layer; the engine only reads these three
// derived facts.

// CountActiveIncompleteNonDaily counts incomplete non-daily tasks.
func (s *EncryptedStore) CountActiveIncompleteNonDaily(nowMs int64) (int, error) {
	var count int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM tasks WHERE completed = 0 AND daily = 0`).
		Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("%w: task count: %v", domain.ErrPersistenceRead, err)
	}
	return count, nil
}

// GetOverdueIncomplete lists incomplete non-daily tasks past their deadline.
func (s *EncryptedStore) GetOverdueIncomplete(nowMs int64) ([]domain.TaskRef, error) {
	return s.taskRefs(`
		SELECT id, name FROM tasks
		WHERE completed = 0 AND daily = 0 AND deadline_ms < ?
		ORDER BY deadline_ms`, nowMs)
}

// GetHardnessViolations lists incomplete non-daily tasks whose
// hardness-derived commitment window ("finish N days before the deadline")
// has already been violated.
func (s *EncryptedStore) GetHardnessViolations(nowMs int64) ([]domain.TaskRef, error) {
	return s.taskRefs(`
		SELECT id, name FROM tasks
		WHERE completed = 0 AND daily = 0 AND hardness_days > 0
		  AND deadline_ms - hardness_days * ? < ?
		ORDER BY deadline_ms`, msPerDay, nowMs)
}

func (s *EncryptedStore) taskRefs(query string, args ...any) ([]domain.TaskRef, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: tasks: %v", domain.ErrPersistenceRead, err)
	}
	defer rows.Close()

	var refs []domain.TaskRef
	for rows.Next() {
		var ref domain.TaskRef
		if err := rows.Scan(&ref.ID, &ref.Name); err != nil {
			return nil, fmt.Errorf("%w: tasks: %v", domain.ErrPersistenceRead, err)
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: tasks: %v", domain.ErrPersistenceRead, err)
	}
	return refs, nil
}

// SeedTask inserts or replaces a task row. Used by tests and by the demo
// fixtures; the real task layer writes this table directly.
func (s *EncryptedStore) SeedTask(id, name string, deadlineMs int64, hardnessDays int, daily, completed bool) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO tasks (id, name, deadline_ms, hardness_days, daily, completed)
		VALUES (?, ?, ?, ?, ?, ?)`,
		id, name, deadlineMs, hardnessDays, boolToInt(daily), boolToInt(completed))
	if err != nil {
		return fmt.Errorf("%w: task %q: %v", domain.ErrPersistenceWrite, id, err)
	}
	return nil
}

// GetStorePath returns the database file path (for status and tests).
func (s *EncryptedStore) GetStorePath() string {
	return s.dbPath
}

// Close releases the database connection.
func (s *EncryptedStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Ensure EncryptedStore implements the three ports it serves.
var _ domain.StateStore = (*EncryptedStore)(nil)
var _ domain.RuleStore = (*EncryptedStore)(nil)
var _ domain.TaskQuery = (*EncryptedStore)(nil)
