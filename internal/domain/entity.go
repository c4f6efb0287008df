// Package domain contains core business entities and interfaces.
// This is the innermost layer in Clean Architecture - no external dependencies.
package domain

import "time"

// Economy constants shared by the ledgers and the decision engine.
const (
	// MaxGraceDays caps the grace-day balance.
	MaxGraceDays = 3

	// BonusExchangeThreshold is how many bonus-task credits buy one grace day.
	BonusExchangeThreshold = 5

	// DefaultPenaltyDuration is how long a penalty window lasts.
	DefaultPenaltyDuration = 24 * time.Hour

	// DefaultGraceExpiry resets the grace balance after this long without earning.
	DefaultGraceExpiry = 7 * 24 * time.Hour

	// DefaultIntegritySlack tolerates this much monotonic/wall-clock drift
	// before a clock change counts as tampering.
	DefaultIntegritySlack = 60 * time.Second
)

// ScheduleKind selects how a schedule descriptor matches days.
type ScheduleKind string

const (
	ScheduleEveryday    ScheduleKind = "everyday"
	ScheduleWeekdays    ScheduleKind = "weekdays"
	ScheduleCustomDays  ScheduleKind = "custom_days"
	ScheduleCustomRange ScheduleKind = "custom_range"
)

// ScheduleDescriptor is the day/time predicate attached to a block rule.
//
// DayMask bit assignment follows time.Weekday: bit 0 = Sunday ... bit 6 =
// Saturday. StartMinute/EndMinute are minutes since local midnight in
// [0, 1439]. StartDay/EndDay are only consulted for ScheduleCustomRange,
// which expresses a single continuous span that may cross midnight and the
// Saturday->Sunday week boundary; if either day is nil the descriptor is
// permanently inactive.
type ScheduleDescriptor struct {
	Kind        ScheduleKind
	DayMask     uint8
	StartMinute int
	EndMinute   int
	StartDay    *time.Weekday
	EndDay      *time.Weekday
}

// RuleKind distinguishes app-package rules from URL-pattern rules.
type RuleKind string

const (
	RuleApp RuleKind = "app"
	RuleURL RuleKind = "url"
)

// BlockRule gates one app package or one URL pattern.
// Identifier is the primary key: exactly one rule per identifier.
type BlockRule struct {
	Identifier string
	Kind       RuleKind
	Enabled    bool
	Schedule   ScheduleDescriptor
}

// PenaltyState is the single persisted penalty-ledger row.
// A penalty is active iff now < PenaltyEndMs. PenaltyEndMs == 0 means unset.
// ViolationCount is monotonically non-decreasing. The checkpoint fields are
// the time-integrity guard's reference points (zero until first saved).
type PenaltyState struct {
	PenaltyEndMs     int64
	ViolationCount   int
	CheckpointWallMs int64
	CheckpointMonoMs int64
}

// GraceState is the single persisted grace-ledger row.
// Balance stays within [0, MaxGraceDays]; BonusAccrual counts completed
// bonus tasks not yet exchanged for grace.
type GraceState struct {
	Balance      int
	LastEarnedMs int64
	BonusAccrual int
}

// TaskRef identifies a task for logging and UI. The engine never reads full
// task data, only the three derived queries on TaskQuery.
type TaskRef struct {
	ID   string
	Name string
}
