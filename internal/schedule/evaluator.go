// Package schedule evaluates block-rule schedule descriptors.
// Everything here is pure: no I/O, no clock reads, no errors. Degenerate
// descriptors evaluate to inactive instead of panicking, so a malformed rule
// can never block (or unblock) by accident.
package schedule

import (
	"time"

	"github.com/commitgate/commitd/internal/domain"
)

const (
	minutesPerDay  = 24 * 60
	minutesPerWeek = 7 * minutesPerDay
)

// IsActiveNow reports whether the descriptor matches the given local
// day-of-week and minute-of-day. Callers check the rule's Enabled flag
// themselves; this only evaluates the time predicate.
func IsActiveNow(d domain.ScheduleDescriptor, day time.Weekday, minute int) bool {
	if minute < 0 || minute >= minutesPerDay {
		return false
	}

	switch d.Kind {
	case domain.ScheduleEveryday:
		return minuteInRange(minute, d.StartMinute, d.EndMinute)

	case domain.ScheduleWeekdays:
		return day >= time.Monday && day <= time.Friday &&
			minuteInRange(minute, d.StartMinute, d.EndMinute)

	case domain.ScheduleCustomDays:
		return dayMaskHas(d.DayMask, day) &&
			minuteInRange(minute, d.StartMinute, d.EndMinute)

	case domain.ScheduleCustomRange:
		return inCustomRange(d, day, minute)

	default:
		return false
	}
}

// minuteInRange tests the minute-of-day window. start <= end is an inclusive
// same-day range; start > end wraps overnight (e.g. 22:00-06:00).
func minuteInRange(minute, start, end int) bool {
	if !validMinute(start) || !validMinute(end) {
		return false
	}
	if start <= end {
		return minute >= start && minute <= end
	}
	// Overnight wrap.
	return minute >= start || minute <= end
}

// inCustomRange evaluates a single continuous (day, minute) -> (day, minute)
// interval that may cross midnight and the Saturday->Sunday week boundary.
//
// The interval is mapped onto a week-linear axis of minutes since Sunday
// 00:00. If the end does not come after the start on that axis, the range
// wraps the week and the end gets one week added. "now" is then tested both
// as-is and shifted by one week, which covers a now that falls in the
// wrapped tail (e.g. Sunday morning inside a Friday->Monday span).
func inCustomRange(d domain.ScheduleDescriptor, day time.Weekday, minute int) bool {
	// Fail-safe: a custom range without both day endpoints is permanently
	// inactive, never a guess and never a panic.
	if d.StartDay == nil || d.EndDay == nil {
		return false
	}
	if !validMinute(d.StartMinute) || !validMinute(d.EndMinute) {
		return false
	}
	if !validDay(*d.StartDay) || !validDay(*d.EndDay) {
		return false
	}

	start := weekLinear(*d.StartDay, d.StartMinute)
	end := weekLinear(*d.EndDay, d.EndMinute)
	now := weekLinear(day, minute)

	if end <= start {
		end += minutesPerWeek
	}

	if now >= start && now <= end {
		return true
	}
	shifted := now + minutesPerWeek
	return shifted >= start && shifted <= end
}

// weekLinear converts (day, minute) to minutes since Sunday 00:00.
func weekLinear(day time.Weekday, minute int) int {
	return int(day)*minutesPerDay + minute
}

// dayMaskHas tests the 7-bit day mask. Bit assignment follows time.Weekday:
// bit 0 = Sunday ... bit 6 = Saturday.
func dayMaskHas(mask uint8, day time.Weekday) bool {
	if !validDay(day) {
		return false
	}
	return mask&(1<<uint(day)) != 0
}

func validMinute(m int) bool {
	return m >= 0 && m < minutesPerDay
}

func validDay(d time.Weekday) bool {
	return d >= time.Sunday && d <= time.Saturday
}
