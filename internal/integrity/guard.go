// Package integrity detects wall-clock manipulation by comparing wall-clock
// deltas against a tamper-resistant monotonic clock.
package integrity

// Checkpoint pairs a wall-clock reading with a monotonic reading taken at
// the same instant. The monotonic source (boot-relative elapsed time) is
// immune to user time changes.
type Checkpoint struct {
	WallMs int64
	MonoMs int64
}

// IsManipulated reports whether the wall clock was moved backward between the
// two checkpoints. Stateless and storage-free so it stays independently
// testable; persisting fresh checkpoints after a positive result is the
// caller's job, otherwise the same historical event is re-detected forever.
//
// Two signals:
//  1. The wall clock reads earlier than it did at the last checkpoint.
//  2. The device lived through more monotonic time than the wall clock
//     advanced (beyond slackMs), meaning the clock was set back mid-session.
func IsManipulated(last, now Checkpoint, slackMs int64) bool {
	if now.WallMs < last.WallMs {
		return true
	}

	wallDelta := now.WallMs - last.WallMs
	monoDelta := now.MonoMs - last.MonoMs
	return monoDelta > wallDelta+slackMs
}
