package reconciler

import "time"

// NextTickForTest exposes the scheduler's tick computation to the external
// test package.
func NextTickForTest(s *Scheduler, now time.Time) time.Time {
	return s.nextTick(now)
}
