// Package scheduler maintains the single recurring post timer.
//
// At most one timer is armed at any moment. Each fire is one-shot: after
// the callback runs, the scheduler waits for the outcome (NotifyPosted on
// success, the callback's error otherwise) before arming the next cycle.
// Failed scheduled posts enter a bounded retry ladder; exhaustion is
// surfaced and the schedule falls back to the regular interval.
package scheduler
