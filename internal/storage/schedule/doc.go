// Package schedule decides when periodic snapshots are taken.
//
// A Spec is parsed from a five-field cron expression, a legacy "HH:MM"
// pattern or an "@every <duration>" interval. Matches evaluates calendar
// specs as a pure function of time; the Scheduler owns the only mutable
// state, the time of the last trigger.
package schedule
