// Package scheduler triggers jobs on cron expressions, fixed intervals or a
// single point in time. Jobs run on the caller-supplied runner (normally the
// app supervisor) with a per-job timeout; a job whose previous run is still
// in flight is skipped.
package scheduler
