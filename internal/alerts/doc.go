// Package alerts tracks where each participant's support requests, reports
// and ban appeals were fanned out, so the staff member who claims one can
// retract the copies sent to everybody else.
//
// Retention: a thread is evicted when a staff member claims it, and each
// originator keeps at most the configured number of unclaimed records
// (oldest dropped first). Nothing is persisted; a restart forgets every
// pending alert.
package alerts
