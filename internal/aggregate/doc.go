// Package aggregate collapses bursts of album fragments into one batch.
//
// Each group id has at most one open batch. The first fragment opens it and
// arms a single deadline timer; later fragments append while it is open.
// When the deadline fires, the batch is claimed under the buffer mutex
// (marked closed and removed from the map) and then delivered once outside
// the lock. A fragment that arrives after the claim opens a fresh batch.
package aggregate
