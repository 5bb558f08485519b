// Package workers implements the worker pool that runs master workflow
// triggers delivered over the event bus.
//
// The pool subscribes once to the trigger topic and hands each event to a
// fixed number of goroutines that:
//   - Decode the trigger envelope
//   - Start a new master workflow or resume a halted one
//   - Record the outcome as a metric
//
// The health monitor publishes pool gauges and flags workers stuck on one
// trigger past the stall threshold.
package workers
