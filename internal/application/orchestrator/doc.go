// Package orchestrator implements the master workflow that chains the
// calendar, meeting and email teams.
//
// The manager drives a workflow phase by phase:
//   - Executing the active phase's team handler with a projection of the state
//   - Merging the handler output into typed state fields
//   - Evaluating the transition rule of the active phase
//   - Persisting the state after every phase and publishing master events
//
// A workflow whose rule is not satisfied halts awaiting an external event and
// is re-entered with Resume. The rechecker resumes workflows waiting on a
// meeting recording, and the sweeper evicts finished state on a schedule.
package orchestrator
