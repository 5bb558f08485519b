// Package progress tracks per-session progress and publishes it.
//
// Percent values are monotonic within a tracking window: an update whose
// percent does not exceed the last recorded value is dropped. Complete and
// Fail close the window and evict the session. Every accepted event is
// published on the progress topic and mirrored to the session store; both
// are best effort.
package progress
