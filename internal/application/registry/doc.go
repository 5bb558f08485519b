// Package registry maps team names to team handlers.
//
// The registry is built once at process start and read concurrently
// afterwards. Lookups by name return a boolean rather than an error so that
// callers decide whether absence is fatal.
package registry
