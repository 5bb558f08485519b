// Package domain holds the types shared by the orchestration core.
//
// Inputs are a closed set of kinds (transcript, email, calendar) with a fixed
// mapping to teams. Supervisor sessions, master workflow states, progress
// events and bus events are plain structs serialized as JSON by the storage
// and event adapters.
package domain
