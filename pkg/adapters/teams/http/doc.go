// Package http adapts remote team services and the meeting recording
// service to the orchestration ports over JSON/HTTP.
package http
