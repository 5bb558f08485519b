// Package http provides the REST API of the orchestrator.
//
// Routes:
//
//	POST /api/v1/inputs                 route one input through the supervisor
//	GET  /api/v1/sessions/:id           fetch a persisted session
//	POST /api/v1/workflows              start a master workflow synchronously
//	POST /api/v1/triggers               enqueue a trigger for the worker pool
//	GET  /api/v1/workflows/:id          fetch master workflow state
//	POST /api/v1/workflows/:id/resume   resume a halted or failed workflow
//	GET  /api/v1/rules                  list active transition rules
//	GET  /api/v1/teams                  list registered teams
//	GET  /api/v1/sessions/:id/ws        stream session events
//	GET  /health, /metrics
package http
