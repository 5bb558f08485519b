// Package websocket provides real-time event streaming via WebSocket.
//
// Clients connect to /api/v1/sessions/:id/ws to receive progress, supervisor
// and master workflow events for one session.
package websocket
