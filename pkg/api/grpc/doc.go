// Package grpc serves the standard gRPC health checking protocol for the
// orchestrator, driven by the worker pool health monitor.
package grpc
