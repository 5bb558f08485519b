// Package storage provides session and master workflow state storage.
//
// Implementations:
//   - redis: JSON values with TTL, enumerated with SCAN
//   - memory: map-backed, for single-node deployments and tests
package storage
