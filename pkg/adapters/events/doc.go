// Package events provides event bus implementations.
//
// Implementations:
//   - redis: Redis Streams with consumer groups, one stream per topic
//   - memory: in-process fan-out for single-node deployments and tests
package events
