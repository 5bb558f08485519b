// Package ports declares the interfaces the orchestration core consumes:
// team handlers, classifiers, stores, the event bus, metrics and the
// recording probe. Adapters under pkg/adapters implement them.
package ports
