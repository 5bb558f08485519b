// Package supervisor routes a single input to one team handler.
//
// A supervisor run is a three-node graph (routing, processing,
// finalization). Inputs with a declared kind are routed deterministically;
// only undeclared inputs reach the classifier. Stage failures are recorded
// on the state and the session, never retried.
package supervisor
