// Package health provides composable probes and the liveness and readiness
// handlers mounted on both listeners.
//
// Readiness for the repository is All(store root is a directory, shutdown
// gate open). Once the gate is set during drain, readiness fails at once so
// load balancers stop routing before in-flight requests finish.
package health
