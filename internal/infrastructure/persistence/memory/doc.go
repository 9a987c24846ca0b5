// Package memory provides in-process implementations of the repository,
// lock and wallet contracts. They back single-instance deployments and the
// application tests; every read returns a copy so callers never share state
// with the store.
package memory
