// Package testing provides a reusable conformance test suite for
// implementations of the store.IStore interface. Backend packages call
// RunStoreTests from their own tests so that every implementation is held
// to the same contract: default handling, round-trip fidelity, mutation
// semantics and lost-update resistance under concurrent writers.
package testing
