// Package fstore implements the store.IStore interface on top of a single
// JSON document on the local filesystem, guarded by the lockfile package
// for cross-process mutual exclusion.
//
// Implementation Approach:
//
//	Every mutating operation acquires the lock for the backing path,
//	re-reads the current on-disk document, applies the mutation to that
//	freshly loaded state and writes it back. Starting from the on-disk
//	document rather than the possibly stale in-memory copy is essential:
//	two store instances in different processes must each base their
//	mutation on the freshest committed state, otherwise one silently
//	overwrites the other's prior write (a lost update).
//
//	Documents are written by serializing to a temporary file in the same
//	directory and renaming it over the backing path. Rename within one
//	filesystem is atomic, so a concurrent reader never observes a
//	partially written document.
//
//	The in-memory mirror of the document is held in a concurrent map so
//	that mapping-like queries (Get, Has, Len, Keys) are safe from any
//	goroutine without touching the filesystem or the lock.
//
// Defaults:
//
//	A store is constructed with an optional default mapping. If the
//	backing file does not exist, the defaults are written immediately and
//	become the initial document. If it exists, its content is loaded
//	as-is: defaults apply only at first contact, so a default key deleted
//	from the document stays deleted across later mutations.
//
// Failure Policy:
//
//	If the lock cannot be acquired within the store's timeout, the
//	mutation fails with a store.Error carrying RetCAcquireTimeout and the
//	in-memory mirror is left unchanged. A backing document that is not
//	valid JSON surfaces RetCParseError rather than silently discarding
//	data. Filesystem failures surface RetCInternalError.
package fstore
