// Package store provides a high-level interface for persistent key-value
// mappings with serialized, lost-update-free mutations and unified error
// handling. It defines the contract that concrete backends implement and
// a structured error system shared by all of them.
//
// The package focuses on:
//   - A unified interface (IStore) for key-value operations across backends
//   - A structured error system with typed return codes
//
// Key Components:
//
//   - IStore Interface: The core abstraction for interacting with a
//     persistent mapping of string keys to JSON-serializable values. All
//     implementations share this common interface, allowing applications to
//     switch between storage backends without code changes. Mutating
//     operations are atomic with respect to all other store instances on
//     the same backing path, across processes.
//
//   - Error System: A structured error reporting mechanism using typed
//     error codes and descriptive messages. Lock-acquisition timeouts
//     (RetCAcquireTimeout), document corruption (RetCParseError) and
//     filesystem failures (RetCInternalError) stay distinguishable so that
//     applications can react to specific conditions rather than generic
//     errors. Error values unwrap to their underlying cause and remain
//     compatible with errors.Is and errors.As.
//
// Implementations:
//
//   - File Store (fstore): A JSON document on the local filesystem, guarded
//     by the lockfile package for cross-process mutual exclusion. Every
//     mutation re-reads the on-disk document under the lock, applies the
//     change and writes the document back atomically, making lost updates
//     impossible. Available in the
//     "github.com/ValentinKolb/fKV/lib/store/fstore" package.
//
// This interface-driven approach allows applications to:
//   - Swap storage backends depending on deployment requirements
//   - Handle errors in a consistent and type-safe manner
//   - Abstract storage implementation details from application logic
package store
