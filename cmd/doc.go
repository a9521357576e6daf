// Package cmd implements the command-line interface for the fKV
// filesystem-backed key-value store. It provides a hierarchical command
// structure with operations for inspecting and mutating a backing file.
//
// The package is organized into several subpackages:
//
//   - kv: Commands for key-value store operations (get, set, delete, etc.)
//   - lock: Commands for lock operations (status, run)
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See fkv -help for a list of all commands.
package cmd
