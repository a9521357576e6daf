package store

import (
	"encoding/json"
	"fmt"
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// IStore is the generic interface for a persistent key-value mapping with
// serialized, lost-update-free mutations. Keys are strings, values are
// JSON-serializable. All write operations return only an error (nil on
// success), read operations return the requested data along with an error.
type IStore interface {
	// Set inserts or updates a key-value pair. The value must be
	// JSON-serializable.
	Set(key string, value any) (err error)
	// SetDefault inserts a key-value pair only if the key does not exist.
	// No error is returned if the key is already present.
	SetDefault(key string, value any) (err error)
	// Update applies all entries of the given mapping in one mutation.
	Update(entries map[string]any) (err error)
	// Delete removes a key-value pair. Deleting an absent key is a no-op.
	Delete(key string) (err error)
	// Get returns the raw JSON value for a key from the in-memory mirror.
	// The boolean return value indicates whether the key was found.
	Get(key string) (value json.RawMessage, loaded bool, err error)
	// Has returns whether a key exists in the store.
	Has(key string) (loaded bool, err error)
	// Len returns the number of keys in the store.
	Len() int
	// Keys returns all keys in the store, in no particular order.
	Keys() []string
	// Load re-reads the backing document under the lock and returns it.
	// The in-memory mirror is refreshed as a side effect.
	Load() (doc map[string]json.RawMessage, err error)
	// Save writes the in-memory mirror back to disk under the lock.
	Save() (err error)
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is a custom error type that wraps a return code (of type RetCode),
// an error message and an optional underlying cause.
type Error struct {
	Code  RetCode // The return code
	Msg   string  // The error message
	Cause error   // The underlying error, if any
}

// Error implements the error interface.
func (e *Error) Error() string {
	errorCode := ""
	switch e.Code {
	case RetCInternalError:
		errorCode = "InternalError"
	case RetCAcquireTimeout:
		errorCode = "AcquireTimeout"
	case RetCParseError:
		errorCode = "ParseError"
	case RetCInvalidOperation:
		errorCode = "InvalidOperation"
	default:
		errorCode = "Unknown"
	}

	if e.Cause != nil {
		return fmt.Sprintf("StoreError (code %s): %s: %v", errorCode, e.Msg, e.Cause)
	}
	return fmt.Sprintf("StoreError (code %s): %s", errorCode, e.Msg)
}

// Unwrap exposes the underlying cause for errors.Is / errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new store Error with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{Code: code, Msg: msg}
}

// WrapError creates a new store Error wrapping an underlying cause.
func WrapError(code RetCode, msg string, cause error) *Error {
	return &Error{Code: code, Msg: msg, Cause: cause}
}

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess          RetCode = iota // 0: Command executed successfully.
	RetCInternalError                   // 1: Command failed due to a filesystem or encoding error.
	RetCAcquireTimeout                  // 2: The backing-path lock stayed contended past its timeout.
	RetCParseError                      // 3: The backing document exists but is not a valid JSON object.
	RetCInvalidOperation                // 4: Invalid operation (e.g. a value that cannot be serialized).
)
