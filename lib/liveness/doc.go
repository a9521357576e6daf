// Package liveness answers a single question: does a process with a given
// identifier currently exist on this machine?
//
// The package exists so that components which embed process identifiers in
// shared state (such as the lockfile package, which writes the owner PID into
// its marker files) can detect that an owner has died without cleaning up.
// The query is exposed as the IOracle interface rather than a free function
// so that callers can inject a fake oracle in tests and simulate crashed or
// long-lived owners deterministically.
//
// Platform Behavior:
//
//	On Unix-like systems the check sends signal 0 to the target process.
//	Signal 0 performs all error checking of a real signal delivery without
//	sending anything, so it reports existence without side effects. A
//	process owned by another user yields EPERM, which still proves the
//	process exists.
//
//	On Windows, os.FindProcess performs a real process table lookup and
//	fails for identifiers that are not in use, so its error result is the
//	existence check.
//
// The oracle gives a point-in-time answer. A process may exit between the
// query and any action taken on the result; callers that delete shared state
// based on a negative answer must combine the query with an atomic
// filesystem operation (as the lockfile package does with exclusive create).
package liveness
