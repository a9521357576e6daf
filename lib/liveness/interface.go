package liveness

// IOracle reports whether a process with a given identifier currently
// exists. Implementations must be safe for concurrent use.
type IOracle interface {
	// Alive returns true if a process with the given pid exists right now.
	// A pid that cannot be signalled for permission reasons still counts
	// as alive. Non-positive pids are never alive.
	Alive(pid int) bool
}

// New returns the platform-default oracle backed by the local process table.
func New() IOracle {
	return oracleImpl{}
}
