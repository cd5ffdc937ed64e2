// Package processlock enforces that only one instance of a given process
// name runs at a time. It is grounded on the original orchestrator's
// abstract-namespace Unix socket lock: binding the same name twice fails,
// so the second bind is used purely as a collision signal.
package processlock

import (
	"fmt"
	"net"
)

// Lock holds the bound listener for as long as this process should keep
// running. Closing it (or exiting) releases the name for the next instance.
type Lock struct {
	ln net.Listener
}

// Acquire binds the abstract-namespace Unix socket "\0avmorch-"+name. A
// second process acquiring the same name gets EADDRINUSE. Unlike the
// original implementation — which swallowed the collision and called
// sys.exit() with no status, exiting 0 as if everything were fine — this
// treats collision as a fatal startup error and returns it to the caller,
// which must exit non-zero with the diagnostic.
func Acquire(name string) (*Lock, error) {
	addr := "@avmorch-" + name
	ln, err := net.Listen("unix", addr)
	if err != nil {
		return nil, fmt.Errorf("processlock: %q is already running: %w", name, err)
	}
	return &Lock{ln: ln}, nil
}

// Release closes the listener, freeing the name.
func (l *Lock) Release() error {
	return l.ln.Close()
}
