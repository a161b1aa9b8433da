package main

import (
	"fmt"
	"net"
	"sync"
)

const portAllocAttempts = 16

// portAllocator hands out free loopback ports for tunnel endpoints. A port
// issued once in a run is never issued again, even if the tunnel that got it
// failed to start.
type portAllocator struct {
	mu     sync.Mutex
	issued map[int]bool
}

func newPortAllocator() *portAllocator {
	return &portAllocator{issued: make(map[int]bool)}
}

// allocate binds an ephemeral listener on loopback, releases it, and returns
// the port the kernel picked. Another process can still grab the port between
// release and tunnel startup; the tunnel's own readiness check catches that.
func (a *portAllocator) allocate() (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var lastErr error
	for i := 0; i < portAllocAttempts; i++ {
		l, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			lastErr = err
			continue
		}
		port := l.Addr().(*net.TCPAddr).Port
		l.Close()
		if a.issued[port] {
			continue
		}
		a.issued[port] = true
		return port, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no unused port after %d attempts", portAllocAttempts)
	}
	return 0, &ResourceError{Op: "allocate local port", Err: lastErr}
}
