package main

import (
	"fmt"
	"net"
	"testing"
)

func TestPortAllocatorDistinct(t *testing.T) {
	a := newPortAllocator()
	seen := make(map[int]bool)
	for i := 0; i < 5; i++ {
		port, err := a.allocate()
		if err != nil {
			t.Fatalf("allocate() error: %v", err)
		}
		if port <= 0 || port > 65535 {
			t.Fatalf("allocate() = %d, not a valid port", port)
		}
		if seen[port] {
			t.Fatalf("allocate() returned %d twice", port)
		}
		seen[port] = true
	}
}

func TestPortAllocatorPortIsBindable(t *testing.T) {
	a := newPortAllocator()
	port, err := a.allocate()
	if err != nil {
		t.Fatalf("allocate() error: %v", err)
	}
	l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		t.Fatalf("listen on allocated port %d: %v", port, err)
	}
	l.Close()
}
