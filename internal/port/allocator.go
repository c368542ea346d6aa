// Package port hands out TCP ports to dev servers so that two projects
// started side by side do not fight over the framework's default port.
package port

import (
	"fmt"
	"net"
	"strconv"
	"sync"
)

// Allocator assigns ports from [min, max] to keys, one per running dev server.
type Allocator struct {
	mu      sync.Mutex
	minPort int
	maxPort int
	next    int
	byKey   map[string]int
	byPort  map[int]string
	probe   func(port int) bool
}

// NewAllocator creates an allocator for the inclusive range [minPort, maxPort].
func NewAllocator(minPort, maxPort int) *Allocator {
	if maxPort < minPort {
		minPort, maxPort = maxPort, minPort
	}
	return &Allocator{
		minPort: minPort,
		maxPort: maxPort,
		next:    minPort,
		byKey:   make(map[string]int),
		byPort:  make(map[int]string),
		probe:   isPortAvailable,
	}
}

// Allocate returns a free port for key. Calling it again for the same key
// returns the same port until Release. Ports are handed out round-robin so a
// just-released port is not immediately reused by another server.
func (a *Allocator) Allocate(key string) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if p, ok := a.byKey[key]; ok {
		return p, nil
	}

	span := a.maxPort - a.minPort + 1
	for i := 0; i < span; i++ {
		p := a.next
		a.next++
		if a.next > a.maxPort {
			a.next = a.minPort
		}

		if _, taken := a.byPort[p]; taken {
			continue
		}
		if !a.probe(p) {
			continue
		}
		a.byKey[key] = p
		a.byPort[p] = key
		return p, nil
	}

	return 0, fmt.Errorf("no available ports in range %d-%d", a.minPort, a.maxPort)
}

// Release frees the port held by key, if any.
func (a *Allocator) Release(key string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if p, ok := a.byKey[key]; ok {
		delete(a.byPort, p)
		delete(a.byKey, key)
	}
}

// Port returns the port held by key, or 0.
func (a *Allocator) Port(key string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.byKey[key]
}

// Env renders a port as the PORT environment entry dev servers read.
func Env(p int) string {
	return "PORT=" + strconv.Itoa(p)
}

func isPortAvailable(port int) bool {
	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		return false
	}
	ln.Close()
	return true
}
