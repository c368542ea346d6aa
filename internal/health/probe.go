// Package health tells when a freshly started dev server is accepting
// connections on its port.
package health

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"
)

// DefaultInterval is the delay between readiness probes.
const DefaultInterval = 250 * time.Millisecond

// CheckTCP dials 127.0.0.1:port once.
func CheckTCP(ctx context.Context, port int) error {
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("tcp connect failed: %w", err)
	}
	conn.Close()
	return nil
}

// WaitReady probes port every interval until it accepts a connection or ctx
// is done. It returns ctx's error in the latter case.
func WaitReady(ctx context.Context, port int, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		probeCtx, cancel := context.WithTimeout(ctx, interval)
		err := CheckTCP(probeCtx, port)
		cancel()
		if err == nil {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
