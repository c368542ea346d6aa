package health

import (
	"context"
	"errors"
	"net"
	"strconv"
	"testing"
	"time"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

func TestCheckTCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	if err := CheckTCP(context.Background(), port); err != nil {
		t.Errorf("expected listening port to pass, got: %v", err)
	}
}

func TestCheckTCPClosedPort(t *testing.T) {
	if err := CheckTCP(context.Background(), freePort(t)); err == nil {
		t.Error("expected closed port to fail")
	}
}

func TestWaitReadyListenerAppearsLater(t *testing.T) {
	port := freePort(t)

	go func() {
		time.Sleep(150 * time.Millisecond)
		ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
		if err != nil {
			return
		}
		time.Sleep(2 * time.Second)
		ln.Close()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := WaitReady(ctx, port, 20*time.Millisecond); err != nil {
		t.Errorf("WaitReady: %v", err)
	}
}

func TestWaitReadyGivesUpWithContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := WaitReady(ctx, freePort(t), 20*time.Millisecond)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("WaitReady = %v, want context.DeadlineExceeded", err)
	}
}
