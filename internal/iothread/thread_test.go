package iothread

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/appnexus/httpcore/internal/conn"
	"github.com/appnexus/httpcore/internal/reqid"
	"github.com/appnexus/httpcore/internal/rtbr"
)

func socketLocalAddr(fd int) (string, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return "", err
	}
	in4, ok := sa.(*unix.SockaddrInet4)
	if !ok {
		return "", fmt.Errorf("unexpected sockaddr type %T", sa)
	}
	return fmt.Sprintf("127.0.0.1:%d", in4.Port), nil
}

func newTestThread(t *testing.T) (*Thread, int) {
	t.Helper()
	global := rtbr.NewGlobal(0, 10*time.Millisecond)
	th, err := New(Config{
		Index:                0,
		Host:                 "127.0.0.1",
		Port:                 0,
		MaxTotalConnections:  8,
		MaxActiveConnections: 4,
		RequestTimeout:       time.Second,
		Global:               global,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return th, th.listenFd
}

func dialThread(t *testing.T, listenFd int) net.Conn {
	t.Helper()
	sa, err := socketLocalAddr(listenFd)
	if err != nil {
		t.Fatalf("local addr: %v", err)
	}
	c, err := net.DialTimeout("tcp", sa, 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return c
}

func TestSingleGetRoundTrip(t *testing.T) {
	th, listenFd := newTestThread(t)
	defer th.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go th.Run(ctx)
	defer cancel()

	c := dialThread(t, listenFd)
	defer c.Close()

	if _, err := c.Write([]byte("GET /a HTTP/1.1\r\nHost: x\r\n\r\n")); err != nil {
		t.Fatalf("write request: %v", err)
	}

	var gotID uint64
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if r, ok := th.TryRead(); ok {
			gotID = r.ID
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if gotID == 0 {
		t.Fatal("worker never observed the request")
	}

	f, ok := reqid.Decode(gotID, 1, 0)
	if !ok {
		t.Fatal("request id failed to decode")
	}
	if f.IOThread != 0 {
		t.Errorf("expected iothread 0, got %d", f.IOThread)
	}

	th.PostResponse(Response{RequestID: gotID, Buf: []byte("HTTP/1.1 200 OK\r\nContent-Length: 1\r\n\r\nA")})

	c.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 256)
	n, err := c.Read(buf)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	if string(buf[:n]) != "HTTP/1.1 200 OK\r\nContent-Length: 1\r\n\r\nA" {
		t.Errorf("unexpected response: %q", buf[:n])
	}
}

func TestRefusedConnWhenSlotsExhausted(t *testing.T) {
	global := rtbr.NewGlobal(0, 10*time.Millisecond)
	th, err := New(Config{
		Index:                0,
		Host:                 "127.0.0.1",
		Port:                 0,
		MaxTotalConnections:  1,
		MaxActiveConnections: 1,
		Global:               global,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer th.Close()

	if _, ok := th.popFreeSlot(); !ok {
		t.Fatal("expected one free slot available")
	}
	if _, ok := th.popFreeSlot(); ok {
		t.Fatal("expected no more free slots with MaxTotalConnections=1")
	}
}

func TestSlotAdmissionControlRefusesOverActiveCap(t *testing.T) {
	var th Thread
	th.cfg.MaxActiveConnections = 0
	var s conn.Slot
	_ = s.Accept(3, 1)
	th.activeConns = 0
	// Mirrors the admission check handleReadable applies, without calling
	// handleReadable itself.
	if th.activeConns >= th.cfg.MaxActiveConnections {
		// expected path for MaxActiveConnections=0: every connection is refused
		return
	}
	t.Fatal("expected admission control to refuse with MaxActiveConnections=0")
}
