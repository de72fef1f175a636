// Package netutil wires the substrate's socket options: listener
// construction with SO_REUSEADDR|SO_REUSEPORT (one listener per I/O
// thread, kernel load-balances accepts across them), and per-connection
// TCP_NODELAY / TCP_QUICKACK / SO_KEEPALIVE / non-blocking / close-on-exec.
package netutil

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sys/unix"
)

// Listen creates one IPv4 or IPv6 TCP listener bound to host:port with
// SO_REUSEADDR and SO_REUSEPORT set before bind, so that every I/O thread
// can independently call Listen on the same host:port and have the kernel
// distribute incoming connections across them.
func Listen(host string, port int) (int, error) {
	domain := unix.AF_INET
	sa, err := resolveSockaddr(host, port)
	if err != nil {
		return -1, err
	}
	if _, ok := sa.(*unix.SockaddrInet6); ok {
		domain = unix.AF_INET6
	}

	fd, err := unix.Socket(domain, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, err
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, err
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
		unix.Close(fd)
		return -1, err
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, err
	}
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

// ListenWithRetry calls Listen, retrying with exponential backoff if bind
// fails with EADDRINUSE — the SO_REUSEPORT group a restarting process wants
// to rejoin can take a few scheduler ticks to finish tearing down the prior
// listener on the same port. Every other error returns immediately.
func ListenWithRetry(ctx context.Context, host string, port int) (int, error) {
	return backoff.Retry(ctx, func() (int, error) {
		fd, err := Listen(host, port)
		if err == nil {
			return fd, nil
		}
		if err == unix.EADDRINUSE {
			return -1, err
		}
		return -1, backoff.Permanent(err)
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxElapsedTime(5*time.Second))
}

// resolveSockaddr maps an IP literal (v4 dotted-quad, v6, or "" for the
// v4 wildcard) to a bindable sockaddr. A host that is not an IP literal is
// an error: silently binding the wildcard on a typo'd Host would accept
// traffic on every interface the operator never asked to expose.
func resolveSockaddr(host string, port int) (unix.Sockaddr, error) {
	if ip4 := parseIPv4(host); ip4 != nil {
		return &unix.SockaddrInet4{Port: port, Addr: *ip4}, nil
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return nil, fmt.Errorf("netutil: host %q is not an IPv4 or IPv6 literal", host)
	}
	if v4 := ip.To4(); v4 != nil {
		var addr [4]byte
		copy(addr[:], v4)
		return &unix.SockaddrInet4{Port: port, Addr: addr}, nil
	}
	var addr [16]byte
	copy(addr[:], ip.To16())
	return &unix.SockaddrInet6{Port: port, Addr: addr}, nil
}

func parseIPv4(host string) *[4]byte {
	if host == "" || host == "0.0.0.0" {
		return &[4]byte{0, 0, 0, 0}
	}
	var out [4]byte
	octet, n, filled := 0, 0, 0
	for i := 0; i <= len(host); i++ {
		if i == len(host) || host[i] == '.' {
			if filled >= 4 || n == 0 {
				return nil
			}
			out[filled] = byte(octet)
			filled++
			octet, n = 0, 0
			continue
		}
		c := host[i]
		if c < '0' || c > '9' {
			return nil
		}
		octet = octet*10 + int(c-'0')
		if octet > 255 {
			return nil
		}
		n++
	}
	if filled != 4 {
		return nil
	}
	return &out
}

// Accept4 accepts a connection off listenFd with SOCK_NONBLOCK|SOCK_CLOEXEC
// already applied, returning the new fd and peer address.
func Accept4(listenFd int) (int, unix.Sockaddr, error) {
	return unix.Accept4(listenFd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
}

// TuneAccepted applies the per-connection socket options the accept path
// requires: TCP_NODELAY, TCP_QUICKACK, SO_KEEPALIVE.
func TuneAccepted(fd int) error {
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); err != nil {
		return err
	}
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_QUICKACK, 1); err != nil {
		return err
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1); err != nil {
		return err
	}
	return nil
}

// TCPInfo reads the kernel's struct tcp_info off fd and reports the subset
// Worker.GetTCPInfo promises its callers.
func TCPInfo(fd int) (rttMicros, rttVarMicros uint32, state uint8, err error) {
	info, err := unix.GetsockoptTCPInfo(fd, unix.IPPROTO_TCP, unix.TCP_INFO)
	if err != nil {
		return 0, 0, 0, err
	}
	return info.Rtt, info.Rttvar, info.State, nil
}
