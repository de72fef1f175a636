package netutil

import (
	"testing"

	"golang.org/x/sys/unix"
)

func TestParseIPv4(t *testing.T) {
	cases := map[string]*[4]byte{
		"":          {0, 0, 0, 0},
		"0.0.0.0":   {0, 0, 0, 0},
		"127.0.0.1": {127, 0, 0, 1},
		"10.0.0.5":  {10, 0, 0, 5},
	}
	for host, want := range cases {
		got := parseIPv4(host)
		if got == nil || *got != *want {
			t.Errorf("parseIPv4(%q) = %v, want %v", host, got, want)
		}
	}
}

func TestParseIPv4Rejects(t *testing.T) {
	for _, host := range []string{"not.an.ip", "1.2.3", "1.2.3.4.5", "256.0.0.1"} {
		if parseIPv4(host) != nil {
			t.Errorf("parseIPv4(%q) should have returned nil", host)
		}
	}
}

func TestResolveSockaddrIPv6(t *testing.T) {
	sa, err := resolveSockaddr("::1", 8080)
	if err != nil {
		t.Fatalf("resolveSockaddr(::1): %v", err)
	}
	in6, ok := sa.(*unix.SockaddrInet6)
	if !ok {
		t.Fatalf("expected SockaddrInet6 for ::1, got %T", sa)
	}
	want := [16]byte{15: 1}
	if in6.Addr != want || in6.Port != 8080 {
		t.Errorf("resolveSockaddr(::1) = %v port %d", in6.Addr, in6.Port)
	}
}

func TestResolveSockaddrRejectsNonLiteral(t *testing.T) {
	for _, host := range []string{"localhost", "example.com", "256.0.0.1", "1.2.3"} {
		if _, err := resolveSockaddr(host, 80); err == nil {
			t.Errorf("resolveSockaddr(%q) should have failed rather than binding the wildcard", host)
		}
	}
}

func TestListenAndClose(t *testing.T) {
	fd, err := Listen("127.0.0.1", 0)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer unix.Close(fd)

	if fd < 0 {
		t.Error("expected a non-negative listener fd")
	}
}

func TestListenRejectsHostname(t *testing.T) {
	if fd, err := Listen("not-an-ip.example", 0); err == nil {
		unix.Close(fd)
		t.Fatal("Listen should reject a hostname Host instead of binding 0.0.0.0")
	}
}
