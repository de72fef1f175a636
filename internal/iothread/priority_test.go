package iothread

import (
	"testing"

	"golang.org/x/sys/unix"

	"github.com/appnexus/httpcore/internal/conn"
)

// Whenever an epoll batch mixes a listener accept event with an in-flight
// connection's event, partition must place the in-flight event in an
// earlier bucket than the listener so handleEvent processes it first.
func TestPartitionOrdersInFlightBeforeListener(t *testing.T) {
	th, _ := newTestThread(t)
	defer th.Close()

	inFlightFd := 999
	th.slots[0].Fd = inFlightFd
	th.slots[0].IOThread = th.cfg.Index
	_ = th.slots[0].Accept(inFlightFd, 1)
	_ = th.slots[0].BeginReading()
	if th.slots[0].State() != conn.StateReading {
		t.Fatalf("expected slot to be READING, got %v", th.slots[0].State())
	}
	th.fdToSlot[inFlightFd] = &th.slots[0]

	events := []unix.EpollEvent{
		{Fd: int32(th.listenFd), Events: unix.EPOLLIN},
		{Fd: int32(inFlightFd), Events: unix.EPOLLIN},
	}

	buckets := th.partition(events)

	foundInFlight := false
	for _, ev := range buckets[0] {
		if int(ev.Fd) == inFlightFd {
			foundInFlight = true
		}
	}
	if !foundInFlight {
		t.Error("expected the in-flight connection's event in bucket 0")
	}

	foundListener := false
	for _, ev := range buckets[2] {
		if int(ev.Fd) == th.listenFd {
			foundListener = true
		}
	}
	if !foundListener {
		t.Error("expected the listener's event in bucket 2")
	}

	for _, ev := range buckets[0] {
		if int(ev.Fd) == th.listenFd {
			t.Error("listener event must not share a bucket processed alongside or before the in-flight event")
		}
	}
}

// IDLE connections (bucket 1) still come before a fresh accept (bucket 2),
// even though they rank behind in-flight work.
func TestPartitionPutsIdleConnectionsAheadOfListener(t *testing.T) {
	th, _ := newTestThread(t)
	defer th.Close()

	idleFd := 998
	th.slots[0].Fd = idleFd
	_ = th.slots[0].Accept(idleFd, 1)
	th.fdToSlot[idleFd] = &th.slots[0]

	events := []unix.EpollEvent{
		{Fd: int32(th.listenFd), Events: unix.EPOLLIN},
		{Fd: int32(idleFd), Events: unix.EPOLLIN},
	}
	buckets := th.partition(events)

	if len(buckets[1]) != 1 || int(buckets[1][0].Fd) != idleFd {
		t.Error("expected the idle connection's event in bucket 1")
	}
	if len(buckets[2]) != 1 || int(buckets[2][0].Fd) != th.listenFd {
		t.Error("expected the listener's event in bucket 2")
	}
}
