package httpcore

import (
	"bytes"
	"strconv"
	"strings"
	"testing"
)

func TestThreadStatsGaugesAndCounters(t *testing.T) {
	m := NewMetrics(2)

	m.Thread(0).ConnAccepted()
	m.Thread(0).ConnAccepted()
	m.Thread(0).ConnClosed()
	m.Thread(0).ReadError()
	m.Thread(0).RequestTimeout()
	m.Thread(0).WriteError()
	m.Thread(0).ClientReset()
	m.Thread(0).RefusedConn()
	m.Thread(0).RefusedActiveConn()
	m.Thread(0).MalformedReq()
	m.Thread(0).OOMFailure()
	m.Thread(0).RequestCompleted()

	snap := m.Thread(0).snapshot()
	if snap["num_conns"] != 2 {
		t.Errorf("Expected num_conns=2, got %d", snap["num_conns"])
	}
	if snap["active_conns"] != 1 {
		t.Errorf("Expected active_conns=1, got %d", snap["active_conns"])
	}
	for _, name := range []string{
		"read_errors", "request_timeouts", "write_errors", "client_resets",
		"refused_conns", "refused_active_conns", "malformed_reqs",
		"oom_failures", "num_requests",
	} {
		if snap[name] != 1 {
			t.Errorf("Expected %s=1, got %d", name, snap[name])
		}
	}

	// Thread 1 never touched, should stay zero.
	snap1 := m.Thread(1).snapshot()
	for _, v := range snap1 {
		if v != 0 {
			t.Errorf("Expected thread 1 counters to be zero, got %v", snap1)
			break
		}
	}
}

func TestConsumeRatesPreservesGauges(t *testing.T) {
	m := NewMetrics(1)
	s := m.Thread(0)
	s.ConnAccepted()
	s.ReadError()
	s.ReadError()

	first := s.consumeRates()
	if first["num_conns"] != 1 {
		t.Errorf("Expected num_conns gauge 1, got %d", first["num_conns"])
	}
	if first["read_errors"] != 2 {
		t.Errorf("Expected read_errors=2 on first consume, got %d", first["read_errors"])
	}

	second := s.consumeRates()
	if second["num_conns"] != 1 {
		t.Errorf("Expected num_conns gauge to persist across consume, got %d", second["num_conns"])
	}
	if second["read_errors"] != 0 {
		t.Errorf("Expected read_errors reset to 0 after consume, got %d", second["read_errors"])
	}
}

func TestWriteStats(t *testing.T) {
	m := NewMetrics(2)
	m.Thread(0).ConnAccepted()
	m.Thread(1).MalformedReq()

	var buf bytes.Buffer
	if err := m.WriteStats(&buf, false); err != nil {
		t.Fatalf("WriteStats failed: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "iothread.0.num_conns_sum: 1") {
		t.Errorf("Expected iothread.0.num_conns_sum: 1 in output, got:\n%s", out)
	}
	if !strings.Contains(out, "iothread.1.malformed_reqs_sum: 1") {
		t.Errorf("Expected iothread.1.malformed_reqs_sum: 1 in output, got:\n%s", out)
	}
	// Every required counter name must appear for every thread.
	for i := 0; i < 2; i++ {
		for _, name := range statNames {
			want := "iothread." + strconv.Itoa(i) + "." + name + "_sum:"
			if !strings.Contains(out, want) {
				t.Errorf("Expected %q in output, got:\n%s", want, out)
			}
		}
	}
}

func TestWriteStatsResetClearsRatesNotGauges(t *testing.T) {
	m := NewMetrics(1)
	m.Thread(0).ConnAccepted()
	m.Thread(0).ReadError()

	var buf1 bytes.Buffer
	_ = m.WriteStats(&buf1, true)
	if !strings.Contains(buf1.String(), "iothread.0.read_errors_sum: 1") {
		t.Errorf("Expected read_errors_sum: 1 on first scrape, got:\n%s", buf1.String())
	}

	var buf2 bytes.Buffer
	_ = m.WriteStats(&buf2, true)
	if !strings.Contains(buf2.String(), "iothread.0.read_errors_sum: 0") {
		t.Errorf("Expected read_errors_sum: 0 after reset scrape, got:\n%s", buf2.String())
	}
	if !strings.Contains(buf2.String(), "iothread.0.num_conns_sum: 1") {
		t.Errorf("Expected num_conns_sum gauge to persist, got:\n%s", buf2.String())
	}
}

func TestMetricsReset(t *testing.T) {
	m := NewMetrics(1)
	m.Thread(0).ConnAccepted()
	m.Thread(0).ReadError()

	m.Reset()

	snap := m.Thread(0).snapshot()
	for name, v := range snap {
		if v != 0 {
			t.Errorf("Expected %s=0 after Reset, got %d", name, v)
		}
	}
}

func TestObserver(t *testing.T) {
	observer := &NoOpObserver{}
	observer.ObserveConnAccepted(0)
	observer.ObserveReadError(0)
	observer.ObserveRequestCompleted(0)

	m := NewMetrics(1)
	metricsObserver := NewMetricsObserver(m)

	metricsObserver.ObserveConnAccepted(0)
	metricsObserver.ObserveRequestCompleted(0)
	metricsObserver.ObserveOOMFailure(0)

	snap := m.Thread(0).snapshot()
	if snap["num_conns"] != 1 {
		t.Errorf("Expected 1 conn from observer, got %d", snap["num_conns"])
	}
	if snap["num_requests"] != 1 {
		t.Errorf("Expected 1 request from observer, got %d", snap["num_requests"])
	}
	if snap["oom_failures"] != 1 {
		t.Errorf("Expected 1 oom failure from observer, got %d", snap["oom_failures"])
	}
}
