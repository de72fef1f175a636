package httpcore

import (
	"fmt"
	"io"
	"sync/atomic"
)

// statNames lists the per-I/O-thread stats counters in the order they are
// rendered into the stats stream.
var statNames = []string{
	"num_conns", "active_conns", "read_errors", "request_timeouts",
	"write_errors", "client_resets", "refused_conns",
	"refused_active_conns", "malformed_reqs", "oom_failures",
	"num_requests",
}

// ThreadStats holds the counters for a single I/O thread. num_conns and
// active_conns are gauges (never reset by a scrape); the rest are rate
// counters, atomically fetched-and-cleared by consumeRates.
type ThreadStats struct {
	NumConns            atomic.Int64 // gauge
	ActiveConns         atomic.Int64 // gauge
	ReadErrors          atomic.Uint64
	RequestTimeouts     atomic.Uint64
	WriteErrors         atomic.Uint64
	ClientResets        atomic.Uint64
	RefusedConns        atomic.Uint64
	RefusedActiveConns  atomic.Uint64
	MalformedReqs       atomic.Uint64
	OOMFailures         atomic.Uint64
	NumRequests         atomic.Uint64
}

// ConnAccepted records a newly admitted connection.
func (s *ThreadStats) ConnAccepted() {
	s.NumConns.Add(1)
	s.ActiveConns.Add(1)
}

// ConnClosed records a connection leaving the active set.
func (s *ThreadStats) ConnClosed() {
	s.ActiveConns.Add(-1)
}

// ReadError records a transient or fatal read-side I/O error.
func (s *ThreadStats) ReadError() { s.ReadErrors.Add(1) }

// RequestTimeout records a connection force-closed by the timeout scanner.
func (s *ThreadStats) RequestTimeout() { s.RequestTimeouts.Add(1) }

// WriteError records a write-side I/O error.
func (s *ThreadStats) WriteError() { s.WriteErrors.Add(1) }

// ClientReset records a peer reset (ECONNRESET on read, EPIPE on write); an
// EOF mid-request is counted by MalformedReq instead.
func (s *ThreadStats) ClientReset() { s.ClientResets.Add(1) }

// RefusedConn records an accept-time admission refusal (slot table full).
func (s *ThreadStats) RefusedConn() { s.RefusedConns.Add(1) }

// RefusedActiveConn records an admission refusal due to the active-connection
// cap specifically (as distinct from the total-slot cap).
func (s *ThreadStats) RefusedActiveConn() { s.RefusedActiveConns.Add(1) }

// MalformedReq records a parse failure.
func (s *ThreadStats) MalformedReq() { s.MalformedReqs.Add(1) }

// OOMFailure records an arena/pool allocation failure.
func (s *ThreadStats) OOMFailure() { s.OOMFailures.Add(1) }

// RequestCompleted records a request whose response was fully written.
func (s *ThreadStats) RequestCompleted() { s.NumRequests.Add(1) }

// snapshot returns the current value of every counter, gauges included.
func (s *ThreadStats) snapshot() map[string]uint64 {
	return map[string]uint64{
		"num_conns":             uint64(s.NumConns.Load()),
		"active_conns":          uint64(s.ActiveConns.Load()),
		"read_errors":           s.ReadErrors.Load(),
		"request_timeouts":      s.RequestTimeouts.Load(),
		"write_errors":          s.WriteErrors.Load(),
		"client_resets":         s.ClientResets.Load(),
		"refused_conns":         s.RefusedConns.Load(),
		"refused_active_conns":  s.RefusedActiveConns.Load(),
		"malformed_reqs":        s.MalformedReqs.Load(),
		"oom_failures":          s.OOMFailures.Load(),
		"num_requests":          s.NumRequests.Load(),
	}
}

// consumeRates reads every rate counter's current value and atomically
// clears it, leaving the two gauges (num_conns, active_conns) untouched.
func (s *ThreadStats) consumeRates() map[string]uint64 {
	vals := map[string]uint64{
		"num_conns":    uint64(s.NumConns.Load()),
		"active_conns": uint64(s.ActiveConns.Load()),
	}
	vals["read_errors"] = s.ReadErrors.Swap(0)
	vals["request_timeouts"] = s.RequestTimeouts.Swap(0)
	vals["write_errors"] = s.WriteErrors.Swap(0)
	vals["client_resets"] = s.ClientResets.Swap(0)
	vals["refused_conns"] = s.RefusedConns.Swap(0)
	vals["refused_active_conns"] = s.RefusedActiveConns.Swap(0)
	vals["malformed_reqs"] = s.MalformedReqs.Swap(0)
	vals["oom_failures"] = s.OOMFailures.Swap(0)
	vals["num_requests"] = s.NumRequests.Swap(0)
	return vals
}

// Metrics aggregates per-I/O-thread ThreadStats and renders them as the
// text stats stream scrape consumers read.
type Metrics struct {
	threads []*ThreadStats
}

// NewMetrics allocates a Metrics with one ThreadStats per I/O thread.
func NewMetrics(numThreads int) *Metrics {
	m := &Metrics{threads: make([]*ThreadStats, numThreads)}
	for i := range m.threads {
		m.threads[i] = &ThreadStats{}
	}
	return m
}

// Thread returns the ThreadStats for the given I/O thread index.
func (m *Metrics) Thread(i int) *ThreadStats {
	return m.threads[i]
}

// WriteStats writes the required `iothread.<i>.<name>_sum: <value>` lines
// for every thread into w. reset selects whether rate counters are
// fetched-and-cleared (a real scrape) or merely read (a debug snapshot).
func (m *Metrics) WriteStats(w io.Writer, reset bool) error {
	for i, t := range m.threads {
		var vals map[string]uint64
		if reset {
			vals = t.consumeRates()
		} else {
			vals = t.snapshot()
		}
		for _, name := range statNames {
			if _, err := fmt.Fprintf(w, "iothread.%d.%s_sum: %d\n", i, name, vals[name]); err != nil {
				return err
			}
		}
	}
	return nil
}

// Reset zeroes every counter across every thread, gauges included. Intended
// for test setup, not production scrapes (use WriteStats(w, true) for that).
func (m *Metrics) Reset() {
	for _, t := range m.threads {
		t.NumConns.Store(0)
		t.ActiveConns.Store(0)
		t.ReadErrors.Store(0)
		t.RequestTimeouts.Store(0)
		t.WriteErrors.Store(0)
		t.ClientResets.Store(0)
		t.RefusedConns.Store(0)
		t.RefusedActiveConns.Store(0)
		t.MalformedReqs.Store(0)
		t.OOMFailures.Store(0)
		t.NumRequests.Store(0)
	}
}

// Observer allows pluggable metrics collection per connection-facing event,
// decoupling internal/conn and internal/iothread from the concrete Metrics
// type.
type Observer interface {
	ObserveConnAccepted(iothread int)
	ObserveConnClosed(iothread int)
	ObserveReadError(iothread int)
	ObserveRequestTimeout(iothread int)
	ObserveWriteError(iothread int)
	ObserveClientReset(iothread int)
	ObserveRefusedConn(iothread int)
	ObserveRefusedActiveConn(iothread int)
	ObserveMalformedReq(iothread int)
	ObserveOOMFailure(iothread int)
	ObserveRequestCompleted(iothread int)
}

// NoOpObserver discards every event.
type NoOpObserver struct{}

func (NoOpObserver) ObserveConnAccepted(int)      {}
func (NoOpObserver) ObserveConnClosed(int)         {}
func (NoOpObserver) ObserveReadError(int)          {}
func (NoOpObserver) ObserveRequestTimeout(int)     {}
func (NoOpObserver) ObserveWriteError(int)         {}
func (NoOpObserver) ObserveClientReset(int)        {}
func (NoOpObserver) ObserveRefusedConn(int)        {}
func (NoOpObserver) ObserveRefusedActiveConn(int)  {}
func (NoOpObserver) ObserveMalformedReq(int)       {}
func (NoOpObserver) ObserveOOMFailure(int)         {}
func (NoOpObserver) ObserveRequestCompleted(int)   {}

// MetricsObserver implements Observer by recording into a Metrics instance.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an Observer that records into m.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveConnAccepted(i int)     { o.metrics.Thread(i).ConnAccepted() }
func (o *MetricsObserver) ObserveConnClosed(i int)        { o.metrics.Thread(i).ConnClosed() }
func (o *MetricsObserver) ObserveReadError(i int)         { o.metrics.Thread(i).ReadError() }
func (o *MetricsObserver) ObserveRequestTimeout(i int)    { o.metrics.Thread(i).RequestTimeout() }
func (o *MetricsObserver) ObserveWriteError(i int)        { o.metrics.Thread(i).WriteError() }
func (o *MetricsObserver) ObserveClientReset(i int)       { o.metrics.Thread(i).ClientReset() }
func (o *MetricsObserver) ObserveRefusedConn(i int)       { o.metrics.Thread(i).RefusedConn() }
func (o *MetricsObserver) ObserveRefusedActiveConn(i int) { o.metrics.Thread(i).RefusedActiveConn() }
func (o *MetricsObserver) ObserveMalformedReq(i int)      { o.metrics.Thread(i).MalformedReq() }
func (o *MetricsObserver) ObserveOOMFailure(i int)        { o.metrics.Thread(i).OOMFailure() }
func (o *MetricsObserver) ObserveRequestCompleted(i int)  { o.metrics.Thread(i).RequestCompleted() }

var _ Observer = (*MetricsObserver)(nil)
var _ Observer = (*NoOpObserver)(nil)
