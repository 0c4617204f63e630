package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilCollectorsAreNoops(t *testing.T) {
	var r *Relay
	r.ConnOpened()
	r.Dropped("offline")
	var c *Calls
	c.Started("caller")
	c.CandidateFailed()
}

func TestCallCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCalls(reg)
	c.Started("caller")
	c.Ended("hangup")
	c.CandidateBuffered()
	c.CandidateBuffered()

	if got := testutil.ToFloat64(c.buffered); got != 2 {
		t.Fatalf("buffered = %v, want 2", got)
	}
	expected := `
# HELP tribecall_call_ended_total Call sessions ended, by reason.
# TYPE tribecall_call_ended_total counter
tribecall_call_ended_total{reason="hangup"} 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "tribecall_call_ended_total"); err != nil {
		t.Fatal(err)
	}
}

func TestRelayGauge(t *testing.T) {
	r := NewRelay(prometheus.NewRegistry())
	r.ConnOpened()
	r.ConnOpened()
	r.ConnClosed()
	if got := testutil.ToFloat64(r.connections); got != 1 {
		t.Fatalf("connections = %v, want 1", got)
	}
}
