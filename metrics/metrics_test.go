package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/voronovmaksim88/modbus-tcp-slave-sim/common"
)

func counterValue(t *testing.T, c prometheus.Collector) float64 {
	t.Helper()
	ch := make(chan prometheus.Metric, 8)
	c.Collect(ch)
	close(ch)
	var total float64
	for m := range ch {
		var pb dto.Metric
		if err := m.Write(&pb); err != nil {
			t.Fatalf("Write: %v", err)
		}
		switch {
		case pb.Counter != nil:
			total += pb.Counter.GetValue()
		case pb.Gauge != nil:
			total += pb.Gauge.GetValue()
		}
	}
	return total
}

func TestNew_RegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	if m.RequestsTotal == nil || m.ExceptionsTotal == nil || m.ActiveConnections == nil || m.TelemetryDroppedTotal == nil {
		t.Fatal("New returned a Metrics with a nil collector")
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(families) == 0 {
		t.Fatal("expected at least one registered metric family")
	}
}

func TestObserveRequest_IncrementsByFunctionCode(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveRequest(common.FuncReadHoldingRegisters)
	m.ObserveRequest(common.FuncReadHoldingRegisters)
	m.ObserveRequest(common.FuncReadCoils)

	got := counterValue(t, m.RequestsTotal)
	if got != 3 {
		t.Errorf("RequestsTotal total = %v, want 3", got)
	}
}

func TestObserveException_Increments(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveException(common.ExceptionIllegalDataAddress)
	got := counterValue(t, m.ExceptionsTotal)
	if got != 1 {
		t.Errorf("ExceptionsTotal total = %v, want 1", got)
	}
}

func TestConnectionOpenedClosed_TracksGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ConnectionOpened()
	m.ConnectionOpened()
	if got := counterValue(t, m.ActiveConnections); got != 2 {
		t.Errorf("ActiveConnections = %v, want 2", got)
	}

	m.ConnectionClosed()
	if got := counterValue(t, m.ActiveConnections); got != 1 {
		t.Errorf("ActiveConnections = %v, want 1", got)
	}
}

func TestTelemetryDroppedTotal_Increments(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.TelemetryDroppedTotal.Inc()
	m.TelemetryDroppedTotal.Inc()
	if got := counterValue(t, m.TelemetryDroppedTotal); got != 2 {
		t.Errorf("TelemetryDroppedTotal = %v, want 2", got)
	}
}
