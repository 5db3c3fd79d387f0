package indicator

import (
	"errors"
	"testing"
)

func TestMACDSeriesAlignment(t *testing.T) {
	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	m, err := MACDSeries(closes, 12, 26, 9)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.LineOffset != 25 {
		t.Fatalf("expected line offset 25, got %d", m.LineOffset)
	}
	if m.SignalOffset != 33 {
		t.Fatalf("expected signal offset 33, got %d", m.SignalOffset)
	}
	if len(m.Line) != len(closes)-m.LineOffset {
		t.Fatalf("line length %d does not align with offset", len(m.Line))
	}
	if len(m.Signal) != len(closes)-m.SignalOffset {
		t.Fatalf("signal length %d does not align with offset", len(m.Signal))
	}
	if len(m.Hist) != len(m.Signal) {
		t.Fatalf("hist length %d != signal length %d", len(m.Hist), len(m.Signal))
	}
	for i := range m.Signal {
		want := m.Line[i+m.SignalOffset-m.LineOffset] - m.Signal[i]
		if diff := m.Hist[i] - want; diff > 1e-9 || diff < -1e-9 {
			t.Fatalf("hist[%d] = %v, want %v", i, m.Hist[i], want)
		}
	}
}

func TestMACDSeriesInsufficientData(t *testing.T) {
	if _, err := MACDSeries([]float64{1, 2, 3}, 12, 26, 9); !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("expected ErrInsufficientData, got %v", err)
	}
}

func TestMACDSeriesShortSignal(t *testing.T) {
	closes := make([]float64, 28)
	for i := range closes {
		closes[i] = float64(i)
	}
	m, err := MACDSeries(closes, 12, 26, 9)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(m.Line) != 3 {
		t.Fatalf("expected 3 line values, got %d", len(m.Line))
	}
	if len(m.Signal) != 0 || len(m.Hist) != 0 {
		t.Fatalf("expected empty signal/hist before warm-up")
	}
}

func TestMACDSeriesUptrendPositive(t *testing.T) {
	closes := make([]float64, 80)
	for i := range closes {
		closes[i] = 100 * (1 + 0.01*float64(i))
	}
	m, err := MACDSeries(closes, 12, 26, 9)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Line[len(m.Line)-1] <= 0 {
		t.Fatalf("expected positive MACD in steady uptrend, got %v", m.Line[len(m.Line)-1])
	}
}
