package market

import (
	"context"
	"strings"
	"testing"
	"time"
)

func at(t *testing.T, value string) time.Time {
	t.Helper()
	ts, err := time.ParseInLocation("2006-01-02 15:04", value, IndiaLocation)
	if err != nil {
		t.Fatalf("parsing %q: %v", value, err)
	}
	return ts
}

func TestHoursGateEquitySessions(t *testing.T) {
	gate := NewHoursGate()

	tests := []struct {
		name   string
		when   string
		open   bool
		reason string
	}{
		{"mid-session", "2024-01-10 10:30", true, ""},
		{"open minute", "2024-01-10 09:15", true, ""},
		{"last minute", "2024-01-10 15:29", true, ""},
		{"before open", "2024-01-10 09:00", false, "opens at 09:15"},
		{"at close", "2024-01-10 15:30", false, "closed at 15:30"},
		{"after close", "2024-01-10 18:00", false, "closed at 15:30"},
		{"saturday", "2024-01-13 11:00", false, "weekend"},
		{"sunday", "2024-01-14 11:00", false, "weekend"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict := gate.CheckAt(SessionEquity, at(t, tt.when))
			if verdict.Open != tt.open {
				t.Fatalf("open = %v, want %v (reason %q)", verdict.Open, tt.open, verdict.Reason)
			}
			if !tt.open && !strings.Contains(verdict.Reason, tt.reason) {
				t.Errorf("reason = %q, want it to mention %q", verdict.Reason, tt.reason)
			}
		})
	}
}

func TestHoursGateFnoSegmentNamedInReason(t *testing.T) {
	gate := NewHoursGate()
	verdict := gate.CheckAt(SessionFno, at(t, "2024-01-13 11:00"))
	if verdict.Open {
		t.Fatal("F&O market open on a Saturday")
	}
	if !strings.Contains(verdict.Reason, "F&O") {
		t.Errorf("reason = %q, want F&O segment named", verdict.Reason)
	}
}

func TestStaticPriceSource(t *testing.T) {
	ctx := context.Background()
	src := NewStaticPriceSource(map[string]float64{"RELIANCE": 2500})

	px, err := src.GetPrice(ctx, "RELIANCE")
	if err != nil {
		t.Fatalf("GetPrice: %v", err)
	}
	if px != 2500 {
		t.Errorf("price = %v, want 2500", px)
	}

	if _, err := src.GetPrice(ctx, "TCS"); err == nil {
		t.Error("expected error for missing symbol")
	}

	src.Drop("RELIANCE")
	if _, err := src.GetPrice(ctx, "RELIANCE"); err == nil {
		t.Error("expected error after Drop")
	}
}
