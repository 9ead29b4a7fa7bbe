// Package market provides market-session rules and the price-source
// seam the execution engines consume.
package market

import (
	"fmt"
	"time"
)

// IndiaLocation is the timezone for Indian markets.
var IndiaLocation *time.Location

func init() {
	var err error
	IndiaLocation, err = time.LoadLocation("Asia/Kolkata")
	if err != nil {
		// Fallback to UTC+5:30
		IndiaLocation = time.FixedZone("IST", 5*60*60+30*60)
	}
}

// Session window in minutes since midnight IST: 09:15 to 15:30.
const (
	openMinute  = 9*60 + 15
	closeMinute = 15*60 + 30
)

// SessionSegment identifies the rule set to check. Equity and F&O
// share the same window today but are kept as separate rule sets
// because F&O additionally needs the expiry-day close cutoff.
type SessionSegment string

const (
	SessionEquity SessionSegment = "EQUITY"
	SessionFno    SessionSegment = "FNO"
)

// Verdict is the gate's answer: open, or closed with a reason.
type Verdict struct {
	Open   bool
	Reason string
}

// HoursGate answers whether a market segment is open. The clock is
// injectable so the gate stays a pure function of time under test.
type HoursGate struct {
	Now func() time.Time
}

// NewHoursGate creates a gate on the wall clock.
func NewHoursGate() *HoursGate {
	return &HoursGate{Now: time.Now}
}

// Check returns the open/closed verdict for the segment at the gate's
// current time.
func (g *HoursGate) Check(segment SessionSegment) Verdict {
	return g.CheckAt(segment, g.Now())
}

// CheckAt returns the verdict for the segment at an explicit time.
func (g *HoursGate) CheckAt(segment SessionSegment, t time.Time) Verdict {
	now := t.In(IndiaLocation)
	name := "equity market"
	if segment == SessionFno {
		name = "F&O market"
	}

	if wd := now.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return Verdict{Reason: fmt.Sprintf("%s closed: weekend (%s)", name, wd)}
	}

	minute := now.Hour()*60 + now.Minute()
	switch {
	case minute < openMinute:
		return Verdict{Reason: fmt.Sprintf("%s closed: opens at 09:15 IST", name)}
	case minute >= closeMinute:
		return Verdict{Reason: fmt.Sprintf("%s closed: closed at 15:30 IST", name)}
	}
	return Verdict{Open: true}
}

// CloseTime returns the session close (15:30 IST) on the given day.
func CloseTime(day time.Time) time.Time {
	d := day.In(IndiaLocation)
	return time.Date(d.Year(), d.Month(), d.Day(), 15, 30, 0, 0, IndiaLocation)
}
