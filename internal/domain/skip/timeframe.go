package skip

import (
	"fmt"
	"strings"
	"time"
)

// Unit is the unit of a Timeframe.
type Unit string

const (
	UnitDays   Unit = "days"
	UnitWeeks  Unit = "weeks"
	UnitMonths Unit = "months" // approximated as 30 days
	UnitYears  Unit = "years"  // approximated as 365 days
)

const day = 24 * time.Hour

// Timeframe is the trailing window used by the batch sweep.
type Timeframe struct {
	Value int
	Unit  Unit
}

// Known reports whether the unit is one of the supported units.
func (u Unit) Known() bool {
	switch Unit(strings.ToLower(string(u))) {
	case UnitDays, UnitWeeks, UnitMonths, UnitYears:
		return true
	default:
		return false
	}
}

// Duration converts the timeframe to a duration. Unknown units count as days.
func (t Timeframe) Duration() time.Duration {
	n := time.Duration(t.Value)
	switch Unit(strings.ToLower(string(t.Unit))) {
	case UnitWeeks:
		return n * 7 * day
	case UnitMonths:
		return n * 30 * day
	case UnitYears:
		return n * 365 * day
	default:
		return n * day
	}
}

// String returns e.g. "2 weeks".
func (t Timeframe) String() string {
	return fmt.Sprintf("%d %s", t.Value, t.Unit)
}
