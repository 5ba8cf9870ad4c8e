package market

import "time"

// Interval is a kline interval in Bybit notation: minutes as a number
// ("1", "5", "30", "60"), "D" for daily.
type Interval string

const (
	Interval1m  Interval = "1"
	Interval5m  Interval = "5"
	Interval15m Interval = "15"
	Interval30m Interval = "30"
	Interval1h  Interval = "60"
	IntervalDay Interval = "D"
)

// Duration returns the wall-clock length of one bar. Unknown intervals
// default to 30 minutes, matching the bot's widest supported cadence.
func (i Interval) Duration() time.Duration {
	switch i {
	case Interval1m:
		return time.Minute
	case Interval5m:
		return 5 * time.Minute
	case Interval15m:
		return 15 * time.Minute
	case Interval30m:
		return 30 * time.Minute
	case Interval1h:
		return time.Hour
	case IntervalDay:
		return 24 * time.Hour
	default:
		return 30 * time.Minute
	}
}

// Side is the direction of a position.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Valid reports whether the side is one of the two known directions.
func (s Side) Valid() bool { return s == SideLong || s == SideShort }

// Opposite returns the other direction; unknown sides map to themselves.
func (s Side) Opposite() Side {
	switch s {
	case SideLong:
		return SideShort
	case SideShort:
		return SideLong
	default:
		return s
	}
}
