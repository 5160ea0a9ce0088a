package archive

import (
	"fmt"
	"time"
)

// Timestamp is the nine-field broken-down calendar time carried by dump
// and digest headers. The fields mirror the archived representation:
// Year is years since 1900 and Mon is zero-based.
type Timestamp struct {
	Sec   int
	Min   int
	Hour  int
	Mday  int
	Mon   int
	Year  int
	Wday  int
	Yday  int
	Isdst int
}

// NewTimestamp breaks the given time down in the local time zone.
func NewTimestamp(t time.Time) Timestamp {
	t = t.Local()
	isdst := 0
	if t.IsDST() {
		isdst = 1
	}
	return Timestamp{
		Sec:   t.Second(),
		Min:   t.Minute(),
		Hour:  t.Hour(),
		Mday:  t.Day(),
		Mon:   int(t.Month()) - 1,
		Year:  t.Year() - 1900,
		Wday:  int(t.Weekday()),
		Yday:  t.YearDay() - 1,
		Isdst: isdst,
	}
}

// Time reassembles the wall-clock value in the local time zone. The
// derived Wday/Yday fields do not participate.
func (ts Timestamp) Time() time.Time {
	return time.Date(ts.Year+1900, time.Month(ts.Mon+1), ts.Mday,
		ts.Hour, ts.Min, ts.Sec, 0, time.Local)
}

// Unix returns the epoch seconds of the timestamp.
func (ts Timestamp) Unix() int64 {
	return ts.Time().Unix()
}

// Equal compares by epoch seconds, so two timestamps naming the same
// instant compare equal even if their derived fields differ.
func (ts Timestamp) Equal(other Timestamp) bool {
	return ts.Unix() == other.Unix()
}

// After reports whether ts names a later instant than other.
func (ts Timestamp) After(other Timestamp) bool {
	return ts.Unix() > other.Unix()
}

func (ts Timestamp) String() string {
	return ts.Time().Format(time.ANSIC)
}

func (ts Timestamp) encode(e *Encoder) error {
	for _, v := range [9]int{ts.Sec, ts.Min, ts.Hour, ts.Mday, ts.Mon, ts.Year, ts.Wday, ts.Yday, ts.Isdst} {
		if err := e.Int(v); err != nil {
			return fmt.Errorf("encode timestamp: %w", err)
		}
	}
	return nil
}

func (ts *Timestamp) decode(d *Decoder) error {
	fields := [9]*int{&ts.Sec, &ts.Min, &ts.Hour, &ts.Mday, &ts.Mon, &ts.Year, &ts.Wday, &ts.Yday, &ts.Isdst}
	for _, p := range fields {
		v, err := d.Int()
		if err != nil {
			return fmt.Errorf("decode timestamp: %w", err)
		}
		*p = v
	}
	return nil
}
