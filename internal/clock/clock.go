package clock

import (
	"time"

	"go.uber.org/fx"
)

var Module = fx.Module("clock",
	fx.Provide(func() Clock { return SystemClock{} }),
)

// Clock is the single source of wall-clock time for scheduled work.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now()
}

// Date truncates t to its calendar date in loc (t's own location when loc is nil)
// and returns it at UTC midnight.
// Calendar dates are stored and compared in this form.
func Date(t time.Time, loc *time.Location) time.Time {
	if loc != nil {
		t = t.In(loc)
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Today returns the current calendar date of c in loc.
func Today(c Clock, loc *time.Location) time.Time {
	return Date(c.Now(), loc)
}
