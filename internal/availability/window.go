package availability

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Window is a half-open interval [Start, End).
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func NewWindow(start, end time.Time) Window {
	return Window{Start: start.UTC().Truncate(time.Minute), End: end.UTC().Truncate(time.Minute)}
}

func (w Window) Duration() time.Duration { return w.End.Sub(w.Start) }

func (w Window) Valid() bool { return w.End.After(w.Start) }

func (w Window) Overlaps(o Window) bool {
	return w.Start.Before(o.End) && o.Start.Before(w.End)
}

// Shift moves the window so it starts at start, keeping its duration.
func (w Window) Shift(start time.Time) Window {
	return Window{Start: start, End: start.Add(w.Duration())}
}

// Booking is an existing, non-canceled reservation on the instrument.
type Booking struct {
	ID     snowflake.ID
	Window Window
}
