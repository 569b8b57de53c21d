package events

import "sync/atomic"

// Flag is a level-triggered "playlist changed" signal. Any number of Set
// calls before the reader looks collapse into one observation.
type Flag struct {
	v atomic.Bool
}

func (f *Flag) Set() {
	f.v.Store(true)
}

// TestAndClear reports whether the flag was set, clearing it in the same step.
func (f *Flag) TestAndClear() bool {
	return f.v.CompareAndSwap(true, false)
}
