package scheduler

import "time"

// Every fires at a fixed interval. A non-positive interval never fires.
type Every time.Duration

func (e Every) Next(after time.Time) time.Time {
	if e <= 0 {
		return time.Time{}
	}
	return after.Add(time.Duration(e))
}

func (e Every) String() string {
	if e <= 0 {
		return "@never"
	}
	return "@every " + time.Duration(e).String()
}
