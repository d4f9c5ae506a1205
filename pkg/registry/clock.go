package registry

import "time"

// Clock is injected so saturation timing can be driven by tests.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now()
}
