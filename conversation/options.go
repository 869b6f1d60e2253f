package conversation

import "time"

type options struct {
	now      func() time.Time
	observer Observer
}

// Option configures a Store backend.
type Option func(*options)

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithObserver reports every operation to obs.
func WithObserver(obs Observer) Option {
	return func(o *options) {
		if obs != nil {
			o.observer = obs
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now, observer: nopObserver{}}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
