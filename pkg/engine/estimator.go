package engine

import "time"

// estimator keeps the exponential moving average of the time between MAC
// enqueue and successful transmission, in seconds.
type estimator struct {
	alpha float64
	avg   float64
}

func (e *estimator) observe(d time.Duration) {
	e.avg = e.alpha*e.avg + (1-e.alpha)*d.Seconds()
}

func (e *estimator) average() float64 { return e.avg }

func (e *estimator) reset() { e.avg = 0 }
