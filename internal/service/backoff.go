package service

import (
	"math/rand/v2"
	"time"
)

// BackoffPolicy computes the delay before an automatic retry
type BackoffPolicy struct {
	Base time.Duration
	Max  time.Duration
	// Jitter spreads each delay uniformly by ±Jitter of its value (0..1)
	Jitter float64
}

// NextDelay returns the wait after the given number of failed attempts:
// Base, 2*Base, 4*Base, ... capped at Max
func (p BackoffPolicy) NextDelay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}

	delay := p.Base
	for i := 1; i < attempts && i < 32; i++ {
		if p.Max > 0 && delay >= p.Max {
			break
		}
		delay *= 2
	}
	if p.Max > 0 && delay > p.Max {
		delay = p.Max
	}

	if p.Jitter > 0 {
		spread := float64(delay) * p.Jitter
		delay = time.Duration(float64(delay) - spread + rand.Float64()*2*spread)
		if p.Max > 0 && delay > p.Max {
			delay = p.Max
		}
	}
	return delay
}
