package service

import "time"

// Pacer holds the delay between submissions. Backoff only ever grows it within a run.
type Pacer struct {
	delay     time.Duration
	increment time.Duration
}

// NewPacer creates a Pacer starting at delay.
func NewPacer(delay, increment time.Duration) *Pacer {
	if delay < 0 {
		delay = 0
	}
	if increment < 0 {
		increment = 0
	}
	return &Pacer{delay: delay, increment: increment}
}

// Delay returns the current pacing delay.
func (p *Pacer) Delay() time.Duration { return p.delay }

// Backoff raises the delay by the fixed increment and returns the new value.
func (p *Pacer) Backoff() time.Duration {
	p.delay += p.increment
	return p.delay
}
