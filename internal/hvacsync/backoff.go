package hvacsync

import "time"

// Backoff spaces out sync attempts against a unit that does not answer.
// The interval doubles per failed attempt until either MaxRetries failures
// have been counted or the interval reaches Cap; from then on it stays at Cap.
type Backoff struct {
	Base       time.Duration
	Cap        time.Duration
	MaxRetries int

	retries int
	total   uint64
}

// NewBackoff creates a backoff starting at base
func NewBackoff(base, cap time.Duration, maxRetries int) *Backoff {
	if cap < base {
		cap = base
	}
	return &Backoff{Base: base, Cap: cap, MaxRetries: maxRetries}
}

// Interval returns how long to wait after the previous attempt
func (b *Backoff) Interval() time.Duration {
	if b.retries >= b.MaxRetries {
		return b.Cap
	}
	d := b.Base
	for i := 0; i < b.retries; i++ {
		d *= 2
		if d >= b.Cap {
			return b.Cap
		}
	}
	return d
}

// Attempt counts one sync attempt in the diagnostic total
func (b *Backoff) Attempt() {
	b.total++
}

// Fail records a failed attempt; the retry counter stops at MaxRetries
func (b *Backoff) Fail() {
	if b.retries < b.MaxRetries {
		b.retries++
	}
}

// Reset drops the interval back to Base
func (b *Backoff) Reset() {
	b.retries = 0
}

// Retries returns the current retry counter
func (b *Backoff) Retries() int {
	return b.retries
}

// Total returns every attempt made since start
func (b *Backoff) Total() uint64 {
	return b.total
}
