package hvacsync

import (
	"testing"
	"time"
)

func TestBackoffGrowth(t *testing.T) {
	b := NewBackoff(time.Second, 30*time.Second, 8)

	want := []time.Duration{
		time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second,
		30 * time.Second,
		30 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}

	prev := time.Duration(0)
	for i, w := range want {
		got := b.Interval()
		if got != w {
			t.Errorf("attempt %d: interval = %v, want %v", i, got, w)
		}
		if got < prev {
			t.Errorf("attempt %d: interval decreased from %v to %v", i, prev, got)
		}
		prev = got
		b.Attempt()
		b.Fail()
	}

	if b.Retries() != 8 {
		t.Errorf("retries should be capped at 8, got %d", b.Retries())
	}
	if b.Total() != uint64(len(want)) {
		t.Errorf("total = %d, want %d", b.Total(), len(want))
	}
}

func TestBackoffCapAtMaxRetries(t *testing.T) {
	// base * 2^3 stays under the cap, so the cap is reached by the retry counter
	b := NewBackoff(time.Second, time.Minute, 3)
	for i := 0; i < 3; i++ {
		b.Fail()
	}
	if got := b.Interval(); got != time.Minute {
		t.Errorf("interval at max retries = %v, want cap", got)
	}
}

func TestBackoffReset(t *testing.T) {
	b := NewBackoff(time.Second, time.Minute, 8)
	for i := 0; i < 5; i++ {
		b.Attempt()
		b.Fail()
	}
	b.Reset()
	if got := b.Interval(); got != time.Second {
		t.Errorf("interval after reset = %v, want base", got)
	}
	if b.Total() != 5 {
		t.Errorf("reset must not clear total, got %d", b.Total())
	}
}

func TestBackoffNoOverflow(t *testing.T) {
	b := NewBackoff(time.Hour, 2*time.Hour, 1000)
	for i := 0; i < 1000; i++ {
		b.Fail()
	}
	if got := b.Interval(); got != 2*time.Hour {
		t.Errorf("interval = %v, want cap", got)
	}
}
