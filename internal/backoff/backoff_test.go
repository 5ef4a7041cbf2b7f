package backoff

import (
	"testing"
	"time"
)

func TestWithJitterEarlyAttemptsStayWithinBounds(t *testing.T) {
	base := 10 * time.Millisecond
	max := time.Second

	for attempt := 0; attempt < 5; attempt++ {
		d := WithJitter(base, max, attempt)
		if d < 0 {
			t.Fatalf("attempt %d: negative delay %v", attempt, d)
		}
		if d > max+max/4 {
			t.Fatalf("attempt %d: delay %v exceeds max+jitter %v", attempt, d, max+max/4)
		}
	}
}

func TestWithJitterCapsAtMax(t *testing.T) {
	base := time.Second
	max := 2 * time.Second

	d := WithJitter(base, max, 20)
	if d > max+max/4 {
		t.Fatalf("delay %v exceeds max+jitter bound %v", d, max+max/4)
	}
}

func TestIdleCapsAtOneSecond(t *testing.T) {
	d := Idle(50*time.Millisecond, 30)
	if d > time.Second+time.Second/4 {
		t.Fatalf("idle delay %v exceeds 1s+jitter bound", d)
	}
}

func TestWithJitterNeverNegative(t *testing.T) {
	for attempt := 0; attempt < 100; attempt++ {
		if d := WithJitter(time.Millisecond, time.Second, attempt); d < 0 {
			t.Fatalf("attempt %d produced negative delay %v", attempt, d)
		}
	}
}
