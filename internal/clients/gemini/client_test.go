package gemini

import (
	"testing"

	"golang.org/x/time/rate"
)

func TestWithRateLimit_ConfiguresLimiter(t *testing.T) {
	c := &Client{}
	WithRateLimit(2, 3)(c)
	if c.limiter.Limit() != rate.Limit(2) {
		t.Errorf("expected limit 2, got %v", c.limiter.Limit())
	}
	if c.limiter.Burst() != 3 {
		t.Errorf("expected burst 3, got %d", c.limiter.Burst())
	}
}

func TestWithRateLimit_NonPositiveRateIsUnthrottled(t *testing.T) {
	c := &Client{}
	WithRateLimit(0, 5)(c)
	if c.limiter.Limit() != rate.Inf {
		t.Errorf("expected an unthrottled limiter for a non-positive rate, got limit %v", c.limiter.Limit())
	}
}

func TestWithRateLimit_BurstFloorsAtOne(t *testing.T) {
	c := &Client{}
	WithRateLimit(2, 0)(c)
	if c.limiter.Burst() != 1 {
		t.Errorf("expected burst to floor at 1, got %d", c.limiter.Burst())
	}
}
