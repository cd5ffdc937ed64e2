package retrycollector

import (
	"testing"
	"time"
)

func TestNextDelayGrowsExponentially(t *testing.T) {
	c := &Collector{delayMin: time.Second, delayMax: 30 * time.Second}

	if got, want := c.nextDelay(0), time.Second; got != want {
		t.Errorf("nextDelay(0) = %v, want %v", got, want)
	}
	if got, want := c.nextDelay(1), 1500*time.Millisecond; got != want {
		t.Errorf("nextDelay(1) = %v, want %v", got, want)
	}
}

func TestNextDelayCapsAtMax(t *testing.T) {
	c := &Collector{delayMin: time.Second, delayMax: 5 * time.Second}
	if got := c.nextDelay(20); got != 5*time.Second {
		t.Errorf("nextDelay(20) = %v, want capped at delayMax (5s)", got)
	}
}
