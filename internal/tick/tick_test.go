package tick

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestElapsed(t *testing.T) {
	tests := []struct {
		name     string
		from, to Tick
		want     Duration
	}{
		{"zero", 100, 100, 0},
		{"forward", 100, 350, 250},
		{"across wrap", 65530, 10, 16},
		{"wrap to zero", 65535, 0, 1},
		{"full range", 1, 0, Max},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Elapsed(tc.from, tc.to))
		})
	}
}

func TestElapsedAcrossWrapIsSmall(t *testing.T) {
	c := NewManual(65500)
	start := c.Now()
	c.Advance(120)

	got := Since(c, start)
	assert.Equal(t, Duration(120), got)
	assert.Less(t, got, Duration(200), "wrap must not produce a huge interval")
}

func TestManualAdvanceWraps(t *testing.T) {
	c := NewManual(65535)
	assert.Equal(t, Tick(4), c.Advance(5))

	c.Set(42)
	assert.Equal(t, Tick(42), c.Now())
}

func TestFromDuration(t *testing.T) {
	assert.Equal(t, Duration(200), FromDuration(200*time.Millisecond))
	assert.Equal(t, Duration(0), FromDuration(-time.Second))
	assert.Equal(t, Max, FromDuration(time.Hour))
	assert.Equal(t, 15*time.Millisecond, Duration(15).Std())
}

func TestMonotonicDoesNotGoBackwardsQuickly(t *testing.T) {
	c := NewMonotonic()
	a := c.Now()
	b := c.Now()
	assert.Less(t, Elapsed(a, b), Duration(1000))
}
