package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func TestMockClock_NowAndSince(t *testing.T) {
	c := NewMockClock(epoch)
	assert.Equal(t, epoch, c.Now())

	c.Advance(90 * time.Minute)
	assert.Equal(t, epoch.Add(90*time.Minute), c.Now())
	assert.Equal(t, 90*time.Minute, c.Since(epoch))

	c.Set(epoch)
	assert.Equal(t, epoch, c.Now())
}

func TestMockClock_Ticker(t *testing.T) {
	c := NewMockClock(epoch)
	ticker := c.NewTicker(5 * time.Minute)
	require.Equal(t, 1, c.TickerCount())

	c.Advance(4 * time.Minute)
	select {
	case <-ticker.C():
		t.Fatal("ticked early")
	default:
	}

	c.Advance(time.Minute)
	select {
	case tick := <-ticker.C():
		assert.Equal(t, epoch.Add(5*time.Minute), tick)
	default:
		t.Fatal("expected tick")
	}

	// A long jump coalesces into a single pending tick
	c.Advance(20 * time.Minute)
	<-ticker.C()
	select {
	case <-ticker.C():
		t.Fatal("ticks should not queue up")
	default:
	}

	// Next period is aligned to the original start
	c.Advance(5 * time.Minute)
	select {
	case tick := <-ticker.C():
		assert.Equal(t, epoch.Add(30*time.Minute), tick)
	default:
		t.Fatal("expected tick")
	}

	ticker.Stop()
	assert.Equal(t, 0, c.TickerCount())
	c.Advance(time.Hour)
	select {
	case <-ticker.C():
		t.Fatal("stopped ticker ticked")
	default:
	}
}

func TestRealClock_Ticker(t *testing.T) {
	c := NewRealClock()
	ticker := c.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	select {
	case <-ticker.C():
	case <-time.After(time.Second):
		t.Fatal("real ticker never ticked")
	}
}
