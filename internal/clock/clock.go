// Package clock provides a time abstraction for testable time-dependent code.
// Use RealClock for production and MockClock for testing.
package clock

import (
	"sync"
	"time"
)

// Clock is an interface for time operations, allowing time to be mocked in tests.
type Clock interface {
	// Now returns the current time
	Now() time.Time

	// NewTicker returns a Ticker that delivers the time on its channel every d
	NewTicker(d time.Duration) Ticker

	// Since returns the time elapsed since t
	Since(t time.Time) time.Duration
}

// Ticker delivers ticks at a fixed interval until stopped
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// RealClock implements Clock using the standard time package
type RealClock struct{}

type realTicker struct {
	ticker *time.Ticker
}

// NewRealClock creates a new RealClock instance
func NewRealClock() *RealClock {
	return &RealClock{}
}

// Now returns the current time
func (c *RealClock) Now() time.Time {
	return time.Now()
}

// NewTicker wraps time.NewTicker
func (c *RealClock) NewTicker(d time.Duration) Ticker {
	return &realTicker{ticker: time.NewTicker(d)}
}

// Since returns the time elapsed since t
func (c *RealClock) Since(t time.Time) time.Duration {
	return time.Since(t)
}

func (t *realTicker) C() <-chan time.Time { return t.ticker.C }
func (t *realTicker) Stop()               { t.ticker.Stop() }

// MockClock is a Clock implementation for testing that allows manual time control
type MockClock struct {
	mu      sync.Mutex
	current time.Time
	tickers []*mockTicker
}

// mockTicker drops ticks when nobody is reading, like time.Ticker
type mockTicker struct {
	c       chan time.Time
	period  time.Duration
	next    time.Time
	stopped bool
}

// NewMockClock creates a new MockClock starting at the given time
func NewMockClock(start time.Time) *MockClock {
	return &MockClock{current: start}
}

// Now returns the mock current time
func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// NewTicker creates a ticker that fires as Advance moves past each period
func (c *MockClock) NewTicker(d time.Duration) Ticker {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	ticker := &mockTicker{
		c:      make(chan time.Time, 1),
		period: d,
		next:   c.current.Add(d),
	}
	c.tickers = append(c.tickers, ticker)
	return &mockTickerHandle{clock: c, ticker: ticker}
}

// TickerCount returns the number of running tickers
func (c *MockClock) TickerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tickers)
}

// Since returns the time elapsed since t using the mock current time
func (c *MockClock) Since(t time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current.Sub(t)
}

// Advance moves the mock clock forward by duration d and delivers due ticks
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	newTime := c.current.Add(d)
	c.current = newTime

	for _, ticker := range c.tickers {
		if ticker.next.After(newTime) {
			continue
		}
		select {
		case ticker.c <- newTime:
		default:
		}
		for !ticker.next.After(newTime) {
			ticker.next = ticker.next.Add(ticker.period)
		}
	}
}

// Set sets the mock clock to a specific time, delivering due ticks when
// moving forward
func (c *MockClock) Set(t time.Time) {
	c.mu.Lock()
	oldTime := c.current
	c.mu.Unlock()

	if t.After(oldTime) {
		c.Advance(t.Sub(oldTime))
	} else {
		c.mu.Lock()
		c.current = t
		c.mu.Unlock()
	}
}

type mockTickerHandle struct {
	clock  *MockClock
	ticker *mockTicker
}

func (h *mockTickerHandle) C() <-chan time.Time { return h.ticker.c }

// Stop removes the ticker from the clock; the channel is left open
func (h *mockTickerHandle) Stop() {
	h.clock.mu.Lock()
	defer h.clock.mu.Unlock()

	if h.ticker.stopped {
		return
	}
	h.ticker.stopped = true
	for i, t := range h.clock.tickers {
		if t == h.ticker {
			h.clock.tickers = append(h.clock.tickers[:i], h.clock.tickers[i+1:]...)
			break
		}
	}
}
