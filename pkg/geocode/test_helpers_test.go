package geocode

import (
	"context"
	"sync"
	"time"
)

// fakeClock advances only when Sleep is called.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.Advance(d)
	return nil
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeUpstream records the clock time of every call.
type fakeUpstream struct {
	mu      sync.Mutex
	clock   Clock
	queries []string
	times   []time.Time
	result  func(query string) (*Point, error)
}

func (f *fakeUpstream) Search(_ context.Context, query string) (*Point, error) {
	f.mu.Lock()
	f.queries = append(f.queries, query)
	if f.clock != nil {
		f.times = append(f.times, f.clock.Now())
	}
	f.mu.Unlock()
	if f.result == nil {
		return &Point{Lat: 39.7392, Lng: -104.9903}, nil
	}
	return f.result(query)
}

func (f *fakeUpstream) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queries)
}
