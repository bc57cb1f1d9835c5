package geocode

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/text/cases"
	"golang.org/x/time/rate"
)

// DefaultMinInterval is the floor between two upstream requests.
const DefaultMinInterval = 1100 * time.Millisecond

// Clock abstracts time so the throttle can be tested without sleeping.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Stats reports cache effectiveness.
type Stats struct {
	Entries       int
	Hits          int64
	UpstreamCalls int64
	Failures      int64
}

// GeocoderOption configures a Geocoder.
type GeocoderOption func(*Geocoder)

// WithClock injects the clock used by the throttle.
func WithClock(c Clock) GeocoderOption {
	return func(g *Geocoder) {
		g.clock = c
	}
}

// WithMinInterval overrides the floor between upstream requests.
func WithMinInterval(d time.Duration) GeocoderOption {
	return func(g *Geocoder) {
		if d > 0 {
			g.minInterval = d
		}
	}
}

// Geocoder memoizes lookups for the lifetime of the process and throttles
// cache misses globally. Construct one per process and share it.
type Geocoder struct {
	upstream    Upstream
	clock       Clock
	minInterval time.Duration
	group       singleflight.Group

	mu    sync.Mutex
	cache map[string]*Point
	stats Stats

	throttleMu sync.Mutex
	limiter    *rate.Limiter
}

// NewGeocoder wraps upstream with the memo and the throttle.
func NewGeocoder(upstream Upstream, opts ...GeocoderOption) *Geocoder {
	g := &Geocoder{
		upstream:    upstream,
		clock:       realClock{},
		minInterval: DefaultMinInterval,
		cache:       make(map[string]*Point),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.limiter = rate.NewLimiter(rate.Every(g.minInterval), 1)
	return g
}

// GeocodeCenter resolves the center of a city.
func (g *Geocoder) GeocodeCenter(ctx context.Context, city, state string) *Point {
	return g.Geocode(ctx, "", city, state)
}

// Geocode resolves an address. It returns nil when the query is blank or the
// lookup failed for any reason; failures are cached like successes.
func (g *Geocoder) Geocode(ctx context.Context, address, city, state string) *Point {
	address, city, state = strings.TrimSpace(address), strings.TrimSpace(city), strings.TrimSpace(state)
	if address == "" && city == "" && state == "" {
		return nil
	}

	key := g.cacheKey(address, city, state)
	if p, ok := g.lookupCache(key); ok {
		return p
	}

	v, _, _ := g.group.Do(key, func() (any, error) {
		if p, ok := g.lookupCache(key); ok {
			return p, nil
		}
		p, cacheable := g.fetch(ctx, formatQuery(address, city, state))
		if cacheable {
			g.mu.Lock()
			g.cache[key] = p
			g.mu.Unlock()
		}
		return p, nil
	})

	p, _ := v.(*Point)
	return clonePoint(p)
}

// Stats returns a snapshot of the cache counters.
func (g *Geocoder) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	s := g.stats
	s.Entries = len(g.cache)
	return s
}

func (g *Geocoder) lookupCache(key string) (*Point, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.cache[key]
	if ok {
		g.stats.Hits++
	}
	return clonePoint(p), ok
}

// fetch performs one throttled upstream call. The second return value is
// false when the caller's context ended before the upstream answered, in
// which case nothing is learned about the query.
func (g *Geocoder) fetch(ctx context.Context, query string) (*Point, bool) {
	log := zap.L().With(zap.String("component", "geocode"), zap.String("query", query))

	if err := g.throttle(ctx); err != nil {
		log.Debug("geocode: throttle wait cancelled", zap.Error(err))
		return nil, false
	}

	g.mu.Lock()
	g.stats.UpstreamCalls++
	g.mu.Unlock()

	p, err := g.upstream.Search(ctx, query)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false
		}
		g.mu.Lock()
		g.stats.Failures++
		g.mu.Unlock()
		log.Warn("geocode: lookup failed", zap.Error(err))
		return nil, true
	}
	if p == nil {
		log.Debug("geocode: no match")
	}
	return p, true
}

// throttle reserves the next upstream slot on the injected clock and waits
// for it. Callers are serialized so each reservation sees the time the
// previous caller slept to.
func (g *Geocoder) throttle(ctx context.Context) error {
	g.throttleMu.Lock()
	defer g.throttleMu.Unlock()

	now := g.clock.Now()
	r := g.limiter.ReserveN(now, 1)
	if delay := r.DelayFrom(now); delay > 0 {
		if err := g.clock.Sleep(ctx, delay); err != nil {
			r.CancelAt(g.clock.Now())
			return err
		}
	}
	return nil
}

// cacheKey folds case so equivalent queries share an entry. A Caser is
// stateful, so one is built per call.
func (g *Geocoder) cacheKey(address, city, state string) string {
	return cases.Fold().String(address + "|" + city + "|" + state)
}

func formatQuery(address, city, state string) string {
	parts := make([]string, 0, 3)
	for _, s := range []string{address, city, state} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ", ")
}

func clonePoint(p *Point) *Point {
	if p == nil {
		return nil
	}
	cp := *p
	return &cp
}
