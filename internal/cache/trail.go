// Package cache provides an in-memory trail of recent frames with a rolling window.
//
// The trail keeps one frame per Spacing simulated seconds, up to Length frames.
// A background worker feeds it from the frame driver; readers build orbit
// trails from it without touching the propagator.
package cache

import (
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/Valerrrrrri/SolarSystemEye/internal/driver"
	"github.com/Valerrrrrri/SolarSystemEye/internal/metrics"
)

// Config holds trail configuration.
type Config struct {
	Length  int     // Frames kept (default: 120)
	Spacing float64 // Simulated seconds between kept frames
}

// DefaultLength is the trail length used when Config.Length is not positive.
const DefaultLength = 120

// TrailCache is a ring buffer of frames bucketed by simulated time.
// Safe for concurrent use by multiple goroutines.
type TrailCache struct {
	mu   sync.RWMutex
	ring []driver.Frame
	head int // index of the next write
	size int

	lastBucket int64
	hasLast    bool

	config Config
	logger *slog.Logger

	// Counters (lock-free).
	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

// NewTrailCache creates a new trail cache. A non-positive spacing keeps
// every frame.
func NewTrailCache(config Config, logger *slog.Logger) *TrailCache {
	if config.Length <= 0 {
		config.Length = DefaultLength
	}
	if math.IsNaN(config.Spacing) || config.Spacing < 0 {
		config.Spacing = 0
	}

	logger.Info("trail cache initialized",
		"length", config.Length,
		"spacing_seconds", config.Spacing,
	)

	return &TrailCache{
		ring:   make([]driver.Frame, config.Length),
		config: config,
		logger: logger,
	}
}

// SpacingForHalfOrbit spreads length frames over half of period.
func SpacingForHalfOrbit(period float64, length int) float64 {
	if length <= 0 {
		length = DefaultLength
	}
	return period / 2 / float64(length)
}

// Bucket maps simulated seconds to a spacing bucket. Frames sharing a
// bucket with the last stored frame are skipped.
func (c *TrailCache) Bucket(sim float64) int64 {
	if c.config.Spacing == 0 {
		return math.MinInt64
	}
	return int64(math.Floor(sim / c.config.Spacing))
}

// Put offers a frame to the trail and reports whether it was stored.
func (c *TrailCache) Put(f driver.Frame) bool {
	return c.put(f, false)
}

func (c *TrailCache) put(f driver.Frame, force bool) bool {
	b := c.Bucket(f.SimSeconds)

	c.mu.Lock()
	if !force && c.config.Spacing > 0 && c.hasLast && b == c.lastBucket {
		c.mu.Unlock()
		return false
	}
	c.lastBucket = b
	c.hasLast = true

	evicted := c.size == len(c.ring)
	c.ring[c.head] = f
	c.head = (c.head + 1) % len(c.ring)
	if !evicted {
		c.size++
	}
	c.mu.Unlock()

	if evicted {
		c.evictions.Add(1)
		metrics.IncTrailEvictions()
	}
	return true
}

// Recent returns up to count frames ending at the newest, ordered oldest-first.
// A lookup that cannot supply count frames is recorded as a miss.
func (c *TrailCache) Recent(count int) []driver.Frame {
	if count <= 0 {
		return nil
	}

	c.mu.RLock()
	n := min(count, c.size)
	result := make([]driver.Frame, 0, n)
	for i := n; i > 0; i-- {
		idx := (c.head - i + len(c.ring)) % len(c.ring)
		result = append(result, c.ring[idx])
	}
	c.mu.RUnlock()

	if n == count {
		c.hits.Add(1)
		metrics.IncTrailHits()
	} else {
		c.misses.Add(1)
		metrics.IncTrailMisses()
	}
	return result
}

// Latest returns the newest stored frame.
func (c *TrailCache) Latest() (driver.Frame, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.size == 0 {
		return driver.Frame{}, false
	}
	return c.ring[(c.head-1+len(c.ring))%len(c.ring)], true
}

// Stats returns current cache statistics.
func (c *TrailCache) Stats() CacheStats {
	c.mu.RLock()
	count := c.size
	var oldest, newest float64
	if count > 0 {
		oldest = c.ring[(c.head-count+len(c.ring))%len(c.ring)].SimSeconds
		newest = c.ring[(c.head-1+len(c.ring))%len(c.ring)].SimSeconds
	}
	c.mu.RUnlock()

	return CacheStats{
		Entries:       count,
		Capacity:      len(c.ring),
		SizeBytes:     c.estimateSizeBytes(),
		OldestSeconds: oldest,
		NewestSeconds: newest,
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Evictions:     c.evictions.Load(),
	}
}

// CacheStats holds trail statistics.
type CacheStats struct {
	Entries       int
	Capacity      int
	SizeBytes     int64
	OldestSeconds float64 // simulated seconds of the oldest frame
	NewestSeconds float64
	Hits          int64
	Misses        int64
	Evictions     int64
}

// estimateSizeBytes returns the ring's memory footprint.
func (c *TrailCache) estimateSizeBytes() int64 {
	return int64(len(c.ring)) * int64(unsafe.Sizeof(driver.Frame{}))
}
