package cache

import (
	"context"
	"time"

	"github.com/Valerrrrrri/SolarSystemEye/internal/driver"
)

// Start fills the trail from the driver. It performs an initial warmup
// (propagating the window behind the driver's current time), then stores
// each published frame that opens a new spacing bucket.
//
// Blocks until ctx is cancelled.
func (c *TrailCache) Start(ctx context.Context, d *driver.Driver) {
	frames, unsubscribe := d.Subscribe(64)
	defer unsubscribe()

	c.warmup(ctx, d)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("trail generator stopped")
			return
		case f, ok := <-frames:
			if !ok {
				return
			}
			c.Put(f)
		}
	}
}

// warmup fills the trail with frames for the Length buckets ending at the
// driver's current simulated time.
func (c *TrailCache) warmup(ctx context.Context, d *driver.Driver) {
	if c.config.Spacing == 0 {
		return
	}

	var now float64
	if f := d.Latest(); f != nil {
		now = f.SimSeconds
	}
	scale := d.TimeScale()

	c.logger.Info("trail warmup starting",
		"frames", c.config.Length,
		"from", now-float64(c.config.Length-1)*c.config.Spacing,
		"to", now,
	)

	start := time.Now()
	generated := 0

	for i := c.config.Length - 1; i >= 0; i-- {
		select {
		case <-ctx.Done():
			return
		default:
		}

		sim := now - float64(i)*c.config.Spacing
		c.put(driver.Frame{SimSeconds: sim, TimeScale: scale, Result: d.OnFrame(sim)}, true)
		generated++
	}

	c.logger.Info("trail warmup complete",
		"generated", generated,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}
