package health

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

type GoodToGo string

const (
	GoodToGoOK          GoodToGo = "OK"
	GoodToGoUnavailable GoodToGo = "UNAVAILABLE"
)

type GoodToGoInfo struct {
	GTG GoodToGo `json:"gtg"`
}

// GTGCache holds the last good-to-go verdict. A single refresher goroutine writes it; readers
// never wait for a refresh.
type GTGCache struct {
	registry *Registry
	value    atomic.Pointer[GoodToGoInfo]
}

func NewGTGCache(r *Registry) *GTGCache {
	return &GTGCache{registry: r}
}

// Get returns the cached verdict, UNAVAILABLE until the first refresh completed.
func (c *GTGCache) Get() GoodToGoInfo {
	if v := c.value.Load(); v != nil {
		return *v
	}
	return GoodToGoInfo{GTG: GoodToGoUnavailable}
}

// Refresh recomputes the verdict from a fresh health run and stores it.
func (c *GTGCache) Refresh(ctx context.Context) GoodToGoInfo {
	zerolog.Ctx(ctx).Info().Msg("Updating gtg info")
	info := GoodToGoInfo{GTG: GoodToGoUnavailable}
	if c.registry.Health(ctx, "").Healthy() {
		info.GTG = GoodToGoOK
	}
	c.value.Store(&info)
	return info
}

// Run refreshes immediately and then every interval until ctx is cancelled.
func (c *GTGCache) Run(ctx context.Context, interval time.Duration) error {
	c.Refresh(ctx)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			zerolog.Ctx(ctx).Info().Msg("Scheduled gtg update task stopped cleanly")
			return nil
		case <-t.C:
			c.Refresh(ctx)
		}
	}
}
