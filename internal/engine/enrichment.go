package engine

import (
	"context"
	"sync"
	"time"
)

// DeviceConfig is the per-identity configuration calculators evaluate
// against: speed limits, idle thresholds, tenant assignment. Opaque
// fields beyond what the bundled calculators read are carried through
// as a free-form map so new calculators don't require a schema change
// here.
type DeviceConfig struct {
	Identity        string
	Tenant          string
	SpeedLimitKmh   uint16
	IdleThreshold   time.Duration
	HarshAccelGThou int // thousandths of g, to stay integer-typed on the wire
	Extra           map[string]string
}

// ConfigSource resolves the current configuration for a device identity,
// typically backed by the database's device/tenant configuration tables.
type ConfigSource interface {
	DeviceConfig(ctx context.Context, identity string) (DeviceConfig, error)
}

type cacheEntry struct {
	value   DeviceConfig
	expires time.Time
}

// EnrichmentCache resolves DeviceConfig keyed by identity, cached with a
// TTL (spec §4.7 step 1) so a hot device doesn't hit the database on
// every record.
type EnrichmentCache struct {
	source ConfigSource
	ttl    time.Duration

	mu      sync.Mutex
	entries map[string]cacheEntry
}

// NewEnrichmentCache builds a cache over source with the given TTL.
func NewEnrichmentCache(source ConfigSource, ttl time.Duration) *EnrichmentCache {
	return &EnrichmentCache{source: source, ttl: ttl, entries: make(map[string]cacheEntry)}
}

// Resolve returns identity's DeviceConfig, using a cached value if it
// hasn't expired, and refreshing it from source otherwise.
func (c *EnrichmentCache) Resolve(ctx context.Context, identity string) (DeviceConfig, error) {
	now := time.Now()

	c.mu.Lock()
	entry, ok := c.entries[identity]
	c.mu.Unlock()
	if ok && now.Before(entry.expires) {
		return entry.value, nil
	}

	cfg, err := c.source.DeviceConfig(ctx, identity)
	if err != nil {
		if ok {
			// Serve the stale entry rather than blocking the pipeline on a
			// transient config-store failure; fresh data arrives next TTL.
			return entry.value, nil
		}
		return DeviceConfig{}, err
	}

	c.mu.Lock()
	c.entries[identity] = cacheEntry{value: cfg, expires: now.Add(c.ttl)}
	c.mu.Unlock()
	return cfg, nil
}

// Invalidate drops identity's cached entry, forcing the next Resolve to
// hit the source. Nothing in the Engine calls it when a
// configuration_change job runs; cached entries otherwise refresh when
// their TTL expires.
func (c *EnrichmentCache) Invalidate(identity string) {
	c.mu.Lock()
	delete(c.entries, identity)
	c.mu.Unlock()
}
