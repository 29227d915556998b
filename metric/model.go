package metric

import (
	"sync"
	"time"
)

// Measurement is one counter with the timestamp of its last increment.
type Measurement struct {
	Count         uint64    `json:"count"`
	LastMessageAt time.Time `json:"lastMessageAt,omitempty"`
}

func (m *Measurement) inc(now time.Time) {
	m.Count++
	m.LastMessageAt = now
}

// SourceMetrics are the inbound counters of one source address.
type SourceMetrics struct {
	Consumed Measurement `json:"consumed"`
	Mapped   Measurement `json:"mapped"`
	Dropped  Measurement `json:"dropped"`
	Failed   Measurement `json:"failed"`
}

// TargetMetrics are the outbound counters of one target address.
type TargetMetrics struct {
	Filtered  Measurement `json:"filtered"`
	Published Measurement `json:"published"`
	Dropped   Measurement `json:"dropped"`
	Failed    Measurement `json:"failed"`
}

// ConnectionMetrics is the point-in-time counter snapshot answering a
// metrics retrieval.
type ConnectionMetrics struct {
	Sources map[string]SourceMetrics `json:"sources,omitempty"`
	Targets map[string]TargetMetrics `json:"targets,omitempty"`
}

// Counters accumulates per-connection counters and mirrors them into the
// gateway prometheus metrics. Safe for concurrent use.
type Counters struct {
	connectionID string
	metrics      *Metrics

	mu      sync.Mutex
	now     func() time.Time
	sources map[string]*SourceMetrics
	targets map[string]*TargetMetrics
}

// NewCounters creates an all-zero counter set. metrics may be nil in tests.
func NewCounters(connectionID string, metrics *Metrics) *Counters {
	return &Counters{
		connectionID: connectionID,
		metrics:      metrics,
		now:          time.Now,
		sources:      map[string]*SourceMetrics{},
		targets:      map[string]*TargetMetrics{},
	}
}

func (c *Counters) source(address string) *SourceMetrics {
	s, ok := c.sources[address]
	if !ok {
		s = &SourceMetrics{}
		c.sources[address] = s
	}
	return s
}

func (c *Counters) target(address string) *TargetMetrics {
	t, ok := c.targets[address]
	if !ok {
		t = &TargetMetrics{}
		c.targets[address] = t
	}
	return t
}

// Consumed records one wire message consumed from a source address.
func (c *Counters) Consumed(address string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.source(address).Consumed.inc(c.now())
	if c.metrics != nil {
		c.metrics.MessagesConsumed.WithLabelValues(c.connectionID, address).Inc()
	}
}

// InboundMapped records one successful inbound mapping outcome.
func (c *Counters) InboundMapped(address string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.source(address).Mapped.inc(c.now())
	if c.metrics != nil {
		c.metrics.MessagesMapped.WithLabelValues(c.connectionID, "inbound").Inc()
	}
}

// InboundDropped records one dropped inbound mapping outcome.
func (c *Counters) InboundDropped(address string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.source(address).Dropped.inc(c.now())
	if c.metrics != nil {
		c.metrics.MessagesDropped.WithLabelValues(c.connectionID, "inbound").Inc()
	}
}

// InboundFailed records one inbound mapping error outcome.
func (c *Counters) InboundFailed(address, mapperID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.source(address).Failed.inc(c.now())
	if c.metrics != nil {
		c.metrics.MappingFailures.WithLabelValues(c.connectionID, "inbound", mapperID).Inc()
	}
}

// Filtered records one signal excluded by a target's filters.
func (c *Counters) Filtered(address string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.target(address).Filtered.inc(c.now())
	if c.metrics != nil {
		c.metrics.MessagesFiltered.WithLabelValues(c.connectionID).Inc()
	}
}

// Published records one wire message published to a target address.
func (c *Counters) Published(address string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.target(address).Published.inc(c.now())
	if c.metrics != nil {
		c.metrics.MessagesPublished.WithLabelValues(c.connectionID, address).Inc()
	}
}

// OutboundDropped records one dropped outbound mapping outcome.
func (c *Counters) OutboundDropped(address string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.target(address).Dropped.inc(c.now())
	if c.metrics != nil {
		c.metrics.MessagesDropped.WithLabelValues(c.connectionID, "outbound").Inc()
	}
}

// OutboundFailed records one failed publish or outbound mapping error.
func (c *Counters) OutboundFailed(address, mapperID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.target(address).Failed.inc(c.now())
	if c.metrics != nil {
		c.metrics.MappingFailures.WithLabelValues(c.connectionID, "outbound", mapperID).Inc()
	}
}

// Snapshot returns a copy of all counters.
func (c *Counters) Snapshot() ConnectionMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := ConnectionMetrics{
		Sources: make(map[string]SourceMetrics, len(c.sources)),
		Targets: make(map[string]TargetMetrics, len(c.targets)),
	}
	for address, s := range c.sources {
		out.Sources[address] = *s
	}
	for address, t := range c.targets {
		out.Targets[address] = *t
	}
	return out
}

// Reset zeroes all counters. The prometheus mirrors are monotonic and stay
// untouched.
func (c *Counters) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sources = map[string]*SourceMetrics{}
	c.targets = map[string]*TargetMetrics{}
}
