package analytics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/foodsearch/foodsearch/pkg/kafka"
	"github.com/foodsearch/foodsearch/pkg/metrics"
)

// Collector buffers SearchEvents and publishes them in batches off the
// request path. Track never blocks: when the buffer is full the event is
// dropped.
type Collector struct {
	pub           kafka.Publisher
	events        chan SearchEvent
	batchSize     int
	flushInterval time.Duration
	metrics       *metrics.Metrics
	logger        *slog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

// CollectorConfig sizes the buffer and the batches.
type CollectorConfig struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
}

// NewCollector creates a Collector. m may be nil.
func NewCollector(pub kafka.Publisher, cfg CollectorConfig, m *metrics.Metrics) *Collector {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 10000
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	return &Collector{
		pub:           pub,
		events:        make(chan SearchEvent, cfg.BufferSize),
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		metrics:       m,
		logger:        slog.Default().With("component", "analytics-collector"),
		done:          make(chan struct{}),
	}
}

// Start launches the publish loop. It runs until Close.
func (c *Collector) Start() {
	go c.loop()
	c.logger.Info("analytics collector started",
		"buffer_size", cap(c.events),
		"batch_size", c.batchSize,
		"flush_interval", c.flushInterval,
	)
}

// Track enqueues e for publication.
func (c *Collector) Track(e SearchEvent) {
	select {
	case c.events <- e:
	default:
		if c.metrics != nil {
			c.metrics.AnalyticsDropped.Inc()
		}
		c.logger.Warn("analytics event dropped, buffer full", "locale", e.Locale)
	}
}

// Close stops accepting events, flushes what is buffered and waits for
// the publish loop to exit. Track must not be called after Close.
func (c *Collector) Close() {
	c.closeOnce.Do(func() { close(c.events) })
	<-c.done
}

func (c *Collector) loop() {
	defer close(c.done)
	ticker := time.NewTicker(c.flushInterval)
	defer ticker.Stop()

	batch := make([]kafka.Event, 0, c.batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.pub.Publish(ctx, batch...); err != nil {
			if c.metrics != nil {
				c.metrics.AnalyticsDropped.Add(float64(len(batch)))
			}
			c.logger.Error("publishing analytics batch", "events", len(batch), "error", err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case e, ok := <-c.events:
			if !ok {
				flush()
				return
			}
			batch = append(batch, kafka.Event{Key: e.Locale, Value: e})
			if len(batch) >= c.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
