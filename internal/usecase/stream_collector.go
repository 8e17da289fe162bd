package usecase

import (
	"context"
	"sync"

	"ChartCache/internal/domain/models"
	drepo "ChartCache/internal/domain/repository"
	"ChartCache/pkg/logger"
)

// StreamCollector reads realtime bars from a BarStream and applies them.
// A failed read triggers Reconnect and a fresh Read; when reconnecting
// gives up the collector stops.
type StreamCollector struct {
	stream  drepo.BarStream
	applier *BarApplier
	metrics drepo.Metrics
	log     *logger.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewStreamCollector creates a new StreamCollector instance.
func NewStreamCollector(stream drepo.BarStream, applier *BarApplier, metrics drepo.Metrics, log *logger.Logger) *StreamCollector {
	if metrics == nil {
		metrics = drepo.NopMetrics{}
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &StreamCollector{stream: stream, applier: applier, metrics: metrics, log: log}
}

// IsConnected returns true if the stream is connected.
func (c *StreamCollector) IsConnected() bool {
	return c.stream.IsConnected()
}

// Start connects, subscribes and consumes in the background.
func (c *StreamCollector) Start(ctx context.Context) error {
	if err := c.stream.Connect(ctx); err != nil {
		return err
	}
	ctx, c.cancel = context.WithCancel(ctx)
	events, errs := c.stream.Read(ctx)
	if err := c.stream.Subscribe(ctx); err != nil {
		c.cancel()
		_ = c.stream.Close()
		return err
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.consume(ctx, events, errs)
	}()
	return nil
}

func (c *StreamCollector) consume(ctx context.Context, events <-chan models.BarEvent, errs <-chan error) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			c.apply(ctx, ev)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				if events == nil {
					return
				}
				continue
			}
			c.metrics.RecordError("stream")
			c.log.Warn("stream read failed", logger.Error(err))
			if events != nil {
				// the reader closes events right after reporting
				for ev := range events {
					c.apply(ctx, ev)
				}
			}
			if rerr := c.stream.Reconnect(ctx); rerr != nil {
				if ctx.Err() == nil {
					c.metrics.RecordError("stream_reconnect")
					c.log.Error("stream collector stopped", logger.Error(rerr))
				}
				return
			}
			events, errs = c.stream.Read(ctx)
		}
	}
}

func (c *StreamCollector) apply(ctx context.Context, ev models.BarEvent) {
	if _, err := c.applier.Apply(ctx, ev.Symbol, []models.Bar{ev.Bar}); err != nil {
		c.log.Warn("stream bar apply failed", logger.String("symbol", ev.Symbol), logger.Error(err))
	}
}

// Shutdown stops consuming and closes the stream.
func (c *StreamCollector) Shutdown(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return c.stream.Close()
}
