package kafka

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand"
	"sync"
	"time"

	applogger "ChartCache/pkg/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"
)

// MessageHandler handles messages from a specific topic.
type MessageHandler interface {
	Topic() string
	Handle(context.Context, []byte) error
}

// Consumer reads registered topics through a consumer group and hands
// messages to a worker pool. Messages of one partition always reach the
// same worker, so they are handled in offset order.
type Consumer struct {
	cfg      *ConsumerConfig
	log      *applogger.Logger
	readers  map[string]*kafka.Reader
	handlers map[string]MessageHandler
	workers  []chan *message
	hook     ConsumerHook
	dlq      *kafka.Writer
	metrics  *consumerMetrics

	cancel   context.CancelFunc
	stopChan chan struct{}
	readWg   sync.WaitGroup
	workWg   sync.WaitGroup
	stopOnce sync.Once
}

type message struct {
	topic string
	km    kafka.Message
}

// NewConsumer creates a new Kafka consumer.
func NewConsumer(opts ...ConsumerOption) (*Consumer, error) {
	cfg := &ConsumerConfig{
		GroupID:     "chartcache",
		WorkerCount: 1,
		BufferSize:  64,
		RetryMax:    3,
		BackoffMin:  50 * time.Millisecond,
		BackoffMax:  2 * time.Second,
		MinBytes:    1,
		MaxBytes:    10e6,
		Logger:      applogger.NewNop(),
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("brokers are required")
	}

	c := &Consumer{
		cfg:      cfg,
		log:      cfg.Logger,
		readers:  make(map[string]*kafka.Reader),
		handlers: make(map[string]MessageHandler),
		hook:     NoopHook{},
		metrics:  consumerMetricsFor(cfg.Registerer),
		stopChan: make(chan struct{}),
	}
	if cfg.DLQTopic != "" {
		c.dlq = &kafka.Writer{Addr: kafka.TCP(cfg.Brokers...), Topic: cfg.DLQTopic, Balancer: &kafka.LeastBytes{}}
	}
	return c, nil
}

// RegisterHandler registers a message handler for its topic.
func (c *Consumer) RegisterHandler(handler MessageHandler) {
	topic := handler.Topic()
	if _, ok := c.handlers[topic]; ok {
		c.log.Warn("kafka handler already registered", applogger.String("topic", topic))
		return
	}
	c.handlers[topic] = handler
}

// WithConsumerHook sets a hook implementation for lifecycle events.
func (c *Consumer) WithConsumerHook(h ConsumerHook) {
	if h != nil {
		c.hook = h
	}
}

// Start opens one reader per topic and starts the workers.
func (c *Consumer) Start(ctx context.Context) error {
	if len(c.handlers) == 0 {
		return fmt.Errorf("no handlers registered")
	}
	ctx, c.cancel = context.WithCancel(ctx)

	c.workers = make([]chan *message, c.cfg.WorkerCount)
	for i := range c.workers {
		c.workers[i] = make(chan *message, c.cfg.BufferSize)
		c.workWg.Add(1)
		go c.messageWorker(ctx, c.workers[i])
	}

	for topic := range c.handlers {
		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers:  c.cfg.Brokers,
			Topic:    topic,
			GroupID:  c.cfg.GroupID,
			MinBytes: c.cfg.MinBytes,
			MaxBytes: c.cfg.MaxBytes,
		})
		c.readers[topic] = reader
		c.readWg.Add(1)
		go c.consumeMessages(ctx, topic, reader)
	}

	c.log.Info("kafka consumer started",
		applogger.Int("workers", c.cfg.WorkerCount),
		applogger.Int("topics", len(c.readers)),
		applogger.String("group", c.cfg.GroupID),
	)
	return nil
}

// Stop stops reading, drains queued messages and closes readers.
func (c *Consumer) Stop(ctx context.Context) error {
	var stopErr error
	c.stopOnce.Do(func() {
		close(c.stopChan)
		if c.cancel != nil {
			c.cancel()
		}
		c.readWg.Wait()
		for _, w := range c.workers {
			close(w)
		}
		stopErr = waitGroup(ctx, &c.workWg)

		for topic, reader := range c.readers {
			if err := reader.Close(); err != nil {
				c.log.Warn("kafka reader close", applogger.String("topic", topic), applogger.Error(err))
			}
		}
		if c.dlq != nil {
			if err := c.dlq.Close(); err != nil {
				c.log.Warn("kafka dlq close", applogger.Error(err))
			}
		}
		if stopErr == nil {
			c.log.Info("kafka consumer stopped")
		}
	})
	return stopErr
}

func waitGroup(ctx context.Context, wg *sync.WaitGroup) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return fmt.Errorf("timeout waiting for consumer to stop: %w", ctx.Err())
	case <-done:
		return nil
	}
}

func (c *Consumer) consumeMessages(ctx context.Context, topic string, reader *kafka.Reader) {
	defer c.readWg.Done()
	for {
		km, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			c.log.Warn("kafka fetch failed", applogger.String("topic", topic), applogger.Error(err))
			select {
			case <-time.After(c.cfg.BackoffMin):
				continue
			case <-ctx.Done():
				return
			}
		}

		w := c.workers[workerIndex(topic, km.Partition, len(c.workers))]
		select {
		case w <- &message{topic: topic, km: km}:
			c.metrics.queueDepth.WithLabelValues(topic).Set(float64(len(w)))
		case <-c.stopChan:
			return
		}
	}
}

func workerIndex(topic string, partition, n int) int {
	if n <= 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(topic))
	return int((h.Sum32() + uint32(partition)) % uint32(n))
}

func (c *Consumer) messageWorker(ctx context.Context, in <-chan *message) {
	defer c.workWg.Done()
	for msg := range in {
		start := time.Now()
		err := c.process(ctx, msg)

		// Commit after success, or after the message went to the DLQ, so a
		// poison message cannot block its partition.
		if err == nil || c.dlq != nil {
			if reader := c.readers[msg.topic]; reader != nil {
				_ = c.commitWithRetry(reader, msg.km, 3)
			}
		}
		c.metrics.handleLatency.WithLabelValues(msg.topic).Observe(time.Since(start).Seconds())
	}
}

// process runs the handler with hooks and bounded retries. The returned
// error is the final one after retries and DLQ publish.
func (c *Consumer) process(ctx context.Context, msg *message) (err error) {
	handler, ok := c.handlers[msg.topic]
	if !ok {
		return fmt.Errorf("no handler for topic %s", msg.topic)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
			c.log.Error("kafka handler panic", applogger.String("topic", msg.topic), applogger.Error(err))
		}
	}()

	attempts := 0
	for {
		attempts++
		hctx, data, berr := c.hook.BeforeHandle(ctx, msg.topic, msg.km, msg.km.Value)
		if berr != nil {
			err = berr
			break
		}
		err = handler.Handle(hctx, data)
		c.hook.AfterHandle(hctx, msg.topic, msg.km, data, err)
		if err == nil || attempts > c.cfg.RetryMax {
			break
		}
		c.metrics.retries.WithLabelValues(msg.topic).Inc()
		select {
		case <-time.After(backoffWithJitter(c.cfg.BackoffMin, c.cfg.BackoffMax, attempts)):
		case <-c.stopChan:
			return err
		}
	}
	if err == nil {
		return nil
	}

	c.hook.OnError(ctx, msg.topic, msg.km, msg.km.Value, err)
	c.log.Error("kafka message failed",
		applogger.String("topic", msg.topic),
		applogger.Int("partition", msg.km.Partition),
		applogger.Int64("offset", msg.km.Offset),
		applogger.Int("attempts", attempts),
		applogger.Error(err),
	)
	if c.dlq != nil {
		if dlqErr := c.dlq.WriteMessages(context.Background(), kafka.Message{
			Key:     msg.km.Key,
			Value:   msg.km.Value,
			Time:    time.Now(),
			Headers: []kafka.Header{{Key: "source_topic", Value: []byte(msg.topic)}},
		}); dlqErr != nil {
			c.log.Error("kafka dlq write failed", applogger.String("topic", c.cfg.DLQTopic), applogger.Error(dlqErr))
		}
	}
	return err
}

func (c *Consumer) commitWithRetry(reader *kafka.Reader, km kafka.Message, max int) error {
	var err error
	for attempt := 1; attempt <= max; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err = reader.CommitMessages(ctx, km)
		cancel()
		if err == nil {
			return nil
		}
		time.Sleep(backoffWithJitter(50*time.Millisecond, 500*time.Millisecond, attempt))
	}
	c.log.Warn("kafka commit failed", applogger.Int("attempts", max), applogger.Error(err))
	return err
}

func backoffWithJitter(min, max time.Duration, attempt int) time.Duration {
	if min <= 0 {
		min = 50 * time.Millisecond
	}
	if max < min {
		max = min
	}
	exp := min * time.Duration(1<<uint(attempt-1))
	if exp > max || exp <= 0 {
		exp = max
	}
	half := int64(exp) / 2
	if half <= 0 {
		return exp
	}
	return exp - time.Duration(rand.Int63n(half))
}

type consumerMetrics struct {
	queueDepth    *prometheus.GaugeVec
	handleLatency *prometheus.HistogramVec
	retries       *prometheus.CounterVec
}

var (
	defaultConsumerMetricsOnce sync.Once
	defaultConsumerMetrics     *consumerMetrics
)

func consumerMetricsFor(reg prometheus.Registerer) *consumerMetrics {
	if reg == nil {
		defaultConsumerMetricsOnce.Do(func() {
			defaultConsumerMetrics = newConsumerMetrics(prometheus.DefaultRegisterer)
		})
		return defaultConsumerMetrics
	}
	return newConsumerMetrics(reg)
}

func newConsumerMetrics(reg prometheus.Registerer) *consumerMetrics {
	f := promauto.With(reg)
	return &consumerMetrics{
		queueDepth: f.NewGaugeVec(
			prometheus.GaugeOpts{Name: "chartcache_kafka_consumer_queue_depth", Help: "Messages waiting in a worker queue"},
			[]string{"topic"},
		),
		handleLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{Name: "chartcache_kafka_consumer_handle_seconds", Help: "Handling time per message"},
			[]string{"topic"},
		),
		retries: f.NewCounterVec(
			prometheus.CounterOpts{Name: "chartcache_kafka_consumer_retries_total", Help: "Handler retries"},
			[]string{"topic"},
		),
	}
}
