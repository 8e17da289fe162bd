package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/segmentio/kafka-go"
)

type flakyHandler struct {
	failures int
	calls    int
	traces   []string
}

func (h *flakyHandler) Topic() string { return "bars" }

func (h *flakyHandler) Handle(ctx context.Context, _ []byte) error {
	h.calls++
	h.traces = append(h.traces, TraceID(ctx))
	if h.calls <= h.failures {
		return errors.New("transient")
	}
	return nil
}

func newTestConsumer(t *testing.T, h MessageHandler, retries int) *Consumer {
	t.Helper()
	c, err := NewConsumer(
		WithConsumerBrokers([]string{"localhost:9092"}),
		WithConsumerRetry(retries, time.Millisecond, time.Millisecond),
		WithConsumerRegisterer(prometheus.NewRegistry()),
	)
	if err != nil {
		t.Fatalf("new consumer: %v", err)
	}
	c.RegisterHandler(h)
	c.WithConsumerHook(NewHookChain(TraceHook(), NoopHook{}))
	return c
}

func tracedMessage() *message {
	return &message{topic: "bars", km: kafka.Message{
		Value:   []byte(`{}`),
		Headers: []kafka.Header{{Key: "trace_id", Value: []byte("abc")}},
	}}
}

func TestProcessRetriesUntilSuccess(t *testing.T) {
	h := &flakyHandler{failures: 2}
	c := newTestConsumer(t, h, 3)
	if err := c.process(context.Background(), tracedMessage()); err != nil {
		t.Fatalf("process: %v", err)
	}
	if h.calls != 3 {
		t.Fatalf("expected 3 calls, got %d", h.calls)
	}
	for _, tr := range h.traces {
		if tr != "abc" {
			t.Fatalf("trace id not propagated: %v", h.traces)
		}
	}
}

func TestProcessGivesUpAfterRetryMax(t *testing.T) {
	h := &flakyHandler{failures: 10}
	c := newTestConsumer(t, h, 2)
	var hooked error
	c.WithConsumerHook(HookFuncs{Err: func(_ context.Context, _ string, _ kafka.Message, _ []byte, err error) { hooked = err }})
	if err := c.process(context.Background(), tracedMessage()); err == nil {
		t.Fatal("expected failure")
	}
	if h.calls != 3 || hooked == nil {
		t.Fatalf("calls=%d hooked=%v", h.calls, hooked)
	}
}

func TestBeforeHookErrorSkipsHandler(t *testing.T) {
	h := &flakyHandler{}
	c := newTestConsumer(t, h, 0)
	c.WithConsumerHook(NewHookChain(HookFuncs{
		Before: func(ctx context.Context, _ string, _ kafka.Message, data []byte) (context.Context, []byte, error) {
			panic("boom")
		},
	}))
	err := c.process(context.Background(), tracedMessage())
	var he *HookError
	if !errors.As(err, &he) || he.Code != "ERR_PANIC" {
		t.Fatalf("expected hook panic error, got %v", err)
	}
	if h.calls != 0 {
		t.Fatal("handler ran despite hook error")
	}
}

func TestWorkerIndexIsStablePerPartition(t *testing.T) {
	for p := 0; p < 16; p++ {
		a := workerIndex("bars", p, 4)
		if a != workerIndex("bars", p, 4) || a < 0 || a >= 4 {
			t.Fatalf("unstable or out of range index %d for partition %d", a, p)
		}
	}
	if workerIndex("bars", 5, 1) != 0 {
		t.Fatal("single worker must get everything")
	}
}

func TestBackoffWithJitterBounds(t *testing.T) {
	for attempt := 1; attempt < 10; attempt++ {
		d := backoffWithJitter(10*time.Millisecond, 80*time.Millisecond, attempt)
		if d <= 0 || d > 80*time.Millisecond {
			t.Fatalf("attempt %d: %s out of bounds", attempt, d)
		}
	}
}

func TestEncodeMessages(t *testing.T) {
	msgs, size, err := encodeMessages("t", []Message{
		{Key: []byte("BTC"), Value: map[string]int{"a": 1}, Headers: map[string]string{"trace_id": "t1"}},
		{Value: "raw"},
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var decoded map[string]int
	if err := json.Unmarshal(msgs[0].Value, &decoded); err != nil || decoded["a"] != 1 {
		t.Fatalf("unexpected payload %s", msgs[0].Value)
	}
	if string(msgs[1].Value) != "raw" || size != int64(len(msgs[0].Value)+3) {
		t.Fatalf("unexpected encoding size=%d", size)
	}
	if ExtractTraceID(msgs[0]) != "t1" {
		t.Fatalf("trace header lost: %+v", msgs[0].Headers)
	}
	if msgs[0].Topic != "t" || string(msgs[0].Key) != "BTC" {
		t.Fatalf("unexpected message %+v", msgs[0])
	}
}

func TestNewRequiresBrokers(t *testing.T) {
	if _, err := NewConsumer(); err == nil {
		t.Fatal("consumer without brokers")
	}
	if _, err := NewProducer(); err == nil {
		t.Fatal("producer without brokers")
	}
}
