package usecase

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ChartCache/internal/domain/models"
)

// fakeStream hands out one event/error channel pair per Read.
type fakeStream struct {
	mu         sync.Mutex
	reads      []chan models.BarEvent
	readErrs   []chan error
	reconnects int
	giveUp     bool
	subscribed atomic.Bool
	closed     atomic.Bool
}

func (f *fakeStream) Connect(context.Context) error { return nil }

func (f *fakeStream) Subscribe(context.Context) error {
	f.subscribed.Store(true)
	return nil
}

func (f *fakeStream) Read(context.Context) (<-chan models.BarEvent, <-chan error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev := make(chan models.BarEvent, 8)
	errs := make(chan error, 1)
	f.reads = append(f.reads, ev)
	f.readErrs = append(f.readErrs, errs)
	return ev, errs
}

func (f *fakeStream) Reconnect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconnects++
	if f.giveUp {
		return errors.New("gave up")
	}
	return nil
}

func (f *fakeStream) Close() error {
	f.closed.Store(true)
	return nil
}

func (f *fakeStream) IsConnected() bool { return !f.closed.Load() }

func (f *fakeStream) current() (chan models.BarEvent, chan error, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.reads)
	return f.reads[n-1], f.readErrs[n-1], n
}

func (f *fakeStream) reconnectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reconnects
}

func TestStreamCollectorAppliesAndReconnects(t *testing.T) {
	r := newRegistry(t)
	if err := r.SetBase("BTCUSDT", minute(1), 60); err != nil {
		t.Fatalf("set base: %v", err)
	}
	stream := &fakeStream{}
	c := NewStreamCollector(stream, NewBarApplier(r, nil, nil, nil, nil), nil, nil)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !stream.subscribed.Load() {
		t.Fatal("expected subscribe")
	}

	ev, errs, _ := stream.current()
	ev <- models.BarEvent{Symbol: "BTCUSDT", Bar: flat(60, 2)}
	ev <- models.BarEvent{Symbol: "BTCUSDT", Bar: flat(120, 3)}
	errs <- errors.New("connection reset")
	close(ev)

	waitFor(t, "second read", func() bool {
		_, _, n := stream.current()
		return n == 2
	})
	if got := len(r.BaseData("BTCUSDT")); got != 3 {
		t.Fatalf("buffered events lost across reconnect: %d bars", got)
	}

	ev, _, _ = stream.current()
	ev <- models.BarEvent{Symbol: "btcusdt", Bar: flat(180, 4)}
	waitFor(t, "post-reconnect bar", func() bool { return len(r.BaseData("BTCUSDT")) == 4 })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if c.IsConnected() {
		t.Fatal("stream still connected after shutdown")
	}
	if stream.reconnectCount() != 1 {
		t.Fatalf("expected one reconnect, got %d", stream.reconnectCount())
	}
}

func TestStreamCollectorStopsWhenReconnectGivesUp(t *testing.T) {
	stream := &fakeStream{giveUp: true}
	c := NewStreamCollector(stream, NewBarApplier(newRegistry(t), nil, nil, nil, nil), nil, nil)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	ev, errs, _ := stream.current()
	errs <- errors.New("eof")
	close(ev)

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("collector did not stop")
	}
	if _, _, n := stream.current(); n != 1 {
		t.Fatalf("no read expected after giving up, got %d", n)
	}
}
