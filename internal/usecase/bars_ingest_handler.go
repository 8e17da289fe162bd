package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ChartCache/internal/domain/models"
	"ChartCache/internal/domain/repository"
	pkgkafka "ChartCache/pkg/kafka"
	"ChartCache/pkg/util"
)

// incoming message schema: {symbol, t, o, h, l, c, v}; t in s or ms
type barMessage struct {
	Symbol string         `json:"symbol"`
	T      int64          `json:"t"`
	O      models.Number  `json:"o"`
	H      models.Number  `json:"h"`
	L      models.Number  `json:"l"`
	C      models.Number  `json:"c"`
	V      *models.Number `json:"v"`
}

func (m barMessage) bar() models.Bar {
	return models.Bar{
		Time:   util.UnixSeconds(m.T),
		Open:   m.O.Float(),
		High:   m.H.Float(),
		Low:    m.L.Float(),
		Close:  m.C.Float(),
		Volume: models.NumberPtr(m.V),
	}
}

// BarsIngestHandler consumes base bars from Kafka and applies them.
type BarsIngestHandler struct {
	topic   string
	applier *BarApplier
	metrics repository.Metrics
}

func NewBarsIngestHandler(topic string, applier *BarApplier, metrics repository.Metrics) *BarsIngestHandler {
	if metrics == nil {
		metrics = repository.NopMetrics{}
	}
	return &BarsIngestHandler{topic: topic, applier: applier, metrics: metrics}
}

func (h *BarsIngestHandler) Topic() string { return h.topic }

// Handle accepts one message object or an array of them.
func (h *BarsIngestHandler) Handle(ctx context.Context, b []byte) error {
	msgs, err := decodeBarMessages(b)
	if err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return err
	}

	order := make([]string, 0, 1)
	bySymbol := make(map[string][]models.Bar)
	for _, m := range msgs {
		sym := util.NormalizeSymbol(m.Symbol)
		if sym == "" {
			h.metrics.RecordError("consumer_symbol")
			continue
		}
		if _, ok := bySymbol[sym]; !ok {
			order = append(order, sym)
		}
		bar := m.bar()
		bySymbol[sym] = append(bySymbol[sym], bar)
		h.metrics.RecordLatency("ingest_e2e_seconds", time.Since(time.Unix(bar.Time, 0)).Seconds())
	}

	var errs []error
	for _, sym := range order {
		start := time.Now()
		_, err := h.applier.Apply(ctx, sym, bySymbol[sym])
		h.metrics.RecordLatency("ingest_apply_seconds", time.Since(start).Seconds())
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func decodeBarMessages(b []byte) ([]barMessage, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return nil, fmt.Errorf("empty bar message")
	}
	if b[0] == '[' {
		var msgs []barMessage
		if err := json.Unmarshal(b, &msgs); err != nil {
			return nil, fmt.Errorf("decode bar batch: %w", err)
		}
		return msgs, nil
	}
	var m barMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("decode bar: %w", err)
	}
	return []barMessage{m}, nil
}

var _ pkgkafka.MessageHandler = (*BarsIngestHandler)(nil)
