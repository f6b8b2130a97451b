package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/baawa1/baawa-inventory-sub000/internal/model"
)

type stubStore struct {
	pending []Record
	sent    []int64
	markErr error
}

func (s *stubStore) FetchPendingEvents(ctx context.Context, limit int) ([]Record, error) {
	if len(s.pending) > limit {
		return s.pending[:limit], nil
	}
	return s.pending, nil
}

func (s *stubStore) MarkEventSent(ctx context.Context, id int64) error {
	if s.markErr != nil {
		return s.markErr
	}
	s.sent = append(s.sent, id)
	for i, rec := range s.pending {
		if rec.ID == id {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			break
		}
	}
	return nil
}

type stubPublisher struct {
	published []Record
	failAfter int
	err       error
}

func (p *stubPublisher) Publish(ctx context.Context, rec Record) error {
	if p.err != nil && len(p.published) >= p.failAfter {
		return p.err
	}
	p.published = append(p.published, rec)
	return nil
}

func (p *stubPublisher) Close() error { return nil }

func TestRelayProcessBatch(t *testing.T) {
	store := &stubStore{
		pending: []Record{
			{ID: 1, EventID: "a", Topic: TopicSales, Key: "0000000018"},
			{ID: 2, EventID: "b", Topic: TopicSales, Key: "0000000026"},
		},
	}
	pub := &stubPublisher{}
	relay := NewRelay(store, pub, zap.NewNop())

	relay.processBatch(context.Background())

	if len(pub.published) != 2 {
		t.Fatalf("published %d events, want 2", len(pub.published))
	}
	if len(store.sent) != 2 || store.sent[0] != 1 || store.sent[1] != 2 {
		t.Fatalf("marked sent %v, want [1 2]", store.sent)
	}
}

func TestRelayStopsBatchOnPublishError(t *testing.T) {
	store := &stubStore{
		pending: []Record{
			{ID: 1, EventID: "a", Topic: TopicSales},
			{ID: 2, EventID: "b", Topic: TopicSales},
		},
	}
	pub := &stubPublisher{failAfter: 1, err: errors.New("broker down")}
	relay := NewRelay(store, pub, zap.NewNop())

	relay.processBatch(context.Background())

	if len(pub.published) != 1 {
		t.Fatalf("published %d events, want 1", len(pub.published))
	}
	if len(store.sent) != 1 {
		t.Fatalf("marked sent %v, want only the published event", store.sent)
	}
	if len(store.pending) != 1 || store.pending[0].ID != 2 {
		t.Fatalf("event 2 must stay pending for the next tick")
	}
}

func TestRelayRunStopsOnContextCancel(t *testing.T) {
	relay := NewRelay(&stubStore{}, &stubPublisher{}, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		relay.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("Run did not stop after context cancellation")
	}
}

func TestNewSaleCommitted(t *testing.T) {
	now := time.Now().UTC()
	sale := &model.Sale{
		ID:                5,
		TransactionNumber: "0000000018",
		CreatedBy:         3,
		Currency:          "NGN",
		Items: []model.SaleItem{
			{ProductID: 1, Quantity: 2, UnitPrice: 1000, LineTotal: 2000},
			{ProductID: 4, Quantity: 1, UnitPrice: 500, LineTotal: 500},
		},
		Total:      2500,
		AmountPaid: 2500,
		CreatedAt:  now,
	}

	rec, err := NewSaleCommitted(sale)
	if err != nil {
		t.Fatalf("NewSaleCommitted() error = %v", err)
	}
	if rec.Topic != TopicSales {
		t.Fatalf("Topic = %q, want %q", rec.Topic, TopicSales)
	}
	if rec.Key != sale.TransactionNumber {
		t.Fatalf("Key = %q, want transaction number", rec.Key)
	}
	if rec.EventID == "" {
		t.Fatalf("EventID must be set")
	}

	var payload SaleCommitted
	if err := json.Unmarshal(rec.Payload, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.SaleID != 5 || payload.Total != 2500 {
		t.Fatalf("unexpected payload: %+v", payload)
	}
	if len(payload.StockDeltas) != 2 || payload.StockDeltas[0].Quantity != 2 {
		t.Fatalf("unexpected stock deltas: %+v", payload.StockDeltas)
	}
}
