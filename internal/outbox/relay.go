package outbox

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Publisher публикует события во внешнюю шину.
type Publisher interface {
	Publish(ctx context.Context, rec Record) error
	Close() error
}

// KafkaPublisher пишет события в Kafka с подтверждением от всех реплик.
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher создаёт публикатор для указанных брокеров. Топик берётся
// из каждой записи outbox.
func NewKafkaPublisher(brokers []string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		},
	}
}

// Publish отправляет одну запись outbox.
func (p *KafkaPublisher) Publish(ctx context.Context, rec Record) error {
	return p.writer.WriteMessages(ctx, kafka.Message{
		Topic: rec.Topic,
		Key:   []byte(rec.Key),
		Value: rec.Payload,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(rec.EventID)},
		},
	})
}

// Close закрывает соединение с брокерами.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// Store — доступ к очереди outbox в хранилище.
type Store interface {
	FetchPendingEvents(ctx context.Context, limit int) ([]Record, error)
	MarkEventSent(ctx context.Context, id int64) error
}

// Relay периодически публикует накопленные события outbox.
type Relay struct {
	store     Store
	publisher Publisher
	logger    *zap.Logger
	interval  time.Duration
	batchSize int
}

// NewRelay создаёт ретранслятор с интервалом опроса в одну секунду.
func NewRelay(store Store, publisher Publisher, logger *zap.Logger) *Relay {
	return &Relay{
		store:     store,
		publisher: publisher,
		logger:    logger,
		interval:  1 * time.Second,
		batchSize: 100,
	}
}

// Run публикует события до отмены контекста.
func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.processBatch(ctx)
		}
	}
}

// processBatch публикует очередную пачку, сохраняя порядок событий: при
// первом сбое пачка прерывается и повторяется на следующем тике.
func (r *Relay) processBatch(ctx context.Context) {
	records, err := r.store.FetchPendingEvents(ctx, r.batchSize)
	if err != nil {
		r.logger.Warn("fetch pending outbox events", zap.Error(err))
		return
	}

	for _, rec := range records {
		if err := r.publisher.Publish(ctx, rec); err != nil {
			r.logger.Warn("publish outbox event", zap.Error(err), zap.String("eventID", rec.EventID))
			return
		}
		if err := r.store.MarkEventSent(ctx, rec.ID); err != nil {
			r.logger.Warn("mark outbox event sent", zap.Error(err), zap.Int64("recordID", rec.ID))
			return
		}
	}
}
