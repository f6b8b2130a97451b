// Package outbox реализует транзакционный outbox для событий о продажах.
//
// Запись события выполняется в той же транзакции, что и фиксация продажи,
// поэтому событие существует тогда и только тогда, когда продажа
// зафиксирована. Фоновый ретранслятор публикует накопленные события
// минимум один раз; получатели дедуплицируют по event_id.
package outbox

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/baawa1/baawa-inventory-sub000/internal/model"
	"github.com/baawa1/baawa-inventory-sub000/internal/money"
)

// TopicSales — топик событий о зафиксированных продажах.
const TopicSales = "pos.sales"

// Record — запись outbox, ожидающая публикации.
type Record struct {
	ID        int64
	EventID   string
	Topic     string
	Key       string
	Payload   json.RawMessage
	CreatedAt time.Time
	SentAt    *time.Time
}

// SaleCommitted — полезная нагрузка события о зафиксированной продаже:
// сама продажа и дельты остатков для внешних потребителей.
type SaleCommitted struct {
	SaleID            int64        `json:"sale_id"`
	TransactionNumber string       `json:"transaction_number"`
	CreatedBy         int64        `json:"created_by"`
	Currency          string       `json:"currency"`
	Total             money.Money  `json:"total"`
	AmountPaid        money.Money  `json:"amount_paid"`
	ChangeGiven       money.Money  `json:"change_given"`
	StockDeltas       []StockDelta `json:"stock_deltas"`
	CommittedAt       time.Time    `json:"committed_at"`
}

// StockDelta — списание остатка по одной позиции продажи.
type StockDelta struct {
	ProductID int64 `json:"product_id"`
	Quantity  int64 `json:"quantity"`
}

// NewSaleCommitted собирает запись outbox для зафиксированной продажи.
func NewSaleCommitted(sale *model.Sale) (Record, error) {
	deltas := make([]StockDelta, 0, len(sale.Items))
	for _, item := range sale.Items {
		deltas = append(deltas, StockDelta{ProductID: item.ProductID, Quantity: item.Quantity})
	}

	payload, err := json.Marshal(SaleCommitted{
		SaleID:            sale.ID,
		TransactionNumber: sale.TransactionNumber,
		CreatedBy:         sale.CreatedBy,
		Currency:          sale.Currency,
		Total:             sale.Total,
		AmountPaid:        sale.AmountPaid,
		ChangeGiven:       sale.ChangeGiven,
		StockDeltas:       deltas,
		CommittedAt:       sale.CreatedAt,
	})
	if err != nil {
		return Record{}, fmt.Errorf("encode sale event: %w", err)
	}

	return Record{
		EventID:   uuid.NewString(),
		Topic:     TopicSales,
		Key:       sale.TransactionNumber,
		Payload:   payload,
		CreatedAt: sale.CreatedAt,
	}, nil
}
