// Package receipt формирует покупательский чек по зафиксированной продаже.
package receipt

import (
	"fmt"
	"time"

	"github.com/baawa1/baawa-inventory-sub000/internal/model"
	"github.com/baawa1/baawa-inventory-sub000/internal/money"
)

// Line позиция чека.
type Line struct {
	ProductID   int64       `json:"product_id"`
	Name        string      `json:"name"`
	Quantity    int64       `json:"quantity"`
	UnitPrice   money.Money `json:"unit_price"`
	DiscountPct int         `json:"discount_percent,omitempty"`
	LineTotal   money.Money `json:"line_total"`
}

// Tender строка оплаты чека.
type Tender struct {
	Method model.TenderMethod `json:"method"`
	Amount money.Money        `json:"amount"`
}

// Receipt чек продажи в пригодном для печати и выдачи по API виде.
type Receipt struct {
	TransactionNumber string      `json:"transaction_number"`
	IssuedAt          string      `json:"issued_at"`
	Currency          string      `json:"currency"`
	Lines             []Line      `json:"lines"`
	Subtotal          money.Money `json:"subtotal"`
	DiscountAmount    money.Money `json:"discount_amount"`
	TaxAmount         money.Money `json:"tax_amount"`
	Total             money.Money `json:"total"`
	Tenders           []Tender    `json:"tenders"`
	AmountPaid        money.Money `json:"amount_paid"`
	ChangeGiven       money.Money `json:"change_given"`
	CustomerRef       string      `json:"customer_ref,omitempty"`
}

// Build собирает чек по продаже. Названия товаров берутся из каталога;
// для товара, исчезнувшего из каталога, подставляется заглушка с его
// идентификатором, чтобы чек по старой продаже оставался доступен.
func Build(sale *model.Sale, products map[int64]model.Product) *Receipt {
	rec := &Receipt{
		TransactionNumber: sale.TransactionNumber,
		IssuedAt:          sale.CreatedAt.Format(time.RFC3339),
		Currency:          sale.Currency,
		Lines:             make([]Line, 0, len(sale.Items)),
		Subtotal:          sale.Subtotal,
		DiscountAmount:    sale.DiscountAmount,
		TaxAmount:         sale.TaxAmount,
		Total:             sale.Total,
		Tenders:           make([]Tender, 0, len(sale.Tenders)),
		AmountPaid:        sale.AmountPaid,
		ChangeGiven:       sale.ChangeGiven,
	}
	if sale.CustomerRef != nil {
		rec.CustomerRef = *sale.CustomerRef
	}

	for _, item := range sale.Items {
		name := fmt.Sprintf("product #%d", item.ProductID)
		if p, ok := products[item.ProductID]; ok {
			name = p.Name
		}
		rec.Lines = append(rec.Lines, Line{
			ProductID:   item.ProductID,
			Name:        name,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			DiscountPct: item.LineDiscountPercent,
			LineTotal:   item.LineTotal,
		})
	}

	for _, tender := range sale.Tenders {
		rec.Tenders = append(rec.Tenders, Tender{Method: tender.Method, Amount: tender.Amount})
	}

	return rec
}
