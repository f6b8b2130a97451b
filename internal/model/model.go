// Package model содержит доменные сущности движка продаж.
package model

import (
	"time"

	"github.com/baawa1/baawa-inventory-sub000/internal/money"
)

// Product представляет позицию каталога, доступную для продажи.
// Каталогом управляет внешняя админ-панель; движок продаж только читает его.
type Product struct {
	ID        int64
	SKU       string
	Name      string
	Price     money.Money
	Active    bool
	CreatedAt time.Time
}

// StockLevel описывает остаток товара. Поле Version растёт при каждом
// списании и служит для аудита изменений остатка.
type StockLevel struct {
	ProductID int64
	Quantity  int64
	Version   int64
	UpdatedAt time.Time
}

// TenderMethod описывает способ оплаты.
type TenderMethod string

const (
	TenderCash       TenderMethod = "CASH"
	TenderCard       TenderMethod = "CARD"
	TenderTransfer   TenderMethod = "TRANSFER"
	TenderWallet     TenderMethod = "WALLET"
	TenderPOSMachine TenderMethod = "POS_MACHINE"
)

// Known сообщает, входит ли способ оплаты в поддерживаемый набор.
func (m TenderMethod) Known() bool {
	switch m {
	case TenderCash, TenderCard, TenderTransfer, TenderWallet, TenderPOSMachine:
		return true
	}
	return false
}

// IsElectronic сообщает, является ли способ оплаты безналичным.
// Сдача выдаётся только по наличным.
func (m TenderMethod) IsElectronic() bool {
	return m != TenderCash
}

// PaymentTender — заявленная оплата одним способом.
type PaymentTender struct {
	Method TenderMethod
	Amount money.Money
}

// CartLine — строка корзины, поданная кассой при оформлении продажи.
// Цена фиксируется на момент подачи и сверяется с каталогом при валидации.
type CartLine struct {
	ProductID           int64
	Quantity            int64
	UnitPrice           money.Money
	LineDiscountPercent int
}

// SaleItem — зафиксированная строка совершённой продажи.
type SaleItem struct {
	ProductID           int64
	Quantity            int64
	UnitPrice           money.Money
	LineDiscountPercent int
	LineTotal           money.Money
}

// Sale — совершённая продажа. После фиксации запись не изменяется.
type Sale struct {
	ID                int64
	TransactionNumber string
	CreatedBy         int64
	CustomerRef       *string
	Currency          string
	Items             []SaleItem
	Tenders           []PaymentTender
	Subtotal          money.Money
	DiscountAmount    money.Money
	TaxAmount         money.Money
	Total             money.Money
	AmountPaid        money.Money
	ChangeGiven       money.Money
	IdempotencyKey    string
	CreatedAt         time.Time
}
