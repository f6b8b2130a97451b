// Package pricing вычисляет стоимость продажи по строкам корзины.
package pricing

import (
	"github.com/baawa1/baawa-inventory-sub000/internal/fault"
	"github.com/baawa1/baawa-inventory-sub000/internal/model"
	"github.com/baawa1/baawa-inventory-sub000/internal/money"
)

// PricedLine — строка корзины с рассчитанной построчной суммой.
type PricedLine struct {
	model.CartLine
	LineTotal money.Money
}

// Pricing — результат расчёта стоимости продажи.
type Pricing struct {
	Lines         []PricedLine
	Subtotal      money.Money
	OrderDiscount money.Money
	TaxAmount     money.Money
	Total         money.Money
}

// Compute рассчитывает стоимость продажи. Построчная сумма — цена, умноженная
// на количество, за вычетом построчной процентной скидки с банковским
// округлением. Скидка на заказ применяется к уже округлённому промежуточному
// итогу и не может его превышать. Итог не бывает отрицательным. Расчёт
// детерминирован и не имеет побочных эффектов.
func Compute(lines []model.CartLine, orderDiscount, taxAmount money.Money) (*Pricing, error) {
	if orderDiscount < 0 {
		return nil, fault.Validation(fault.CodeInvalidAmount, "order_discount", "order discount must not be negative")
	}
	if taxAmount < 0 {
		return nil, fault.Validation(fault.CodeInvalidAmount, "tax_amount", "tax amount must not be negative")
	}

	priced := make([]PricedLine, 0, len(lines))
	var subtotal money.Money

	for _, line := range lines {
		gross := line.UnitPrice * money.Money(line.Quantity)
		lineTotal := money.ApplyPercent(gross, 100-line.LineDiscountPercent)

		priced = append(priced, PricedLine{CartLine: line, LineTotal: lineTotal})
		subtotal += lineTotal
	}

	if orderDiscount > subtotal {
		return nil, fault.Validation(fault.CodeDiscountExceedsSubtotal, "order_discount",
			"order discount exceeds cart subtotal")
	}

	return &Pricing{
		Lines:         priced,
		Subtotal:      subtotal,
		OrderDiscount: orderDiscount,
		TaxAmount:     taxAmount,
		Total:         money.FloorZero(subtotal - orderDiscount + taxAmount),
	}, nil
}
