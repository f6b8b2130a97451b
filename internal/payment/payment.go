// Package payment сверяет заявленные оплаты с итогом продажи.
package payment

import (
	"fmt"

	"github.com/baawa1/baawa-inventory-sub000/internal/fault"
	"github.com/baawa1/baawa-inventory-sub000/internal/model"
	"github.com/baawa1/baawa-inventory-sub000/internal/money"
)

// Reconciliation — результат сверки оплат: принятая сумма и сдача.
// Сдача начисляется только по наличной части оплаты.
type Reconciliation struct {
	AmountPaid  money.Money
	ChangeGiven money.Money
}

// Reconcile проверяет набор оплат против итога продажи и вычисляет сдачу.
// Оплаты считаются уже проведёнными внешними системами; здесь проверяется
// только арифметика: покрытие итога, запрет переплаты по безналичным
// способам и корректность разбивки на несколько оплат.
func Reconcile(total money.Money, tenders []model.PaymentTender) (Reconciliation, error) {
	if len(tenders) == 0 {
		return Reconciliation{}, fault.Validation(fault.CodeEmptyTender, "tenders",
			"at least one tender is required")
	}

	var paid, electronic money.Money
	for i, t := range tenders {
		if !t.Method.Known() {
			return Reconciliation{}, fault.Validation(fault.CodeInvalidTender,
				fmt.Sprintf("tenders[%d].method", i),
				fmt.Sprintf("unknown tender method %q", t.Method))
		}
		if t.Amount < 0 {
			return Reconciliation{}, fault.Validation(fault.CodeInvalidAmount,
				fmt.Sprintf("tenders[%d].amount", i),
				"tender amount must not be negative")
		}
		if len(tenders) > 1 && t.Amount == 0 {
			return Reconciliation{}, fault.Validation(fault.CodeEmptyTender,
				fmt.Sprintf("tenders[%d].amount", i),
				"every tender in a split payment must carry a positive amount")
		}

		paid += t.Amount
		if t.Method.IsElectronic() {
			electronic += t.Amount
		}
	}

	if paid < total {
		return Reconciliation{}, fault.Validation(fault.CodeInsufficientPayment, "tenders",
			fmt.Sprintf("tendered %d does not cover total %d", paid, total))
	}

	if len(tenders) == 1 {
		t := tenders[0]
		if t.Method.IsElectronic() && t.Amount > total {
			return Reconciliation{}, fault.Validation(fault.CodeOverpaymentNotAllowed, "tenders[0].amount",
				fmt.Sprintf("%s tender of %d exceeds total %d", t.Method, t.Amount, total))
		}
		return Reconciliation{AmountPaid: paid, ChangeGiven: paid - total}, nil
	}

	// В разбивке переплата допустима только по наличной части: сдачу из
	// терминала или кошелька не вернуть.
	if electronic > total {
		return Reconciliation{}, fault.Validation(fault.CodeOverpaymentNotAllowed, "tenders",
			fmt.Sprintf("electronic tenders of %d exceed total %d", electronic, total))
	}

	return Reconciliation{AmountPaid: paid, ChangeGiven: paid - total}, nil
}
