// Package idempotency защищает проведение продаж от повторного исполнения.
package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/baawa1/baawa-inventory-sub000/internal/model"
	"github.com/baawa1/baawa-inventory-sub000/internal/money"
)

// HeaderName — HTTP-заголовок с клиентским ключом идемпотентности.
const HeaderName = "Idempotency-Key"

// Fingerprint детерминированно выводит ключ идемпотентности из содержимого
// запроса: актор, строки корзины, скидка, налог, оплаты и ссылка на
// покупателя. Применяется, когда касса не прислала собственный ключ:
// повтор того же запроса после обрыва связи даёт тот же ключ.
func Fingerprint(actorID int64, lines []model.CartLine, orderDiscount, taxAmount money.Money, tenders []model.PaymentTender, customerRef string) string {
	h := sha256.New()

	fmt.Fprintf(h, "actor:%d;discount:%d;tax:%d;customer:%s;", actorID, orderDiscount, taxAmount, customerRef)
	for _, line := range lines {
		fmt.Fprintf(h, "line:%d:%d:%d:%d;", line.ProductID, line.Quantity, line.UnitPrice, line.LineDiscountPercent)
	}
	for _, tender := range tenders {
		fmt.Fprintf(h, "tender:%s:%d;", tender.Method, tender.Amount)
	}

	return hex.EncodeToString(h.Sum(nil))
}
