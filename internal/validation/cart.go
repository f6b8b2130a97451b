package validation

import (
	"fmt"

	"github.com/baawa1/baawa-inventory-sub000/internal/fault"
	"github.com/baawa1/baawa-inventory-sub000/internal/model"
	"github.com/baawa1/baawa-inventory-sub000/internal/money"
)

// ValidateCart проверяет строки корзины по данным каталога: количества,
// доступность товаров и расхождение поданной цены с каталожной в пределах
// tolerance. Строки не изменяются: цена, зафиксированная кассой, и есть
// снимок, который попадает в продажу. Побочных эффектов нет.
func ValidateCart(lines []model.CartLine, catalog map[int64]model.Product, tolerance money.Money) error {
	if len(lines) == 0 {
		return fault.Validation(fault.CodeEmptyCart, "items", "cart must contain at least one line")
	}

	for i, line := range lines {
		if line.Quantity <= 0 {
			return fault.Validation(fault.CodeInvalidQuantity,
				fmt.Sprintf("items[%d].quantity", i),
				fmt.Sprintf("quantity must be positive, got %d", line.Quantity),
			).WithProduct(line.ProductID)
		}

		if line.UnitPrice < 0 {
			return fault.Validation(fault.CodeInvalidAmount,
				fmt.Sprintf("items[%d].unit_price", i),
				"unit price must not be negative",
			).WithProduct(line.ProductID)
		}

		if line.LineDiscountPercent < 0 || line.LineDiscountPercent > 100 {
			return fault.Validation(fault.CodeInvalidAmount,
				fmt.Sprintf("items[%d].discount_percent", i),
				"line discount must be between 0 and 100 percent",
			).WithProduct(line.ProductID)
		}

		product, ok := catalog[line.ProductID]
		if !ok || !product.Active {
			return fault.Validation(fault.CodeProductUnavailable,
				fmt.Sprintf("items[%d].product_id", i),
				fmt.Sprintf("product %d is not available for sale", line.ProductID),
			).WithProduct(line.ProductID)
		}

		if money.Abs(line.UnitPrice-product.Price) > tolerance {
			return fault.Validation(fault.CodePriceMismatch,
				fmt.Sprintf("items[%d].unit_price", i),
				fmt.Sprintf("submitted price %d differs from catalog price %d beyond tolerance", line.UnitPrice, product.Price),
			).WithProduct(line.ProductID)
		}
	}

	return nil
}
