package idempotency

import (
	"testing"

	"github.com/baawa1/baawa-inventory-sub000/internal/model"
)

func TestFingerprintDeterministic(t *testing.T) {
	lines := []model.CartLine{
		{ProductID: 1, Quantity: 2, UnitPrice: 1000},
		{ProductID: 2, Quantity: 1, UnitPrice: 500, LineDiscountPercent: 10},
	}
	tenders := []model.PaymentTender{
		{Method: model.TenderCash, Amount: 2500},
	}

	a := Fingerprint(7, lines, 100, 50, tenders, "walk-in")
	b := Fingerprint(7, lines, 100, 50, tenders, "walk-in")

	if a != b {
		t.Fatalf("fingerprint must be deterministic, got %s and %s", a, b)
	}
	if len(a) != 64 {
		t.Fatalf("fingerprint must be a hex sha256, got %d chars", len(a))
	}
}

func TestFingerprintSensitivity(t *testing.T) {
	lines := []model.CartLine{
		{ProductID: 1, Quantity: 2, UnitPrice: 1000},
	}
	tenders := []model.PaymentTender{
		{Method: model.TenderCash, Amount: 2000},
	}

	base := Fingerprint(7, lines, 0, 0, tenders, "")

	otherActor := Fingerprint(8, lines, 0, 0, tenders, "")
	if otherActor == base {
		t.Fatalf("different actors must produce different fingerprints")
	}

	otherQty := Fingerprint(7, []model.CartLine{{ProductID: 1, Quantity: 3, UnitPrice: 1000}}, 0, 0, tenders, "")
	if otherQty == base {
		t.Fatalf("different quantities must produce different fingerprints")
	}

	otherTender := Fingerprint(7, lines, 0, 0, []model.PaymentTender{{Method: model.TenderCard, Amount: 2000}}, "")
	if otherTender == base {
		t.Fatalf("different tenders must produce different fingerprints")
	}

	otherDiscount := Fingerprint(7, lines, 10, 0, tenders, "")
	if otherDiscount == base {
		t.Fatalf("different discounts must produce different fingerprints")
	}
}
