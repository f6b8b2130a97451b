package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/baawa1/baawa-inventory-sub000/internal/fault"
	"github.com/baawa1/baawa-inventory-sub000/internal/model"
	"github.com/baawa1/baawa-inventory-sub000/internal/repository"
	"github.com/baawa1/baawa-inventory-sub000/internal/validation"
)

func seededRepo() *repository.MemoryRepository {
	repo := repository.NewMemoryRepository()
	repo.AddProduct(model.Product{ID: 1, SKU: "SKU-1", Name: "Rice 5kg", Price: 450000, Active: true}, 10)
	repo.AddProduct(model.Product{ID: 2, SKU: "SKU-2", Name: "Beans 2kg", Price: 210000, Active: true}, 3)
	repo.AddProduct(model.Product{ID: 3, SKU: "SKU-3", Name: "Palm oil 1L", Price: 180000, Active: true}, 5)
	return repo
}

func cashSaleInput(key string) CreateSaleInput {
	return CreateSaleInput{
		ActorID:        7,
		IdempotencyKey: key,
		Lines: []model.CartLine{
			{ProductID: 1, Quantity: 2, UnitPrice: 450000},
		},
		Tenders: []model.PaymentTender{
			{Method: model.TenderCash, Amount: 1000000},
		},
	}
}

func TestCreateSale_CommitsAndDecrementsStock(t *testing.T) {
	repo := seededRepo()
	svc := NewService(repo, nil, Options{})

	res, err := svc.CreateSale(context.Background(), cashSaleInput("key-1"))
	if err != nil {
		t.Fatalf("CreateSale error: %v", err)
	}
	if res.Replayed {
		t.Fatalf("first sale must not be a replay")
	}

	sale := res.Sale
	if !validation.IsValidTransactionNumber(sale.TransactionNumber) {
		t.Fatalf("transaction number %q is not valid", sale.TransactionNumber)
	}
	if sale.Currency != "NGN" {
		t.Fatalf("currency = %q, want default NGN", sale.Currency)
	}
	if sale.Subtotal != 900000 || sale.Total != 900000 {
		t.Fatalf("subtotal/total = %d/%d, want 900000/900000", sale.Subtotal, sale.Total)
	}
	if sale.AmountPaid != 1000000 || sale.ChangeGiven != 100000 {
		t.Fatalf("paid/change = %d/%d, want 1000000/100000", sale.AmountPaid, sale.ChangeGiven)
	}

	if got := repo.StockQuantity(1); got != 8 {
		t.Fatalf("stock after sale = %d, want 8", got)
	}
}

func TestCreateSale_SplitPaymentChangeFromCash(t *testing.T) {
	repo := seededRepo()
	svc := NewService(repo, nil, Options{})

	input := CreateSaleInput{
		ActorID:        7,
		IdempotencyKey: "key-split",
		Lines: []model.CartLine{
			{ProductID: 1, Quantity: 1, UnitPrice: 450000},
			{ProductID: 2, Quantity: 1, UnitPrice: 210000},
		},
		Tenders: []model.PaymentTender{
			{Method: model.TenderCash, Amount: 200000},
			{Method: model.TenderPOSMachine, Amount: 500000},
		},
	}

	res, err := svc.CreateSale(context.Background(), input)
	if err != nil {
		t.Fatalf("CreateSale error: %v", err)
	}
	if res.Sale.Total != 660000 {
		t.Fatalf("total = %d, want 660000", res.Sale.Total)
	}
	if res.Sale.ChangeGiven != 40000 {
		t.Fatalf("change = %d, want 40000 from the cash part", res.Sale.ChangeGiven)
	}
}

func TestCreateSale_InsufficientStockRollsBackAll(t *testing.T) {
	repo := seededRepo()
	svc := NewService(repo, nil, Options{})

	// Списание по первому товару проходит, по второму не хватает остатка.
	input := CreateSaleInput{
		ActorID:        7,
		IdempotencyKey: "key-short",
		Lines: []model.CartLine{
			{ProductID: 1, Quantity: 2, UnitPrice: 450000},
			{ProductID: 2, Quantity: 4, UnitPrice: 210000},
		},
		Tenders: []model.PaymentTender{
			{Method: model.TenderCash, Amount: 2000000},
		},
	}

	_, err := svc.CreateSale(context.Background(), input)
	if !fault.IsCode(err, fault.CodeInsufficientStock) {
		t.Fatalf("error = %v, want InsufficientStock", err)
	}
	var fe *fault.Error
	if errors.As(err, &fe) && fe.ProductID != 2 {
		t.Fatalf("product id = %d, want 2", fe.ProductID)
	}

	if got := repo.StockQuantity(1); got != 10 {
		t.Fatalf("stock for product 1 = %d, want 10 after rollback", got)
	}
	if got := repo.StockQuantity(2); got != 3 {
		t.Fatalf("stock for product 2 = %d, want 3 after rollback", got)
	}
}

func TestCreateSale_PaymentFailureRollsBackStock(t *testing.T) {
	repo := seededRepo()
	svc := NewService(repo, nil, Options{})

	input := cashSaleInput("key-underpaid")
	input.Tenders = []model.PaymentTender{{Method: model.TenderCash, Amount: 100}}

	_, err := svc.CreateSale(context.Background(), input)
	if !fault.IsCode(err, fault.CodeInsufficientPayment) {
		t.Fatalf("error = %v, want InsufficientPayment", err)
	}

	// Сверка оплат идёт после списания остатков, и её отказ обязан
	// откатить уже сделанные списания.
	if got := repo.StockQuantity(1); got != 10 {
		t.Fatalf("stock = %d, want 10 after payment failure", got)
	}
}

func TestCreateSale_ReplaySameKey(t *testing.T) {
	repo := seededRepo()
	svc := NewService(repo, nil, Options{})

	first, err := svc.CreateSale(context.Background(), cashSaleInput("key-replay"))
	if err != nil {
		t.Fatalf("first CreateSale error: %v", err)
	}

	second, err := svc.CreateSale(context.Background(), cashSaleInput("key-replay"))
	if err != nil {
		t.Fatalf("second CreateSale error: %v", err)
	}
	if !second.Replayed {
		t.Fatalf("second call must be a replay")
	}
	if second.Sale.TransactionNumber != first.Sale.TransactionNumber {
		t.Fatalf("replay returned number %q, want %q",
			second.Sale.TransactionNumber, first.Sale.TransactionNumber)
	}

	if got := repo.StockQuantity(1); got != 8 {
		t.Fatalf("stock = %d, want 8: replay must not decrement again", got)
	}
}

func TestCreateSale_FingerprintFallback(t *testing.T) {
	repo := seededRepo()
	svc := NewService(repo, nil, Options{})

	input := cashSaleInput("")

	first, err := svc.CreateSale(context.Background(), input)
	if err != nil {
		t.Fatalf("first CreateSale error: %v", err)
	}

	second, err := svc.CreateSale(context.Background(), input)
	if err != nil {
		t.Fatalf("second CreateSale error: %v", err)
	}
	if !second.Replayed {
		t.Fatalf("identical request without a key must replay")
	}
	if second.Sale.ID != first.Sale.ID {
		t.Fatalf("replay returned sale %d, want %d", second.Sale.ID, first.Sale.ID)
	}

	changed := input
	changed.Lines = []model.CartLine{{ProductID: 1, Quantity: 3, UnitPrice: 450000}}
	changed.Tenders = []model.PaymentTender{{Method: model.TenderCash, Amount: 1500000}}

	third, err := svc.CreateSale(context.Background(), changed)
	if err != nil {
		t.Fatalf("third CreateSale error: %v", err)
	}
	if third.Replayed {
		t.Fatalf("changed request must produce a new sale")
	}
}

func TestCreateSale_ValidationFaults(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*CreateSaleInput)
		wantCode fault.Code
	}{
		{
			name:     "empty cart",
			mutate:   func(in *CreateSaleInput) { in.Lines = nil },
			wantCode: fault.CodeEmptyCart,
		},
		{
			name: "zero quantity",
			mutate: func(in *CreateSaleInput) {
				in.Lines = []model.CartLine{{ProductID: 1, Quantity: 0, UnitPrice: 450000}}
			},
			wantCode: fault.CodeInvalidQuantity,
		},
		{
			name: "unknown product",
			mutate: func(in *CreateSaleInput) {
				in.Lines = []model.CartLine{{ProductID: 99, Quantity: 1, UnitPrice: 450000}}
			},
			wantCode: fault.CodeProductUnavailable,
		},
		{
			name: "price mismatch",
			mutate: func(in *CreateSaleInput) {
				in.Lines = []model.CartLine{{ProductID: 1, Quantity: 1, UnitPrice: 449000}}
			},
			wantCode: fault.CodePriceMismatch,
		},
		{
			name: "discount exceeds subtotal",
			mutate: func(in *CreateSaleInput) {
				in.OrderDiscount = 10000000
			},
			wantCode: fault.CodeDiscountExceedsSubtotal,
		},
		{
			name: "overpaid card",
			mutate: func(in *CreateSaleInput) {
				in.Tenders = []model.PaymentTender{{Method: model.TenderCard, Amount: 1000000}}
			},
			wantCode: fault.CodeOverpaymentNotAllowed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := seededRepo()
			svc := NewService(repo, nil, Options{})

			input := cashSaleInput("key-" + tt.name)
			tt.mutate(&input)

			_, err := svc.CreateSale(context.Background(), input)
			if !fault.IsCode(err, tt.wantCode) {
				t.Fatalf("error = %v, want code %s", err, tt.wantCode)
			}
			if got := repo.StockQuantity(1); got != 10 {
				t.Fatalf("stock = %d, want 10: rejected sale must not touch stock", got)
			}
		})
	}
}

func TestCreateSale_PriceTolerance(t *testing.T) {
	repo := seededRepo()
	svc := NewService(repo, nil, Options{PriceTolerance: 1500})

	input := cashSaleInput("key-tolerance")
	input.Lines = []model.CartLine{{ProductID: 1, Quantity: 2, UnitPrice: 449000}}

	res, err := svc.CreateSale(context.Background(), input)
	if err != nil {
		t.Fatalf("CreateSale error: %v", err)
	}
	// Продажа фиксируется по поданной цене, а не по каталожной.
	if res.Sale.Subtotal != 898000 {
		t.Fatalf("subtotal = %d, want 898000", res.Sale.Subtotal)
	}
}

func TestCreateSale_ConcurrentSalesNeverOversell(t *testing.T) {
	repo := repository.NewMemoryRepository()
	repo.AddProduct(model.Product{ID: 1, SKU: "SKU-1", Name: "Rice 5kg", Price: 450000, Active: true}, 10)
	svc := NewService(repo, nil, Options{})

	const workers = 7
	var (
		wg        sync.WaitGroup
		committed atomic.Int32
		rejected  atomic.Int32
	)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()

			input := cashSaleInput(fmt.Sprintf("key-concurrent-%d", n))
			_, err := svc.CreateSale(context.Background(), input)
			switch {
			case err == nil:
				committed.Add(1)
			case fault.IsCode(err, fault.CodeInsufficientStock):
				rejected.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	// Остатка 10 хватает ровно на пять продаж по две единицы.
	if committed.Load() != 5 {
		t.Fatalf("committed = %d, want 5", committed.Load())
	}
	if rejected.Load() != 2 {
		t.Fatalf("rejected = %d, want 2", rejected.Load())
	}
	if got := repo.StockQuantity(1); got != 0 {
		t.Fatalf("stock = %d, want exactly 0", got)
	}
}

// flakyRepo отказывает в Begin заданное число раз, затем передаёт работу
// настоящему хранилищу.
type flakyRepo struct {
	*repository.MemoryRepository
	failures atomic.Int32
	attempts atomic.Int32
}

func (f *flakyRepo) Begin(ctx context.Context) (repository.SaleTx, error) {
	f.attempts.Add(1)
	if f.failures.Add(-1) >= 0 {
		return nil, retry.RetryableError(errors.New("connection reset by peer"))
	}
	return f.MemoryRepository.Begin(ctx)
}

func TestCreateSale_RetriesTransientFailures(t *testing.T) {
	repo := &flakyRepo{MemoryRepository: seededRepo()}
	repo.failures.Store(2)
	svc := NewService(repo, nil, Options{})

	res, err := svc.CreateSale(context.Background(), cashSaleInput("key-flaky"))
	if err != nil {
		t.Fatalf("CreateSale error: %v", err)
	}
	if res.Replayed {
		t.Fatalf("sale must be committed, not replayed")
	}
	if got := repo.attempts.Load(); got != 3 {
		t.Fatalf("attempts = %d, want 3", got)
	}
	if got := repo.StockQuantity(1); got != 8 {
		t.Fatalf("stock = %d, want 8: retries must decrement once", got)
	}
}

func TestCreateSale_PersistenceFaultAfterRetries(t *testing.T) {
	repo := &flakyRepo{MemoryRepository: seededRepo()}
	repo.failures.Store(100)
	svc := NewService(repo, nil, Options{})

	_, err := svc.CreateSale(context.Background(), cashSaleInput("key-down"))
	if fault.KindOf(err) != fault.KindPersistence {
		t.Fatalf("error = %v, want persistence fault", err)
	}
	if got := repo.attempts.Load(); got != 4 {
		t.Fatalf("attempts = %d, want 1 initial + 3 retries", got)
	}
}

// fakeCache отдаёт заранее заданную продажу и запоминает записи.
type fakeCache struct {
	sale *model.Sale
	set  []*model.Sale
}

func (c *fakeCache) Get(ctx context.Context, key string) (*model.Sale, error) {
	return c.sale, nil
}

func (c *fakeCache) Set(ctx context.Context, key string, sale *model.Sale) error {
	c.set = append(c.set, sale)
	return nil
}

func TestCreateSale_CacheHitShortCircuits(t *testing.T) {
	prior := &model.Sale{
		ID:                42,
		TransactionNumber: "0000000018",
		IdempotencyKey:    "key-cached",
		CreatedAt:         time.Now(),
	}
	repo := seededRepo()
	svc := NewService(repo, &fakeCache{sale: prior}, Options{})

	res, err := svc.CreateSale(context.Background(), cashSaleInput("key-cached"))
	if err != nil {
		t.Fatalf("CreateSale error: %v", err)
	}
	if !res.Replayed || res.Sale.ID != 42 {
		t.Fatalf("expected cached replay of sale 42, got %+v", res)
	}
	if got := repo.StockQuantity(1); got != 10 {
		t.Fatalf("stock = %d, want 10: cached replay must not decrement", got)
	}
}

func TestCreateSale_StaleCacheEntryIgnored(t *testing.T) {
	stale := &model.Sale{
		ID:             42,
		IdempotencyKey: "key-stale",
		CreatedAt:      time.Now().Add(-48 * time.Hour),
	}
	cache := &fakeCache{sale: stale}
	repo := seededRepo()
	svc := NewService(repo, cache, Options{IdempotencyWindow: 24 * time.Hour})

	res, err := svc.CreateSale(context.Background(), cashSaleInput("key-stale"))
	if err != nil {
		t.Fatalf("CreateSale error: %v", err)
	}
	if res.Replayed {
		t.Fatalf("stale cache entry must not replay")
	}
	if len(cache.set) != 1 {
		t.Fatalf("committed sale must be written to cache, set calls = %d", len(cache.set))
	}
}

func TestSaleByNumber_NotFound(t *testing.T) {
	svc := NewService(seededRepo(), nil, Options{})

	_, err := svc.SaleByNumber(context.Background(), "0000000018")
	if !errors.Is(err, repository.ErrSaleNotFound) {
		t.Fatalf("error = %v, want ErrSaleNotFound", err)
	}
}

func TestReceiptByNumber(t *testing.T) {
	repo := seededRepo()
	svc := NewService(repo, nil, Options{})

	res, err := svc.CreateSale(context.Background(), cashSaleInput("key-receipt"))
	if err != nil {
		t.Fatalf("CreateSale error: %v", err)
	}

	rec, err := svc.ReceiptByNumber(context.Background(), res.Sale.TransactionNumber)
	if err != nil {
		t.Fatalf("ReceiptByNumber error: %v", err)
	}
	if rec.TransactionNumber != res.Sale.TransactionNumber {
		t.Fatalf("receipt number = %q, want %q", rec.TransactionNumber, res.Sale.TransactionNumber)
	}
	if len(rec.Lines) != 1 || rec.Lines[0].Name != "Rice 5kg" {
		t.Fatalf("receipt lines = %+v, want catalog name resolved", rec.Lines)
	}
	if rec.ChangeGiven != 100000 {
		t.Fatalf("receipt change = %d, want 100000", rec.ChangeGiven)
	}
}
