// Package service реализует бизнес-логику движка продаж.
package service

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/baawa1/baawa-inventory-sub000/internal/fault"
	"github.com/baawa1/baawa-inventory-sub000/internal/idempotency"
	"github.com/baawa1/baawa-inventory-sub000/internal/model"
	"github.com/baawa1/baawa-inventory-sub000/internal/money"
	"github.com/baawa1/baawa-inventory-sub000/internal/payment"
	"github.com/baawa1/baawa-inventory-sub000/internal/pricing"
	"github.com/baawa1/baawa-inventory-sub000/internal/receipt"
	"github.com/baawa1/baawa-inventory-sub000/internal/repository"
	"github.com/baawa1/baawa-inventory-sub000/internal/validation"
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	Ping(ctx context.Context) error
	ProductsByIDs(ctx context.Context, ids []int64) (map[int64]model.Product, error)
	ListProducts(ctx context.Context) ([]repository.ProductStock, error)
	SaleByIdempotencyKey(ctx context.Context, key string, since time.Time) (*model.Sale, error)
	SaleByTransactionNumber(ctx context.Context, number string) (*model.Sale, error)
	Begin(ctx context.Context) (repository.SaleTx, error)
}

// Options задаёт параметры проведения продаж.
type Options struct {
	// Currency — валюта всех сумм, ISO 4217.
	Currency string
	// PriceTolerance — допустимое расхождение поданной цены с каталожной
	// в минорных единицах.
	PriceTolerance money.Money
	// IdempotencyWindow — окно, в котором повтор запроса с тем же ключом
	// возвращает прежний результат.
	IdempotencyWindow time.Duration
}

// Service содержит бизнес-логику движка продаж.
type Service struct {
	repo  Repository
	cache idempotency.Cache
	opts  Options
}

// NewService создаёт новый сервис с указанным репозиторием и необязательным
// кэшем результатов по ключу идемпотентности.
func NewService(repo Repository, cache idempotency.Cache, opts Options) *Service {
	if opts.Currency == "" {
		opts.Currency = "NGN"
	}
	if opts.IdempotencyWindow <= 0 {
		opts.IdempotencyWindow = 24 * time.Hour
	}
	return &Service{
		repo:  repo,
		cache: cache,
		opts:  opts,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// Ping проверяет доступность хранилища.
func (s *Service) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

// CreateSaleInput — запрос кассы на проведение продажи.
type CreateSaleInput struct {
	ActorID        int64
	IdempotencyKey string
	Lines          []model.CartLine
	OrderDiscount  money.Money
	TaxAmount      money.Money
	Tenders        []model.PaymentTender
	CustomerRef    *string
}

// CreateSaleResult — результат проведения продажи. Replayed выставляется,
// когда вернулась ранее зафиксированная продажа по тому же ключу.
type CreateSaleResult struct {
	Sale     *model.Sale
	Replayed bool
}

// CreateSale проводит продажу: валидирует корзину, рассчитывает стоимость,
// списывает остатки, сверяет оплаты и фиксирует продажу одной транзакцией.
// Повтор запроса с тем же ключом идемпотентности внутри окна возвращает
// прежний результат без повторного списания.
func (s *Service) CreateSale(ctx context.Context, input CreateSaleInput) (*CreateSaleResult, error) {
	key := input.IdempotencyKey
	if key == "" {
		var ref string
		if input.CustomerRef != nil {
			ref = *input.CustomerRef
		}
		key = idempotency.Fingerprint(input.ActorID, input.Lines, input.OrderDiscount,
			input.TaxAmount, input.Tenders, ref)
	}

	since := time.Now().Add(-s.opts.IdempotencyWindow)
	prior, err := s.priorSale(ctx, key, since)
	if err != nil {
		return nil, err
	}
	if prior != nil {
		return &CreateSaleResult{Sale: prior, Replayed: true}, nil
	}

	catalog, err := s.repo.ProductsByIDs(ctx, productIDs(input.Lines))
	if err != nil {
		return nil, fault.Persistence("catalog lookup failed", err)
	}
	if err := validation.ValidateCart(input.Lines, catalog, s.opts.PriceTolerance); err != nil {
		return nil, err
	}

	priced, err := pricing.Compute(input.Lines, input.OrderDiscount, input.TaxAmount)
	if err != nil {
		return nil, err
	}

	demand := stockDemand(input.Lines)

	var stored *model.Sale
	err = retry.Do(ctx, retry.WithMaxRetries(3, retry.NewExponential(100*time.Millisecond)),
		func(ctx context.Context) error {
			var attemptErr error
			stored, attemptErr = s.attemptSale(ctx, key, input, priced, demand)
			return attemptErr
		})
	if err != nil {
		if fault.KindOf(err) != "" {
			return nil, err
		}
		return nil, fault.Persistence("sale was not recorded", err)
	}

	if s.cache != nil {
		_ = s.cache.Set(ctx, key, stored)
	}

	return &CreateSaleResult{Sale: stored, Replayed: false}, nil
}

// priorSale ищет ранее зафиксированную продажу по ключу идемпотентности:
// сначала в кэше, затем в хранилище. Отказ кэша не прерывает проведение.
func (s *Service) priorSale(ctx context.Context, key string, since time.Time) (*model.Sale, error) {
	if s.cache != nil {
		if sale, err := s.cache.Get(ctx, key); err == nil && sale != nil && !sale.CreatedAt.Before(since) {
			return sale, nil
		}
	}

	sale, err := s.repo.SaleByIdempotencyKey(ctx, key, since)
	if errors.Is(err, repository.ErrSaleNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fault.Persistence("idempotency lookup failed", err)
	}
	return sale, nil
}

// attemptSale выполняет одну попытку проведения продажи в транзакции.
// Порядок шагов фиксирован: сначала списание остатков, затем сверка оплат,
// затем запись продажи. Отказ любого шага откатывает транзакцию целиком.
func (s *Service) attemptSale(ctx context.Context, key string, input CreateSaleInput, priced *pricing.Pricing, demand []stockRequirement) (*model.Sale, error) {
	tx, err := s.repo.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	for _, d := range demand {
		if err := tx.DecrementStock(ctx, d.productID, d.quantity); err != nil {
			return nil, err
		}
	}

	recon, err := payment.Reconcile(priced.Total, input.Tenders)
	if err != nil {
		return nil, err
	}

	items := make([]model.SaleItem, 0, len(priced.Lines))
	for _, line := range priced.Lines {
		items = append(items, model.SaleItem{
			ProductID:           line.ProductID,
			Quantity:            line.Quantity,
			UnitPrice:           line.UnitPrice,
			LineDiscountPercent: line.LineDiscountPercent,
			LineTotal:           line.LineTotal,
		})
	}

	sale := &model.Sale{
		CreatedBy:      input.ActorID,
		CustomerRef:    input.CustomerRef,
		Currency:       s.opts.Currency,
		Items:          items,
		Tenders:        input.Tenders,
		Subtotal:       priced.Subtotal,
		DiscountAmount: priced.OrderDiscount,
		TaxAmount:      priced.TaxAmount,
		Total:          priced.Total,
		AmountPaid:     recon.AmountPaid,
		ChangeGiven:    recon.ChangeGiven,
		IdempotencyKey: key,
	}

	stored, err := tx.InsertSale(ctx, sale)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return stored, nil
}

type stockRequirement struct {
	productID int64
	quantity  int64
}

// stockDemand сводит строки корзины к требуемому списанию по каждому товару.
// Списания идут в порядке возрастания идентификаторов, чтобы параллельные
// продажи не вставали во взаимную блокировку.
func stockDemand(lines []model.CartLine) []stockRequirement {
	perProduct := make(map[int64]int64, len(lines))
	for _, line := range lines {
		perProduct[line.ProductID] += line.Quantity
	}

	demand := make([]stockRequirement, 0, len(perProduct))
	for id, quantity := range perProduct {
		demand = append(demand, stockRequirement{productID: id, quantity: quantity})
	}
	sort.Slice(demand, func(i, j int) bool { return demand[i].productID < demand[j].productID })
	return demand
}

func productIDs(lines []model.CartLine) []int64 {
	seen := make(map[int64]struct{}, len(lines))
	ids := make([]int64, 0, len(lines))
	for _, line := range lines {
		if _, ok := seen[line.ProductID]; ok {
			continue
		}
		seen[line.ProductID] = struct{}{}
		ids = append(ids, line.ProductID)
	}
	return ids
}

// SaleByNumber возвращает продажу по номеру чека.
func (s *Service) SaleByNumber(ctx context.Context, number string) (*model.Sale, error) {
	return s.repo.SaleByTransactionNumber(ctx, number)
}

// ReceiptByNumber собирает чек по зафиксированной продаже.
func (s *Service) ReceiptByNumber(ctx context.Context, number string) (*receipt.Receipt, error) {
	sale, err := s.repo.SaleByTransactionNumber(ctx, number)
	if err != nil {
		return nil, err
	}

	ids := make([]int64, 0, len(sale.Items))
	for _, item := range sale.Items {
		ids = append(ids, item.ProductID)
	}
	products, err := s.repo.ProductsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	return receipt.Build(sale, products), nil
}

// ListProducts возвращает активные товары каталога с остатками.
func (s *Service) ListProducts(ctx context.Context) ([]repository.ProductStock, error) {
	return s.repo.ListProducts(ctx)
}
