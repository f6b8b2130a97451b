package repository

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/baawa1/baawa-inventory-sub000/internal/fault"
	"github.com/baawa1/baawa-inventory-sub000/internal/model"
	"github.com/baawa1/baawa-inventory-sub000/internal/outbox"
	"github.com/baawa1/baawa-inventory-sub000/internal/validation"
)

// MemoryRepository хранит данные в памяти. Используется в тестах и в
// демо-режиме без PostgreSQL. Контракт условного списания остатков совпадает
// с PostgreSQL: списание либо проходит целиком, либо не меняет остаток.
type MemoryRepository struct {
	mu sync.RWMutex

	products map[int64]model.Product
	stock    map[int64]*model.StockLevel

	salesByID     map[int64]*model.Sale
	salesByKey    map[string]*model.Sale
	salesByNumber map[string]*model.Sale

	events []outbox.Record

	nextSaleID  int64
	nextSeq     int64
	nextEventID int64
}

// NewMemoryRepository создаёт пустое хранилище в памяти.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		products:      make(map[int64]model.Product),
		stock:         make(map[int64]*model.StockLevel),
		salesByID:     make(map[int64]*model.Sale),
		salesByKey:    make(map[string]*model.Sale),
		salesByNumber: make(map[string]*model.Sale),
	}
}

// AddProduct добавляет товар каталога и его начальный остаток.
func (r *MemoryRepository) AddProduct(p model.Product, quantity int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	r.products[p.ID] = p
	r.stock[p.ID] = &model.StockLevel{
		ProductID: p.ID,
		Quantity:  quantity,
		UpdatedAt: p.CreatedAt,
	}
}

// StockQuantity возвращает текущий остаток товара.
func (r *MemoryRepository) StockQuantity(productID int64) int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if sl, ok := r.stock[productID]; ok {
		return sl.Quantity
	}
	return 0
}

// Close освобождает ресурсы хранилища.
func (r *MemoryRepository) Close() error {
	return nil
}

// Ping проверяет доступность хранилища.
func (r *MemoryRepository) Ping(ctx context.Context) error {
	return nil
}

// ProductsByIDs возвращает товары каталога по идентификаторам.
func (r *MemoryRepository) ProductsByIDs(ctx context.Context, ids []int64) (map[int64]model.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	res := make(map[int64]model.Product, len(ids))
	for _, id := range ids {
		if p, ok := r.products[id]; ok {
			res[id] = p
		}
	}
	return res, nil
}

// ListProducts возвращает активные товары с текущими остатками.
func (r *MemoryRepository) ListProducts(ctx context.Context) ([]ProductStock, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var res []ProductStock
	for id, p := range r.products {
		if !p.Active {
			continue
		}
		var quantity int64
		if sl, ok := r.stock[id]; ok {
			quantity = sl.Quantity
		}
		res = append(res, ProductStock{Product: p, Quantity: quantity})
	}

	sort.Slice(res, func(i, j int) bool { return res[i].Product.ID < res[j].Product.ID })
	return res, nil
}

// SaleByIdempotencyKey возвращает продажу по ключу идемпотентности, если она
// зафиксирована не раньше since.
func (r *MemoryRepository) SaleByIdempotencyKey(ctx context.Context, key string, since time.Time) (*model.Sale, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sale, ok := r.salesByKey[key]
	if !ok || sale.CreatedAt.Before(since) {
		return nil, ErrSaleNotFound
	}
	return cloneSale(sale), nil
}

// SaleByTransactionNumber возвращает продажу по номеру чека.
func (r *MemoryRepository) SaleByTransactionNumber(ctx context.Context, number string) (*model.Sale, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sale, ok := r.salesByNumber[number]
	if !ok {
		return nil, ErrSaleNotFound
	}
	return cloneSale(sale), nil
}

// Begin открывает транзакцию проведения продажи. Блокировка хранилища
// удерживается до Commit или Rollback, что сериализует продажи так же
// строго, как serializable-транзакция в PostgreSQL.
func (r *MemoryRepository) Begin(ctx context.Context) (SaleTx, error) {
	r.mu.Lock()
	return &memorySaleTx{repo: r}, nil
}

type memorySaleTx struct {
	repo *MemoryRepository
	undo []func()
	done bool
}

// DecrementStock условно списывает остаток; при нехватке остаток не меняется.
func (t *memorySaleTx) DecrementStock(ctx context.Context, productID, quantity int64) error {
	sl, ok := t.repo.stock[productID]
	if !ok || sl.Quantity < quantity {
		return fault.InsufficientStock(productID)
	}

	sl.Quantity -= quantity
	sl.Version++
	sl.UpdatedAt = time.Now().UTC()

	t.undo = append(t.undo, func() {
		sl.Quantity += quantity
		sl.Version--
	})
	return nil
}

// InsertSale присваивает продаже номер и идентификатор и сохраняет её вместе
// с событием outbox.
func (t *memorySaleTx) InsertSale(ctx context.Context, sale *model.Sale) (*model.Sale, error) {
	if _, exists := t.repo.salesByKey[sale.IdempotencyKey]; exists {
		return nil, fault.Conflict(fault.CodeDuplicateRequest,
			"sale with this idempotency key is already recorded")
	}

	// Пропуски в номерах при откате допустимы, как и у последовательности
	// PostgreSQL, поэтому счётчики назад не отматываются.
	t.repo.nextSaleID++
	t.repo.nextSeq++

	sale.ID = t.repo.nextSaleID
	sale.TransactionNumber = validation.FormatTransactionNumber(t.repo.nextSeq)
	sale.CreatedAt = time.Now().UTC()

	stored := cloneSale(sale)
	t.repo.salesByID[stored.ID] = stored
	t.repo.salesByKey[stored.IdempotencyKey] = stored
	t.repo.salesByNumber[stored.TransactionNumber] = stored

	rec, err := outbox.NewSaleCommitted(stored)
	if err != nil {
		return nil, err
	}
	t.repo.nextEventID++
	rec.ID = t.repo.nextEventID
	t.repo.events = append(t.repo.events, rec)

	t.undo = append(t.undo, func() {
		delete(t.repo.salesByID, stored.ID)
		delete(t.repo.salesByKey, stored.IdempotencyKey)
		delete(t.repo.salesByNumber, stored.TransactionNumber)
		t.repo.events = t.repo.events[:len(t.repo.events)-1]
	})

	return cloneSale(stored), nil
}

// Commit фиксирует транзакцию и освобождает хранилище.
func (t *memorySaleTx) Commit(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.undo = nil
	t.repo.mu.Unlock()
	return nil
}

// Rollback отменяет все изменения транзакции в обратном порядке.
func (t *memorySaleTx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true

	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
	t.repo.mu.Unlock()
	return nil
}

// FetchPendingEvents возвращает неопубликованные события outbox.
func (r *MemoryRepository) FetchPendingEvents(ctx context.Context, limit int) ([]outbox.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var res []outbox.Record
	for _, rec := range r.events {
		if rec.SentAt != nil {
			continue
		}
		res = append(res, rec)
		if len(res) == limit {
			break
		}
	}
	return res, nil
}

// MarkEventSent отмечает событие outbox опубликованным.
func (r *MemoryRepository) MarkEventSent(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.events {
		if r.events[i].ID == id {
			now := time.Now().UTC()
			r.events[i].SentAt = &now
			return nil
		}
	}
	return nil
}

func cloneSale(s *model.Sale) *model.Sale {
	cp := *s
	cp.Items = slices.Clone(s.Items)
	cp.Tenders = slices.Clone(s.Tenders)
	return &cp
}
