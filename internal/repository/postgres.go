// Package repository содержит реализации хранилища движка продаж.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"

	"github.com/baawa1/baawa-inventory-sub000/internal/fault"
	"github.com/baawa1/baawa-inventory-sub000/internal/model"
	"github.com/baawa1/baawa-inventory-sub000/internal/outbox"
	"github.com/baawa1/baawa-inventory-sub000/internal/validation"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrSaleNotFound возвращается, если продажа не найдена.
var ErrSaleNotFound = errors.New("sale not found")

// ProductStock — товар каталога вместе с текущим остатком.
type ProductStock struct {
	Product  model.Product
	Quantity int64
}

// SaleTx — транзакция проведения одной продажи. Списание остатков и вставка
// записи продажи видны снаружи только после Commit; любая ошибка до него
// откатывает всё сделанное.
type SaleTx interface {
	// DecrementStock условно списывает количество товара. Если остатка не
	// хватает, возвращает конфликт нехватки; остаток при этом не меняется.
	DecrementStock(ctx context.Context, productID, quantity int64) error
	// InsertSale присваивает продаже номер и идентификатор, сохраняет её
	// вместе со строками, оплатами, ключом идемпотентности и событием outbox.
	InsertSale(ctx context.Context, sale *model.Sale) (*model.Sale, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД
// через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// classify оборачивает ошибку хранилища. Сбои сериализации, дедлоки и
// сетевые обрывы помечаются как повторяемые: оркестратор проведения продажи
// повторит всю транзакцию с экспоненциальной задержкой.
func classify(op string, err error) error {
	wrapped := fmt.Errorf("%s: %w", op, err)

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return wrapped
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
			return retry.RetryableError(wrapped)
		}
		return wrapped
	}

	if isConnectionError(err) {
		return retry.RetryableError(wrapped)
	}

	return wrapped
}

func isConnectionError(err error) bool {
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// Ping проверяет доступность хранилища.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// ProductsByIDs возвращает товары каталога по идентификаторам. Отсутствующие
// идентификаторы просто не попадают в результат.
func (r *PostgresRepository) ProductsByIDs(ctx context.Context, ids []int64) (map[int64]model.Product, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, sku, name, price, active, created_at
		 FROM products
		 WHERE id = ANY($1)`,
		ids,
	)
	if err != nil {
		return nil, fmt.Errorf("select products: %w", err)
	}
	defer rows.Close()

	products := make(map[int64]model.Product, len(ids))
	for rows.Next() {
		var p model.Product
		if err := rows.Scan(&p.ID, &p.SKU, &p.Name, &p.Price, &p.Active, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products[p.ID] = p
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return products, nil
}

// ListProducts возвращает активные товары каталога с текущими остатками.
func (r *PostgresRepository) ListProducts(ctx context.Context) ([]ProductStock, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT p.id, p.sku, p.name, p.price, p.active, p.created_at, COALESCE(s.quantity, 0)
		 FROM products p
		 LEFT JOIN stock_levels s ON s.product_id = p.id
		 WHERE p.active
		 ORDER BY p.id`,
	)
	if err != nil {
		return nil, fmt.Errorf("select products: %w", err)
	}
	defer rows.Close()

	var res []ProductStock
	for rows.Next() {
		var ps ProductStock
		if err := rows.Scan(&ps.Product.ID, &ps.Product.SKU, &ps.Product.Name,
			&ps.Product.Price, &ps.Product.Active, &ps.Product.CreatedAt, &ps.Quantity); err != nil {
			return nil, fmt.Errorf("scan product stock: %w", err)
		}
		res = append(res, ps)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

const saleColumns = `id, transaction_number, created_by, customer_ref, currency,
	subtotal, discount_amount, tax_amount, total, amount_paid, change_given,
	idempotency_key, created_at`

// SaleByIdempotencyKey возвращает продажу по ключу идемпотентности, если она
// зафиксирована не раньше since.
func (r *PostgresRepository) SaleByIdempotencyKey(ctx context.Context, key string, since time.Time) (*model.Sale, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+saleColumns+`
		 FROM sales
		 WHERE idempotency_key = $1 AND created_at >= $2`,
		key, since,
	)
	return r.loadSale(ctx, row)
}

// SaleByTransactionNumber возвращает продажу по номеру чека.
func (r *PostgresRepository) SaleByTransactionNumber(ctx context.Context, number string) (*model.Sale, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+saleColumns+`
		 FROM sales
		 WHERE transaction_number = $1`,
		number,
	)
	return r.loadSale(ctx, row)
}

func (r *PostgresRepository) loadSale(ctx context.Context, row pgx.Row) (*model.Sale, error) {
	var s model.Sale
	err := row.Scan(&s.ID, &s.TransactionNumber, &s.CreatedBy, &s.CustomerRef, &s.Currency,
		&s.Subtotal, &s.DiscountAmount, &s.TaxAmount, &s.Total, &s.AmountPaid, &s.ChangeGiven,
		&s.IdempotencyKey, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSaleNotFound
		}
		return nil, fmt.Errorf("scan sale: %w", err)
	}

	if s.Items, err = r.saleItems(ctx, s.ID); err != nil {
		return nil, err
	}
	if s.Tenders, err = r.saleTenders(ctx, s.ID); err != nil {
		return nil, err
	}

	return &s, nil
}

func (r *PostgresRepository) saleItems(ctx context.Context, saleID int64) ([]model.SaleItem, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT product_id, quantity, unit_price, discount_percent, line_total
		 FROM sale_items
		 WHERE sale_id = $1
		 ORDER BY id`,
		saleID,
	)
	if err != nil {
		return nil, fmt.Errorf("select sale items: %w", err)
	}
	defer rows.Close()

	var items []model.SaleItem
	for rows.Next() {
		var it model.SaleItem
		if err := rows.Scan(&it.ProductID, &it.Quantity, &it.UnitPrice, &it.LineDiscountPercent, &it.LineTotal); err != nil {
			return nil, fmt.Errorf("scan sale item: %w", err)
		}
		items = append(items, it)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return items, nil
}

func (r *PostgresRepository) saleTenders(ctx context.Context, saleID int64) ([]model.PaymentTender, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT method, amount
		 FROM sale_tenders
		 WHERE sale_id = $1
		 ORDER BY id`,
		saleID,
	)
	if err != nil {
		return nil, fmt.Errorf("select sale tenders: %w", err)
	}
	defer rows.Close()

	var tenders []model.PaymentTender
	for rows.Next() {
		var t model.PaymentTender
		if err := rows.Scan(&t.Method, &t.Amount); err != nil {
			return nil, fmt.Errorf("scan sale tender: %w", err)
		}
		tenders = append(tenders, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return tenders, nil
}

// Begin открывает транзакцию проведения продажи. Уровень изоляции
// serializable закрывает фантомные чтения остатков между проверкой и
// списанием; сбои сериализации классифицируются как повторяемые.
func (r *PostgresRepository) Begin(ctx context.Context) (SaleTx, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return nil, classify("begin tx", err)
	}
	return &postgresSaleTx{tx: tx}, nil
}

type postgresSaleTx struct {
	tx pgx.Tx
}

// DecrementStock выполняет условное списание: строка остатка обновляется
// только если текущего количества хватает. Ноль затронутых строк означает
// нехватку остатка.
func (t *postgresSaleTx) DecrementStock(ctx context.Context, productID, quantity int64) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE stock_levels
		 SET quantity = quantity - $2, version = version + 1, updated_at = now()
		 WHERE product_id = $1 AND quantity >= $2`,
		productID, quantity,
	)
	if err != nil {
		return classify("decrement stock", err)
	}

	if tag.RowsAffected() == 0 {
		return fault.InsufficientStock(productID)
	}

	return nil
}

// InsertSale присваивает номер из последовательности и сохраняет продажу со
// строками, оплатами и событием outbox одной транзакцией. Конфликт по ключу
// идемпотентности означает, что параллельный дубликат уже зафиксирован.
func (t *postgresSaleTx) InsertSale(ctx context.Context, sale *model.Sale) (*model.Sale, error) {
	var seq int64
	if err := t.tx.QueryRow(ctx, `SELECT nextval('sale_number_seq')`).Scan(&seq); err != nil {
		return nil, classify("next sale number", err)
	}
	sale.TransactionNumber = validation.FormatTransactionNumber(seq)

	err := t.tx.QueryRow(ctx,
		`INSERT INTO sales (transaction_number, created_by, customer_ref, currency,
		                    subtotal, discount_amount, tax_amount, total,
		                    amount_paid, change_given, idempotency_key)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING id, created_at`,
		sale.TransactionNumber, sale.CreatedBy, sale.CustomerRef, sale.Currency,
		sale.Subtotal, sale.DiscountAmount, sale.TaxAmount, sale.Total,
		sale.AmountPaid, sale.ChangeGiven, sale.IdempotencyKey,
	).Scan(&sale.ID, &sale.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return nil, fault.Conflict(fault.CodeDuplicateRequest,
				"sale with this idempotency key is already recorded")
		}
		return nil, classify("insert sale", err)
	}

	for _, item := range sale.Items {
		_, err := t.tx.Exec(ctx,
			`INSERT INTO sale_items (sale_id, product_id, quantity, unit_price, discount_percent, line_total)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			sale.ID, item.ProductID, item.Quantity, item.UnitPrice, item.LineDiscountPercent, item.LineTotal,
		)
		if err != nil {
			return nil, classify("insert sale item", err)
		}
	}

	for _, tender := range sale.Tenders {
		_, err := t.tx.Exec(ctx,
			`INSERT INTO sale_tenders (sale_id, method, amount) VALUES ($1, $2, $3)`,
			sale.ID, string(tender.Method), tender.Amount,
		)
		if err != nil {
			return nil, classify("insert sale tender", err)
		}
	}

	rec, err := outbox.NewSaleCommitted(sale)
	if err != nil {
		return nil, fmt.Errorf("build sale event: %w", err)
	}
	_, err = t.tx.Exec(ctx,
		`INSERT INTO outbox (event_id, topic, key, payload) VALUES ($1, $2, $3, $4)`,
		rec.EventID, rec.Topic, rec.Key, rec.Payload,
	)
	if err != nil {
		return nil, classify("insert outbox event", err)
	}

	return sale, nil
}

// Commit фиксирует транзакцию. На уровне serializable конфликт может
// проявиться именно здесь, поэтому ошибка коммита тоже классифицируется.
func (t *postgresSaleTx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		return classify("commit tx", err)
	}
	return nil
}

// Rollback откатывает транзакцию. После успешного Commit вызов безвреден.
func (t *postgresSaleTx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("rollback tx: %w", err)
	}
	return nil
}

// FetchPendingEvents возвращает неопубликованные события outbox в порядке
// создания.
func (r *PostgresRepository) FetchPendingEvents(ctx context.Context, limit int) ([]outbox.Record, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, event_id, topic, key, payload, created_at, sent_at
		 FROM outbox
		 WHERE sent_at IS NULL
		 ORDER BY id
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select pending events: %w", err)
	}
	defer rows.Close()

	var res []outbox.Record
	for rows.Next() {
		var rec outbox.Record
		if err := rows.Scan(&rec.ID, &rec.EventID, &rec.Topic, &rec.Key, &rec.Payload, &rec.CreatedAt, &rec.SentAt); err != nil {
			return nil, fmt.Errorf("scan outbox record: %w", err)
		}
		res = append(res, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// MarkEventSent отмечает событие outbox опубликованным.
func (r *PostgresRepository) MarkEventSent(ctx context.Context, id int64) error {
	_, err := r.pool.Exec(ctx, `UPDATE outbox SET sent_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark event sent: %w", err)
	}
	return nil
}
