// Package handler содержит HTTP-обработчики API движка продаж.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/baawa1/baawa-inventory-sub000/internal/fault"
	"github.com/baawa1/baawa-inventory-sub000/internal/idempotency"
	"github.com/baawa1/baawa-inventory-sub000/internal/metrics"
	"github.com/baawa1/baawa-inventory-sub000/internal/middleware"
	"github.com/baawa1/baawa-inventory-sub000/internal/model"
	"github.com/baawa1/baawa-inventory-sub000/internal/money"
	"github.com/baawa1/baawa-inventory-sub000/internal/receipt"
	"github.com/baawa1/baawa-inventory-sub000/internal/repository"
	"github.com/baawa1/baawa-inventory-sub000/internal/service"
	"github.com/baawa1/baawa-inventory-sub000/internal/validation"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	CreateSale(ctx context.Context, input service.CreateSaleInput) (*service.CreateSaleResult, error)
	SaleByNumber(ctx context.Context, number string) (*model.Sale, error)
	ReceiptByNumber(ctx context.Context, number string) (*receipt.Receipt, error)
	ListProducts(ctx context.Context) ([]repository.ProductStock, error)
	Ping(ctx context.Context) error
}

// Handler реализует HTTP-обработчики API движка продаж.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	metrics        *metrics.Metrics
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов. Метрики
// необязательны: с nil обработчик работает без учёта.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware, m *metrics.Metrics) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
		metrics:        m,
	}
}

type saleItemRequest struct {
	ProductID       int64 `json:"product_id"`
	Quantity        int64 `json:"quantity"`
	UnitPrice       int64 `json:"unit_price"`
	DiscountPercent int   `json:"discount_percent"`
}

type tenderRequest struct {
	Method string `json:"method"`
	Amount int64  `json:"amount"`
}

type createSaleRequest struct {
	Items         []saleItemRequest `json:"items"`
	OrderDiscount int64             `json:"order_discount"`
	TaxAmount     int64             `json:"tax_amount"`
	Tenders       []tenderRequest   `json:"tenders"`
	CustomerRef   *string           `json:"customer_ref,omitempty"`
}

type saleItemResponse struct {
	ProductID       int64 `json:"product_id"`
	Quantity        int64 `json:"quantity"`
	UnitPrice       int64 `json:"unit_price"`
	DiscountPercent int   `json:"discount_percent,omitempty"`
	LineTotal       int64 `json:"line_total"`
}

type tenderResponse struct {
	Method string `json:"method"`
	Amount int64  `json:"amount"`
}

type saleResponse struct {
	TransactionNumber string             `json:"transaction_number"`
	CreatedBy         int64              `json:"created_by"`
	Currency          string             `json:"currency"`
	Items             []saleItemResponse `json:"items"`
	Tenders           []tenderResponse   `json:"tenders"`
	Subtotal          int64              `json:"subtotal"`
	DiscountAmount    int64              `json:"discount_amount"`
	TaxAmount         int64              `json:"tax_amount"`
	Total             int64              `json:"total"`
	AmountPaid        int64              `json:"amount_paid"`
	ChangeGiven       int64              `json:"change_given"`
	CustomerRef       *string            `json:"customer_ref,omitempty"`
	CreatedAt         string             `json:"created_at"`
}

type errorResponse struct {
	Kind      string `json:"kind"`
	Code      string `json:"code"`
	Field     string `json:"field,omitempty"`
	ProductID int64  `json:"product_id,omitempty"`
	Message   string `json:"message"`
}

func toSaleResponse(sale *model.Sale) saleResponse {
	resp := saleResponse{
		TransactionNumber: sale.TransactionNumber,
		CreatedBy:         sale.CreatedBy,
		Currency:          sale.Currency,
		Items:             make([]saleItemResponse, 0, len(sale.Items)),
		Tenders:           make([]tenderResponse, 0, len(sale.Tenders)),
		Subtotal:          int64(sale.Subtotal),
		DiscountAmount:    int64(sale.DiscountAmount),
		TaxAmount:         int64(sale.TaxAmount),
		Total:             int64(sale.Total),
		AmountPaid:        int64(sale.AmountPaid),
		ChangeGiven:       int64(sale.ChangeGiven),
		CustomerRef:       sale.CustomerRef,
		CreatedAt:         sale.CreatedAt.Format(time.RFC3339),
	}

	for _, item := range sale.Items {
		resp.Items = append(resp.Items, saleItemResponse{
			ProductID:       item.ProductID,
			Quantity:        item.Quantity,
			UnitPrice:       int64(item.UnitPrice),
			DiscountPercent: item.LineDiscountPercent,
			LineTotal:       int64(item.LineTotal),
		})
	}
	for _, t := range sale.Tenders {
		resp.Tenders = append(resp.Tenders, tenderResponse{
			Method: string(t.Method),
			Amount: int64(t.Amount),
		})
	}

	return resp
}

// CreateSale проводит продажу от имени аутентифицированного кассира.
// Повтор с тем же ключом идемпотентности возвращает прежний результат
// со статусом 200 вместо 201.
func (h *Handler) CreateSale(w http.ResponseWriter, r *http.Request) {
	actorID, ok := middleware.GetActorIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req createSaleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeFault(w, fault.Validation(fault.CodeMalformedPayload, "", "request body is not valid JSON"))
		return
	}

	input := service.CreateSaleInput{
		ActorID:        actorID,
		IdempotencyKey: r.Header.Get(idempotency.HeaderName),
		OrderDiscount:  money.Money(req.OrderDiscount),
		TaxAmount:      money.Money(req.TaxAmount),
		CustomerRef:    req.CustomerRef,
	}
	for _, item := range req.Items {
		input.Lines = append(input.Lines, model.CartLine{
			ProductID:           item.ProductID,
			Quantity:            item.Quantity,
			UnitPrice:           money.Money(item.UnitPrice),
			LineDiscountPercent: item.DiscountPercent,
		})
	}
	for _, t := range req.Tenders {
		input.Tenders = append(input.Tenders, model.PaymentTender{
			Method: model.TenderMethod(t.Method),
			Amount: money.Money(t.Amount),
		})
	}

	res, err := h.service.CreateSale(r.Context(), input)
	if err != nil {
		h.countRejected(err)
		h.writeFault(w, err)
		return
	}

	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	} else if h.metrics != nil {
		h.metrics.SalesCommitted.Inc()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(toSaleResponse(res.Sale)); err != nil {
		h.logger.Error("encode sale response", zap.Error(err))
	}
}

// GetSale возвращает продажу по номеру чека.
func (h *Handler) GetSale(w http.ResponseWriter, r *http.Request) {
	number := chi.URLParam(r, "number")
	if !validation.IsValidTransactionNumber(number) {
		http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		return
	}

	sale, err := h.service.SaleByNumber(r.Context(), number)
	if err != nil {
		if errors.Is(err, repository.ErrSaleNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("get sale error", zap.Error(err), zap.String("number", number))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(toSaleResponse(sale)); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
}

// GetReceipt возвращает чек по номеру продажи.
func (h *Handler) GetReceipt(w http.ResponseWriter, r *http.Request) {
	number := chi.URLParam(r, "number")
	if !validation.IsValidTransactionNumber(number) {
		http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		return
	}

	rec, err := h.service.ReceiptByNumber(r.Context(), number)
	if err != nil {
		if errors.Is(err, repository.ErrSaleNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("get receipt error", zap.Error(err), zap.String("number", number))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(rec); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
}

type productResponse struct {
	ID       int64  `json:"id"`
	SKU      string `json:"sku"`
	Name     string `json:"name"`
	Price    int64  `json:"price"`
	Quantity int64  `json:"quantity"`
}

// ListProducts возвращает активные товары каталога с остатками.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.service.ListProducts(r.Context())
	if err != nil {
		h.logger.Error("list products error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(products) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]productResponse, 0, len(products))
	for _, p := range products {
		resp = append(resp, productResponse{
			ID:       p.Product.ID,
			SKU:      p.Product.SKU,
			Name:     p.Product.Name,
			Price:    int64(p.Product.Price),
			Quantity: p.Quantity,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
}

// Health сообщает о доступности сервиса и его хранилища.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Ping(r.Context()); err != nil {
		h.logger.Error("health check failed", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) writeFault(w http.ResponseWriter, err error) {
	var fe *fault.Error
	if !errors.As(err, &fe) {
		h.logger.Error("sale processing error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if fe.Kind == fault.KindPersistence {
		h.logger.Error("sale persistence error", zap.Error(fe))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusForFault(fe))
	_ = json.NewEncoder(w).Encode(errorResponse{
		Kind:      string(fe.Kind),
		Code:      string(fe.Code),
		Field:     fe.Field,
		ProductID: fe.ProductID,
		Message:   fe.Message,
	})
}

func statusForFault(fe *fault.Error) int {
	switch fe.Kind {
	case fault.KindValidation:
		if fe.Code == fault.CodeInsufficientPayment || fe.Code == fault.CodeOverpaymentNotAllowed {
			return http.StatusUnprocessableEntity
		}
		return http.StatusBadRequest
	case fault.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) countRejected(err error) {
	if h.metrics == nil {
		return
	}
	var fe *fault.Error
	if errors.As(err, &fe) {
		h.metrics.SalesRejected.WithLabelValues(string(fe.Code)).Inc()
	}
}
