// Package fault описывает классификацию ошибок движка продаж.
package fault

import (
	"errors"
	"fmt"
)

// Kind — класс ошибки, определяющий реакцию вызывающей стороны: исправить
// запрос, перечитать состояние или повторить позже.
type Kind string

const (
	// KindValidation — запрос некорректен и без изменений не пройдёт.
	KindValidation Kind = "validation"
	// KindConflict — запрос корректен, но конфликтует с текущим состоянием.
	KindConflict Kind = "conflict"
	// KindPersistence — хранилище недоступно или отказало после повторов.
	KindPersistence Kind = "persistence"
)

// Code — машиночитаемый код конкретной ошибки.
type Code string

const (
	CodeMalformedPayload        Code = "MalformedPayload"
	CodeEmptyCart               Code = "EmptyCart"
	CodeInvalidQuantity         Code = "InvalidQuantity"
	CodeInvalidAmount           Code = "InvalidAmount"
	CodeProductUnavailable      Code = "ProductUnavailable"
	CodePriceMismatch           Code = "PriceMismatch"
	CodeDiscountExceedsSubtotal Code = "DiscountExceedsSubtotal"
	CodeEmptyTender             Code = "EmptyTender"
	CodeInvalidTender           Code = "InvalidTender"
	CodeInsufficientPayment     Code = "InsufficientPayment"
	CodeOverpaymentNotAllowed   Code = "OverpaymentNotAllowed"
	CodeInsufficientStock       Code = "InsufficientStock"
	CodeDuplicateRequest        Code = "DuplicateRequest"
	CodeStorageFailure          Code = "StorageFailure"
)

// Error — типизированная ошибка движка. Вызывающая сторона различает
// ситуации по Kind и Code, не разбирая текст сообщения.
type Error struct {
	Kind      Kind
	Code      Code
	Field     string
	ProductID int64
	Message   string

	cause error
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s/%s (%s): %s", e.Kind, e.Code, e.Field, e.Message)
	}
	return fmt.Sprintf("%s/%s: %s", e.Kind, e.Code, e.Message)
}

// Unwrap возвращает исходную ошибку, если она есть.
func (e *Error) Unwrap() error {
	return e.cause
}

// WithProduct привязывает ошибку к конкретному товару.
func (e *Error) WithProduct(productID int64) *Error {
	e.ProductID = productID
	return e
}

// Validation создаёт ошибку валидации запроса для указанного поля.
func Validation(code Code, field, message string) *Error {
	return &Error{Kind: KindValidation, Code: code, Field: field, Message: message}
}

// Conflict создаёт ошибку конфликта с текущим состоянием системы.
func Conflict(code Code, message string) *Error {
	return &Error{Kind: KindConflict, Code: code, Message: message}
}

// InsufficientStock создаёт конфликт нехватки остатка по товару.
func InsufficientStock(productID int64) *Error {
	return &Error{
		Kind:      KindConflict,
		Code:      CodeInsufficientStock,
		ProductID: productID,
		Message:   fmt.Sprintf("insufficient stock for product %d", productID),
	}
}

// Persistence создаёт ошибку хранилища, оборачивая исходную причину.
func Persistence(message string, cause error) *Error {
	return &Error{
		Kind:    KindPersistence,
		Code:    CodeStorageFailure,
		Message: message,
		cause:   cause,
	}
}

// IsCode сообщает, несёт ли ошибка указанный код.
func IsCode(err error, code Code) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Code == code
}

// KindOf возвращает класс ошибки либо пустое значение для нетипизированных.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}
