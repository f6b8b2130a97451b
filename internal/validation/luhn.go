// Package validation содержит проверки корзины и идентификаторов продажи.
package validation

import (
	"fmt"
	"unicode"
)

// transactionNumberWidth — ширина порядковой части номера продажи до
// контрольной цифры. Номера длиннее остаются корректными: ширина задаёт
// только минимальное дополнение нулями.
const transactionNumberWidth = 9

// IsValidTransactionNumber проверяет номер продажи: только цифры и
// корректная контрольная цифра по алгоритму Луна. Опечатка в номере чека
// отсеивается до обращения к хранилищу.
func IsValidTransactionNumber(number string) bool {
	if len(number) < 2 {
		return false
	}
	sum, ok := luhnSum(number, false)
	return ok && sum%10 == 0
}

// FormatTransactionNumber представляет порядковый номер продажи в печатном
// виде: дополненная нулями последовательность с контрольной цифрой Луна.
func FormatTransactionNumber(seq int64) string {
	base := fmt.Sprintf("%0*d", transactionNumberWidth, seq)
	return base + string(rune('0'+luhnCheckDigit(base)))
}

// luhnCheckDigit вычисляет контрольную цифру для последовательности цифр.
func luhnCheckDigit(digits string) int {
	// Цифры взвешиваются так, как будто контрольная уже дописана справа.
	sum, _ := luhnSum(digits, true)
	return (10 - sum%10) % 10
}

// luhnSum считает сумму Луна справа налево. shifted сдвигает удвоение на
// одну позицию — для расчёта контрольной цифры ещё не дописанного разряда.
func luhnSum(number string, shifted bool) (int, bool) {
	sum := 0
	double := shifted

	for i := len(number) - 1; i >= 0; i-- {
		ch := rune(number[i])
		if !unicode.IsDigit(ch) {
			return 0, false
		}
		digit := int(ch - '0')
		if double {
			digit *= 2
			if digit > 9 {
				digit -= 9
			}
		}
		sum += digit
		double = !double
	}

	return sum, true
}
