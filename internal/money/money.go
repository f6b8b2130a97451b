// Package money реализует целочисленную арифметику денежных сумм.
package money

// Money — денежная сумма в минорных единицах валюты (кобо, копейки, центы).
// Все расчёты ведутся в целых числах; числа с плавающей точкой не
// используются нигде.
type Money int64

// ApplyPercent возвращает percent процентов от amount с банковским
// округлением: ровно половина минорной единицы округляется к чётному.
func ApplyPercent(amount Money, percent int) Money {
	return divRoundHalfEven(int64(amount)*int64(percent), 100)
}

// FloorZero обрезает отрицательную сумму до нуля.
func FloorZero(m Money) Money {
	if m < 0 {
		return 0
	}
	return m
}

// Abs возвращает модуль суммы.
func Abs(m Money) Money {
	if m < 0 {
		return -m
	}
	return m
}

func divRoundHalfEven(numerator, denominator int64) Money {
	neg := false
	if numerator < 0 {
		neg = true
		numerator = -numerator
	}

	quo := numerator / denominator
	rem := numerator % denominator

	switch {
	case rem*2 > denominator:
		quo++
	case rem*2 == denominator && quo%2 == 1:
		quo++
	}

	if neg {
		quo = -quo
	}
	return Money(quo)
}
