package domain

import (
	"github.com/shopspring/decimal"
)

// Money — денежная сумма в единственной валюте площадки.
// В JSON пишется числом, читается из числа или строки.
type Money struct {
	d decimal.Decimal
}

// Zero — нулевая сумма.
var Zero = Money{}

// MoneyFromInt создаёт сумму из целого числа.
func MoneyFromInt(v int64) Money {
	return Money{d: decimal.NewFromInt(v)}
}

// MoneyFromFloat создаёт сумму из float (для снапшотов, записанных как double).
func MoneyFromFloat(v float64) Money {
	return Money{d: decimal.NewFromFloat(v)}
}

// ParseMoney разбирает строковое представление суммы.
func ParseMoney(v string) (Money, error) {
	d, err := decimal.NewFromString(v)
	if err != nil {
		return Money{}, err
	}
	return Money{d: d}, nil
}

// MustParseMoney — ParseMoney для констант; паникует на неверной строке.
func MustParseMoney(v string) Money {
	m, err := ParseMoney(v)
	if err != nil {
		panic(err)
	}
	return m
}

// Add складывает суммы.
func (m Money) Add(other Money) Money {
	return Money{d: m.d.Add(other.d)}
}

// Mul умножает цену на количество.
func (m Money) Mul(qty int) Money {
	return Money{d: m.d.Mul(decimal.NewFromInt(int64(qty)))}
}

// IsNegative сообщает, что сумма меньше нуля.
func (m Money) IsNegative() bool {
	return m.d.IsNegative()
}

// Equal сравнивает суммы по значению (10 == 10.0).
func (m Money) Equal(other Money) bool {
	return m.d.Equal(other.d)
}

// Float64 возвращает приближённое значение для метрик и логов.
func (m Money) Float64() float64 {
	f, _ := m.d.Float64()
	return f
}

func (m Money) String() string {
	return m.d.String()
}

// MarshalJSON пишет сумму числом без кавычек.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.d.String()), nil
}

// UnmarshalJSON принимает число, строку или null.
func (m *Money) UnmarshalJSON(data []byte) error {
	return m.d.UnmarshalJSON(data)
}
