package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Minor-unit precision for currencies that do not use two decimal places.
var currencyPrecision = map[string]int32{
	"BIF": 0, "CLP": 0, "DJF": 0, "GNF": 0, "ISK": 0, "JPY": 0, "KMF": 0, "KRW": 0,
	"PYG": 0, "RWF": 0, "UGX": 0, "VND": 0, "VUV": 0, "XAF": 0, "XOF": 0, "XPF": 0,
	"BHD": 3, "IQD": 3, "JOD": 3, "KWD": 3, "LYD": 3, "OMR": 3, "TND": 3,
}

const defaultPrecision int32 = 2

// CurrencyPrecision returns the number of decimal places of the currency's minor unit.
func CurrencyPrecision(currency string) int32 {
	if p, ok := currencyPrecision[strings.ToUpper(currency)]; ok {
		return p
	}
	return defaultPrecision
}

// Quantize rounds half away from zero to the currency's minor unit.
func Quantize(amount decimal.Decimal, currency string) decimal.Decimal {
	return amount.Round(CurrencyPrecision(currency))
}

// NormalizeCurrency upper-cases and trims a currency code.
func NormalizeCurrency(currency string) string {
	return strings.ToUpper(strings.TrimSpace(currency))
}

type Money struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

func NewMoney(amount decimal.Decimal, currency string) Money {
	currency = NormalizeCurrency(currency)
	return Money{Amount: Quantize(amount, currency), Currency: currency}
}

func ZeroMoney(currency string) Money {
	return Money{Amount: decimal.Zero, Currency: NormalizeCurrency(currency)}
}

func (m Money) mustMatch(o Money) {
	if m.Currency != o.Currency {
		panic(fmt.Sprintf("money: currency mismatch %s != %s", m.Currency, o.Currency))
	}
}

func (m Money) Add(o Money) Money {
	m.mustMatch(o)
	return Money{Amount: m.Amount.Add(o.Amount), Currency: m.Currency}
}

func (m Money) Sub(o Money) Money {
	m.mustMatch(o)
	return Money{Amount: m.Amount.Sub(o.Amount), Currency: m.Currency}
}

// Cmp compares amounts of the same currency.
func (m Money) Cmp(o Money) int {
	m.mustMatch(o)
	return m.Amount.Cmp(o.Amount)
}

func (m Money) IsZero() bool     { return m.Amount.IsZero() }
func (m Money) IsNegative() bool { return m.Amount.IsNegative() }

func (m Money) String() string {
	return m.Amount.StringFixed(CurrencyPrecision(m.Currency)) + " " + m.Currency
}
