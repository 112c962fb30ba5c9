package domain

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// Source tags amounts in an instrument's trading currency.
type Source struct{}

// Reporting tags amounts in the owner's reporting currency.
type Reporting struct{}

// Foreign tags amounts held in a currency ledger.
type Foreign struct{}

// Role is the economic meaning of an amount. Money of different roles cannot be
// combined without an explicit Rate or Retag.
type Role interface {
	Source | Reporting | Foreign
}

// Money is an exact decimal amount tagged with a currency code and a role.
// The empty currency is weak: it adopts the currency of the other operand.
type Money[R Role] struct {
	amount   decimal.Decimal
	currency string
}

// NewMoney returns amount in the given currency.
func NewMoney[R Role](amount decimal.Decimal, currency string) Money[R] {
	return Money[R]{amount: amount, currency: currency}
}

// Zero returns a zero amount in the given currency.
func Zero[R Role](currency string) Money[R] {
	return Money[R]{amount: decimal.Zero, currency: currency}
}

// Retag reinterprets m under another role. The currency code is kept, so this is only
// correct when both roles denote the same physical currency, e.g. a purchase in USD
// paid out of a USD ledger.
func Retag[To, From Role](m Money[From]) Money[To] {
	return Money[To]{amount: m.amount, currency: m.currency}
}

func (m Money[R]) Amount() decimal.Decimal { return m.amount }
func (m Money[R]) Currency() string        { return m.currency }
func (m Money[R]) IsZero() bool            { return m.amount.IsZero() }
func (m Money[R]) IsPositive() bool        { return m.amount.IsPositive() }
func (m Money[R]) IsNegative() bool        { return m.amount.IsNegative() }
func (m Money[R]) Neg() Money[R]           { return Money[R]{amount: m.amount.Neg(), currency: m.currency} }

func (m Money[R]) Mul(q decimal.Decimal) Money[R] {
	return Money[R]{amount: m.amount.Mul(q), currency: m.currency}
}

func (m Money[R]) Div(q decimal.Decimal) Money[R] {
	return Money[R]{amount: m.amount.Div(q), currency: m.currency}
}

func (m Money[R]) Add(n Money[R]) Money[R] {
	return Money[R]{amount: m.amount.Add(n.amount), currency: mergeCurrency(m.currency, n.currency)}
}

func (m Money[R]) Sub(n Money[R]) Money[R] {
	return Money[R]{amount: m.amount.Sub(n.amount), currency: mergeCurrency(m.currency, n.currency)}
}

// Cmp compares two amounts of the same currency.
func (m Money[R]) Cmp(n Money[R]) int {
	mergeCurrency(m.currency, n.currency)
	return m.amount.Cmp(n.amount)
}

func (m Money[R]) Equal(n Money[R]) bool {
	return m.currency == n.currency && m.amount.Equal(n.amount)
}

func (m Money[R]) LessThan(n Money[R]) bool { return m.Cmp(n) < 0 }

// String renders the exact amount, e.g. "1195 USD".
func (m Money[R]) String() string {
	if m.currency == "" {
		return m.amount.String()
	}
	return m.amount.String() + " " + m.currency
}

// Display renders the amount rounded to the currency's minor unit with its symbol.
func (m Money[R]) Display() string {
	cur := money.GetCurrency(m.currency)
	if cur == nil {
		return m.String()
	}
	minor := m.amount.Round(int32(cur.Fraction)).Shift(int32(cur.Fraction))
	return money.New(minor.IntPart(), cur.Code).Display()
}

type moneyJSON struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency,omitempty"`
}

func (m Money[R]) MarshalJSON() ([]byte, error) {
	return json.Marshal(moneyJSON{Amount: m.amount, Currency: m.currency})
}

func (m *Money[R]) UnmarshalJSON(data []byte) error {
	var v moneyJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("decoding money: %w", err)
	}
	m.amount, m.currency = v.Amount, v.Currency
	return nil
}

// mergeCurrency returns the common currency of a and b. Mixing two known currencies
// is a programming error: inputs are validated before any arithmetic runs.
func mergeCurrency(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	case a != b:
		panic("currency mismatch: " + a + " != " + b)
	}
	return a
}

// ParseCurrency normalizes and validates an ISO 4217 currency code.
func ParseCurrency(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if money.GetCurrency(code) == nil {
		return "", fmt.Errorf("%w: %q", ErrUnknownCurrency, code)
	}
	return code, nil
}
