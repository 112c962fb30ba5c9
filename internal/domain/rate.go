package domain

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Rate converts Money of role From into Money of role To: one unit of the from
// currency is worth Value units of the to currency. The zero Rate means "unset".
type Rate[From, To Role] struct {
	value decimal.Decimal
	from  string
	to    string
}

// NewRate validates and builds a conversion rate.
func NewRate[From, To Role](value decimal.Decimal, from, to string) (Rate[From, To], error) {
	if !value.IsPositive() {
		return Rate[From, To]{}, fmt.Errorf("%w: %s %s/%s", ErrInvalidRate, value, from, to)
	}
	return Rate[From, To]{value: value, from: from, to: to}, nil
}

func (r Rate[From, To]) Value() decimal.Decimal { return r.value }
func (r Rate[From, To]) From() string           { return r.from }
func (r Rate[From, To]) To() string             { return r.to }
func (r Rate[From, To]) IsZero() bool           { return r.value.IsZero() && r.from == "" && r.to == "" }

// Validate reports ErrInvalidRate for a non-positive rate.
func (r Rate[From, To]) Validate() error {
	if !r.value.IsPositive() {
		return fmt.Errorf("%w: %s %s/%s", ErrInvalidRate, r.value, r.from, r.to)
	}
	return nil
}

// Convert applies the rate to m.
func (r Rate[From, To]) Convert(m Money[From]) Money[To] {
	mergeCurrency(m.currency, r.from)
	return Money[To]{amount: m.amount.Mul(r.value), currency: r.to}
}

func (r Rate[From, To]) String() string {
	return fmt.Sprintf("%s %s/%s", r.value, r.to, r.from)
}

type rateJSON struct {
	Value decimal.Decimal `json:"value"`
	From  string          `json:"from,omitempty"`
	To    string          `json:"to,omitempty"`
}

func (r Rate[From, To]) MarshalJSON() ([]byte, error) {
	return json.Marshal(rateJSON{Value: r.value, From: r.from, To: r.to})
}

func (r *Rate[From, To]) UnmarshalJSON(data []byte) error {
	var v rateJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("decoding rate: %w", err)
	}
	r.value, r.from, r.to = v.Value, v.From, v.To
	return nil
}

// ConversionRate turns an instrument's trading currency into the reporting currency.
type ConversionRate = Rate[Source, Reporting]

// LedgerRate turns a ledger's foreign currency into the reporting currency.
type LedgerRate = Rate[Foreign, Reporting]

// AverageRate builds a derived average rate. Unlike NewRate it accepts zero, the
// average of funds acquired at no cost.
func AverageRate[From, To Role](value decimal.Decimal, from, to string) Rate[From, To] {
	return Rate[From, To]{value: value, from: from, to: to}
}

// RestoreRate rebuilds a persisted rate without validating it; replay does that.
func RestoreRate[From, To Role](value decimal.Decimal, from, to string) Rate[From, To] {
	return Rate[From, To]{value: value, from: from, to: to}
}
