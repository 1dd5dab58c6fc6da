// Package billing converts payment-provider charges into ledger payments.
package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Kazza-miya/cascade-sales-dashboard/internal/core"
)

// DefaultExponent is the number of minor-unit digits assumed for amounts.
const DefaultExponent int32 = 2

var (
	// ErrSkipCharge marks charges that are not revenue and must not be stored.
	ErrSkipCharge = errors.New("charge skipped")

	// ErrForeignCurrency wraps ErrSkipCharge for charges outside the ledger currency.
	ErrForeignCurrency = fmt.Errorf("%w: foreign currency", ErrSkipCharge)
)

// Charge is a provider charge as exported by the billing system.
type Charge struct {
	ID          string
	CustomerID  string
	AmountMinor int64 // amount in minor units, e.g. cents
	Currency    string
	Created     time.Time
	Paid        bool
}

// Source yields charges from a billing provider or an export of it.
type Source interface {
	Charges(ctx context.Context) ([]Charge, error)
}

// Payment converts the charge into a ledger payment. The amount is
// AmountMinor / 10^exponent and the paid date is the UTC calendar day of
// Created. A negative exponent means DefaultExponent.
//
// Unpaid charges and charges without a customer return an error wrapping
// ErrSkipCharge.
func (c Charge) Payment(exponent int32) (core.Payment, error) {
	if exponent < 0 {
		exponent = DefaultExponent
	}
	if !c.Paid {
		return core.Payment{}, fmt.Errorf("%w: %s is not paid", ErrSkipCharge, c.ID)
	}
	if c.CustomerID == "" {
		return core.Payment{}, fmt.Errorf("%w: %s has no customer", ErrSkipCharge, c.ID)
	}

	created := c.Created.UTC()
	p := core.Payment{
		ChargeID: c.ID,
		Transaction: core.Transaction{
			CustomerID: c.CustomerID,
			Amount:     core.FromMinorUnits(c.AmountMinor, exponent),
			PaidAt:     time.Date(created.Year(), created.Month(), created.Day(), 0, 0, 0, 0, time.UTC),
		},
	}
	if err := p.Validate(); err != nil {
		return core.Payment{}, fmt.Errorf("charge %s: %w", c.ID, err)
	}
	return p, nil
}

// CheckCurrency returns an error wrapping ErrForeignCurrency when the charge
// is not in ledger. An empty ledger or charge currency passes.
func (c Charge) CheckCurrency(ledger string) error {
	if ledger == "" || c.Currency == "" || strings.EqualFold(c.Currency, ledger) {
		return nil
	}
	return fmt.Errorf("%w: %s is in %s, ledger is %s", ErrForeignCurrency, c.ID, c.Currency, strings.ToLower(ledger))
}
