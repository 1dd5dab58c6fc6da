package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// DateLayout is the storage and wire format for calendar dates.
	DateLayout = "2006-01-02"
	// MonthLayout is the display format for month buckets.
	MonthLayout = "2006-01"
)

type (
	// Month is a calendar month bucket, always the first day at 00:00 UTC.
	Month struct {
		time.Time
	}

	// Transaction is a single payment as the metrics engine sees it.
	Transaction struct {
		CustomerID string
		Amount     decimal.Decimal // currency-normalized, never negative
		PaidAt     time.Time       // calendar date, UTC
	}

	// Payment is a stored ledger row keyed by the provider charge id.
	Payment struct {
		ChargeID string
		Transaction
	}

	// MonthlyMetric is one row of the metrics table.
	MonthlyMetric struct {
		Month        Month
		NewCnt       int
		RepeatCnt    int
		ResurrectCnt int
		ChurnCnt     int
		ActiveCnt    int
		ARPU         decimal.Decimal
		ChurnRate    decimal.Decimal
		LTV          decimal.NullDecimal // invalid when churn rate is zero
	}

	// MetricsRun describes the last successful metrics replace. ID grows by
	// one with every replace.
	MetricsRun struct {
		ID           int64
		RecomputedAt time.Time
		Rows         int
	}
)

var (
	// ErrNoTransactions signals that there is nothing to compute. Callers
	// skip the metrics replace instead of writing an empty table.
	ErrNoTransactions = errors.New("no transactions to process")

	// ErrInvalidTransaction is wrapped by every ValidationError.
	ErrInvalidTransaction = errors.New("invalid transaction")

	// ErrStoreWrite is wrapped when an atomic metrics replace fails.
	ErrStoreWrite = errors.New("metrics store write failed")

	ErrEmptyCustomer   = errors.New("empty customer id")
	ErrNegativeAmount  = errors.New("negative amount")
	ErrMissingPaidDate = errors.New("missing paid date")
	ErrEmptyChargeID   = errors.New("empty charge id")
)

// ValidationError reports the transaction that failed precondition checks.
type ValidationError struct {
	Index      int
	CustomerID string
	Err        error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("transaction %d (customer %q): %v", e.Index, e.CustomerID, e.Err)
}

// Unwrap exposes both the specific cause and ErrInvalidTransaction.
func (e *ValidationError) Unwrap() []error {
	return []error{ErrInvalidTransaction, e.Err}
}

// MonthOf truncates t to the first day of its month in UTC.
func MonthOf(t time.Time) Month {
	u := t.UTC()
	return Month{Time: time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC)}
}

// NewMonth builds a month bucket from a year and month number.
func NewMonth(year int, month time.Month) Month {
	return Month{Time: time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)}
}

// ParseMonth accepts "YYYY-MM" or a full "YYYY-MM-DD" date.
func ParseMonth(s string) (Month, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{MonthLayout, DateLayout} {
		if t, err := time.Parse(layout, s); err == nil {
			return MonthOf(t), nil
		}
	}
	return Month{}, fmt.Errorf("invalid month %q: expected YYYY-MM", s)
}

// Next returns the following calendar month.
func (m Month) Next() Month {
	return Month{Time: m.AddDate(0, 1, 0)}
}

// Before reports whether m is strictly earlier than o.
func (m Month) Before(o Month) bool {
	return m.Time.Before(o.Time)
}

func (m Month) String() string {
	return m.Format(MonthLayout)
}

// Date returns the first-of-month date string used as the storage key.
func (m Month) Date() string {
	return m.Format(DateLayout)
}

// Validate checks the engine preconditions for a single transaction.
func (t Transaction) Validate() error {
	if strings.TrimSpace(t.CustomerID) == "" {
		return ErrEmptyCustomer
	}
	if t.PaidAt.IsZero() {
		return ErrMissingPaidDate
	}
	if t.Amount.IsNegative() {
		return ErrNegativeAmount
	}
	return nil
}

// Validate checks the ledger row, including the embedded transaction.
func (p Payment) Validate() error {
	if strings.TrimSpace(p.ChargeID) == "" {
		return ErrEmptyChargeID
	}
	return p.Transaction.Validate()
}

// HasLTV reports whether the lifetime value is defined for the month.
func (m MonthlyMetric) HasLTV() bool {
	return m.LTV.Valid
}

type monthlyMetricJSON struct {
	Month        string              `json:"month"`
	NewCnt       int                 `json:"new_cnt"`
	RepeatCnt    int                 `json:"repeat_cnt"`
	ResurrectCnt int                 `json:"resurrect_cnt"`
	ChurnCnt     int                 `json:"churn_cnt"`
	ActiveCnt    int                 `json:"active_cnt"`
	ARPU         decimal.Decimal     `json:"arpu"`
	ChurnRate    decimal.Decimal     `json:"churn_rate"`
	LTV          decimal.NullDecimal `json:"ltv"`
}

// MarshalJSON encodes the row with the table's column names. Decimals are
// strings to keep their precision and an undefined LTV is null.
func (m MonthlyMetric) MarshalJSON() ([]byte, error) {
	return json.Marshal(monthlyMetricJSON{
		Month:        m.Month.String(),
		NewCnt:       m.NewCnt,
		RepeatCnt:    m.RepeatCnt,
		ResurrectCnt: m.ResurrectCnt,
		ChurnCnt:     m.ChurnCnt,
		ActiveCnt:    m.ActiveCnt,
		ARPU:         m.ARPU,
		ChurnRate:    m.ChurnRate,
		LTV:          m.LTV,
	})
}
