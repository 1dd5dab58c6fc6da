// Package cohort derives monthly customer-lifecycle metrics from a payment
// ledger.
//
// Buckets are processed in ascending month order. Each bucket classifies its
// active customers against the history accumulated so far (new, repeat,
// resurrected) and counts the customers of the previous bucket that did not
// come back (churn). The package holds no state between calls: Compute is a
// pure function of its input.
package cohort

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/Kazza-miya/cascade-sales-dashboard/internal/core"
)

// GapPolicy controls how calendar months without any transaction are treated.
type GapPolicy string

const (
	// GapSparse leaves months without transactions out of the output. A
	// customer lost during such a month only shows up as churn in the next
	// month that has data.
	GapSparse GapPolicy = "sparse"
	// GapFill emits a zero-activity bucket for every missing month between
	// the first and the last month of the ledger.
	GapFill GapPolicy = "fill"
)

// DefaultPrecision is the number of decimal places kept by divisions.
const DefaultPrecision int32 = 16

// Options tunes a Compute run.
type Options struct {
	GapPolicy GapPolicy
	Precision int32
}

// DefaultOptions returns the options used when none are given.
func DefaultOptions() Options {
	return Options{GapPolicy: GapSparse, Precision: DefaultPrecision}
}

// IsValid reports whether p is a known policy.
func (p GapPolicy) IsValid() bool {
	switch p {
	case GapSparse, GapFill:
		return true
	default:
		return false
	}
}

// Bucket is the aggregated activity of one calendar month.
type Bucket struct {
	Month   core.Month
	Revenue map[string]decimal.Decimal // per-customer revenue for the month
	Total   decimal.Decimal
}

// Customers returns the set of customers active in the bucket.
func (b Bucket) Customers() Set {
	s := make(Set, len(b.Revenue))
	for c := range b.Revenue {
		s[c] = struct{}{}
	}
	return s
}

// Compute validates the ledger and returns one metric per month bucket in
// ascending month order.
//
// An empty ledger yields core.ErrNoTransactions. Any transaction failing
// validation aborts the whole run with a *core.ValidationError and no
// metrics are returned.
func Compute(txs []core.Transaction, opts Options) ([]core.MonthlyMetric, error) {
	opts = normalize(opts)

	if len(txs) == 0 {
		return nil, core.ErrNoTransactions
	}
	for i, tx := range txs {
		if err := tx.Validate(); err != nil {
			return nil, &core.ValidationError{Index: i, CustomerID: tx.CustomerID, Err: err}
		}
	}

	buckets := Group(txs)
	if opts.GapPolicy == GapFill {
		buckets = fillGaps(buckets)
	}

	out := make([]core.MonthlyMetric, 0, len(buckets))
	state := State{}
	for _, b := range buckets {
		var m core.MonthlyMetric
		m, state = Step(state, b, opts.Precision)
		out = append(out, m)
	}
	return out, nil
}

// Group assigns transactions to month buckets and sums revenue per customer.
// The result is sorted by month; the input order does not matter.
func Group(txs []core.Transaction) []Bucket {
	byMonth := make(map[core.Month]*Bucket)
	for _, tx := range txs {
		month := core.MonthOf(tx.PaidAt)
		b, ok := byMonth[month]
		if !ok {
			b = &Bucket{Month: month, Revenue: make(map[string]decimal.Decimal), Total: decimal.Zero}
			byMonth[month] = b
		}
		b.Revenue[tx.CustomerID] = b.Revenue[tx.CustomerID].Add(tx.Amount)
		b.Total = b.Total.Add(tx.Amount)
	}

	buckets := make([]Bucket, 0, len(byMonth))
	for _, b := range byMonth {
		buckets = append(buckets, *b)
	}
	sort.Slice(buckets, func(i, j int) bool {
		return buckets[i].Month.Before(buckets[j].Month)
	})
	return buckets
}

// fillGaps inserts empty buckets for the months missing between the first
// and the last bucket. Input must be sorted.
func fillGaps(buckets []Bucket) []Bucket {
	if len(buckets) < 2 {
		return buckets
	}
	out := make([]Bucket, 0, len(buckets))
	for i, b := range buckets {
		if i > 0 {
			for m := buckets[i-1].Month.Next(); m.Before(b.Month); m = m.Next() {
				out = append(out, Bucket{Month: m, Revenue: map[string]decimal.Decimal{}, Total: decimal.Zero})
			}
		}
		out = append(out, b)
	}
	return out
}

// Step classifies one bucket against the given state and returns the metric
// for the bucket together with the state to use for the next one. The input
// state is never modified.
func Step(prev State, b Bucket, precision int32) (core.MonthlyMetric, State) {
	if precision <= 0 {
		precision = DefaultPrecision
	}
	active := b.Customers()

	newCust := active.Difference(prev.EverSeen)
	repeatCust := active.Intersect(prev.PriorActive)
	resurrectCust := active.Intersect(prev.EverSeen).Difference(prev.PriorActive)
	churnCust := prev.PriorActive.Difference(active)

	m := core.MonthlyMetric{
		Month:        b.Month,
		NewCnt:       len(newCust),
		RepeatCnt:    len(repeatCust),
		ResurrectCnt: len(resurrectCust),
		ChurnCnt:     len(churnCust),
		ActiveCnt:    len(active),
		ARPU:         decimal.Zero,
		ChurnRate:    decimal.Zero,
	}

	if m.ActiveCnt > 0 {
		n := decimal.NewFromInt(int64(m.ActiveCnt))
		m.ARPU = b.Total.DivRound(n, precision)
		m.ChurnRate = decimal.NewFromInt(int64(m.ChurnCnt)).DivRound(n, precision)
	}
	if m.ChurnRate.IsPositive() {
		m.LTV = decimal.NewNullDecimal(m.ARPU.DivRound(m.ChurnRate, precision))
	}

	next := State{
		EverSeen:    prev.EverSeen.Union(active),
		PriorActive: active,
	}
	return m, next
}

func normalize(opts Options) Options {
	if !opts.GapPolicy.IsValid() {
		opts.GapPolicy = GapSparse
	}
	if opts.Precision <= 0 {
		opts.Precision = DefaultPrecision
	}
	return opts
}
