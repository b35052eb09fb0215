// Package aggregate derives the views shown on the dashboard and list pages
// from a materialised list of transactions.
//
// Every function is pure: inputs are never mutated, outputs are freshly
// allocated, and the only input besides the arguments is the Aggregator's
// clock. Records whose date cannot be parsed are left out of date-dependent
// results and reported through Diagnostics instead of failing the call.
package aggregate

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"cointraq/internal/core"
)

// Aggregator carries the clock used to resolve "today".
type Aggregator struct {
	now func() time.Time
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		a.now = now
	}
}

// New returns an Aggregator using time.Now unless overridden.
func New(opts ...Option) Aggregator {
	a := Aggregator{now: time.Now}
	for _, opt := range opts {
		opt(&a)
	}
	return a
}

// Today returns the current UTC calendar day.
func (a Aggregator) Today() time.Time {
	now := a.now
	if now == nil {
		now = time.Now
	}
	return core.TruncateDay(now())
}

// Diagnostics counts records skipped by date-dependent operations.
type Diagnostics struct {
	Unparseable int
	Errors      []error
}

func (d *Diagnostics) record(err error) {
	d.Unparseable++
	d.Errors = append(d.Errors, err)
}

// Merge returns the combined diagnostics of d and o.
func (d Diagnostics) Merge(o Diagnostics) Diagnostics {
	return Diagnostics{
		Unparseable: d.Unparseable + o.Unparseable,
		Errors:      append(slices.Clip(d.Errors), o.Errors...),
	}
}

// DailyAmount is one bucket of a daily series.
type DailyAmount struct {
	Date   time.Time
	Amount decimal.Decimal
}

// Day formats the bucket date as YYYY-MM-DD.
func (d DailyAmount) Day() string {
	return d.Date.Format(core.DateLayout)
}

// FilterByWindow keeps the transactions dated within the last windowDays
// calendar days, today included, in their original relative order.
func (a Aggregator) FilterByWindow(txs []core.Transaction, windowDays int) ([]core.Transaction, Diagnostics, error) {
	var diag Diagnostics
	if windowDays <= 0 {
		return nil, diag, core.InvalidInput("window of %d days", windowDays)
	}
	cutoff := core.WindowCutoff(a.Today(), windowDays)
	out := make([]core.Transaction, 0, len(txs))
	for _, tx := range txs {
		d, err := tx.Day()
		if err != nil {
			diag.record(err)
			continue
		}
		if !d.Before(cutoff) {
			out = append(out, tx)
		}
	}
	return out, diag, nil
}

// SumByKind sums amounts per kind. Both kinds are always present.
func SumByKind(txs []core.Transaction) map[core.Kind]decimal.Decimal {
	sums := make(map[core.Kind]decimal.Decimal, 2)
	for _, k := range core.Kinds() {
		sums[k] = decimal.Zero
	}
	for _, tx := range txs {
		if !tx.Kind.Valid() {
			continue
		}
		sums[tx.Kind] = sums[tx.Kind].Add(tx.Amount)
	}
	return sums
}

// NetBalance is total income minus total expense.
func NetBalance(txs []core.Transaction) decimal.Decimal {
	sums := SumByKind(txs)
	return sums[core.Income].Sub(sums[core.Expense])
}

// GroupByDay sums amounts per UTC calendar day across all kinds, ascending.
// Days without transactions are not synthesised. Callers that need a
// per-kind series filter by kind first.
func GroupByDay(txs []core.Transaction) ([]DailyAmount, Diagnostics) {
	var diag Diagnostics
	index := make(map[time.Time]int)
	var out []DailyAmount
	for _, tx := range txs {
		d, err := tx.Day()
		if err != nil {
			diag.record(err)
			continue
		}
		if i, ok := index[d]; ok {
			out[i].Amount = out[i].Amount.Add(tx.Amount)
			continue
		}
		index[d] = len(out)
		out = append(out, DailyAmount{Date: d, Amount: tx.Amount})
	}
	slices.SortFunc(out, func(x, y DailyAmount) int {
		return x.Date.Compare(y.Date)
	})
	return out, diag
}

// FirstN returns up to n leading transactions without reordering.
func FirstN(txs []core.Transaction, n int) ([]core.Transaction, error) {
	if n < 0 {
		return nil, core.InvalidInput("count %d", n)
	}
	n = min(n, len(txs))
	return slices.Clone(txs[:n:n]), nil
}

// SortedByDateAscending returns a stable ascending sort by calendar day.
func SortedByDateAscending(txs []core.Transaction) ([]core.Transaction, Diagnostics) {
	var diag Diagnostics
	type dated struct {
		day time.Time
		tx  core.Transaction
	}
	items := make([]dated, 0, len(txs))
	for _, tx := range txs {
		d, err := tx.Day()
		if err != nil {
			diag.record(err)
			continue
		}
		items = append(items, dated{day: d, tx: tx})
	}
	slices.SortStableFunc(items, func(x, y dated) int {
		return x.day.Compare(y.day)
	})
	out := make([]core.Transaction, len(items))
	for i, it := range items {
		out[i] = it.tx
	}
	return out, diag
}

// OfKind keeps the transactions of one kind in their original order.
func OfKind(txs []core.Transaction, kind core.Kind) []core.Transaction {
	out := make([]core.Transaction, 0, len(txs))
	for _, tx := range txs {
		if tx.Kind == kind {
			out = append(out, tx)
		}
	}
	return out
}
