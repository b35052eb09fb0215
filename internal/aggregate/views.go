package aggregate

import (
	"github.com/shopspring/decimal"

	"cointraq/internal/core"
)

const (
	// RecentCount is the length of the dashboard's recent lists.
	RecentCount = 7
	// TrailingDays is the window of the dashboard's mini bar charts.
	TrailingDays = 30
)

// Slice is one segment of the financial overview pie.
type Slice struct {
	Name  string
	Value decimal.Decimal
}

// Dashboard is the derived view behind the dashboard page.
type Dashboard struct {
	TotalByKind     map[core.Kind]decimal.Decimal
	TotalIncome     decimal.Decimal
	TotalExpense    decimal.Decimal
	NetBalance      decimal.Decimal
	Pie             []Slice
	Recent          []core.Transaction
	RecentIncomes   []core.Transaction
	RecentExpenses  []core.Transaction
	IncomeLast30    []DailyAmount
	ExpenseLast30   []DailyAmount
	Diagnostics     Diagnostics
	TransactionSize int
}

// BuildDashboard composes the dashboard from the full transaction list in
// store order. The trailing series are re-derived here from the full list,
// independently of any range filter used on the list pages.
func (a Aggregator) BuildDashboard(txs []core.Transaction) Dashboard {
	incomes := OfKind(txs, core.Income)
	expenses := OfKind(txs, core.Expense)

	sums := SumByKind(txs)
	net := sums[core.Income].Sub(sums[core.Expense])

	// RecentCount is a positive constant, so FirstN cannot fail here.
	recent, _ := FirstN(txs, RecentCount)
	recentIncomes, _ := FirstN(incomes, RecentCount)
	recentExpenses, _ := FirstN(expenses, RecentCount)

	incomeSeries, incomeDiag := a.trailingSeries(incomes)
	expenseSeries, expenseDiag := a.trailingSeries(expenses)

	return Dashboard{
		TotalByKind:  sums,
		TotalIncome:  sums[core.Income],
		TotalExpense: sums[core.Expense],
		NetBalance:   net,
		Pie: []Slice{
			{Name: "Balance", Value: net},
			{Name: "Income", Value: sums[core.Income]},
			{Name: "Expense", Value: sums[core.Expense]},
		},
		Recent:          recent,
		RecentIncomes:   recentIncomes,
		RecentExpenses:  recentExpenses,
		IncomeLast30:    incomeSeries,
		ExpenseLast30:   expenseSeries,
		Diagnostics:     incomeDiag.Merge(expenseDiag),
		TransactionSize: len(txs),
	}
}

func (a Aggregator) trailingSeries(txs []core.Transaction) ([]DailyAmount, Diagnostics) {
	window, diag, err := a.FilterByWindow(txs, TrailingDays)
	if err != nil {
		return nil, diag
	}
	series, more := GroupByDay(window)
	return series, diag.Merge(more)
}

// Point is one point of a list page's line chart.
type Point struct {
	Date   string
	Amount decimal.Decimal
}

// ListView is the derived view behind the income and expense pages.
type ListView struct {
	Kind         core.Kind
	Transactions []core.Transaction
	Total        decimal.Decimal
	Chart        []Point
	Diagnostics  Diagnostics
}

// BuildListView keeps one kind of the (already range-filtered) list in store
// order and plots it ascending by date, one point per transaction.
func (a Aggregator) BuildListView(txs []core.Transaction, kind core.Kind) ListView {
	own := OfKind(txs, kind)
	sorted, diag := SortedByDateAscending(own)
	chart := make([]Point, len(sorted))
	for i, tx := range sorted {
		chart[i] = Point{Date: tx.DayString(), Amount: tx.Amount}
	}
	return ListView{
		Kind:         kind,
		Transactions: own,
		Total:        SumByKind(own)[kind],
		Chart:        chart,
		Diagnostics:  diag,
	}
}
