package aggregate

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"cointraq/internal/core"
)

func fixedClock(s string) Option {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return WithClock(func() time.Time { return t })
}

func tx(id string, kind core.Kind, amount, date string) core.Transaction {
	return core.Transaction{
		ID:     id,
		Kind:   kind,
		Source: "src-" + id,
		Amount: decimal.RequireFromString(amount),
		Date:   date,
	}
}

func ids(txs []core.Transaction) []string {
	out := make([]string, len(txs))
	for i, t := range txs {
		out[i] = t.ID
	}
	return out
}

func TestFilterByWindowBoundary(t *testing.T) {
	agg := New(fixedClock("2024-01-30T15:00:00Z"))
	in := []core.Transaction{
		tx("edge", core.Income, "1", "2024-01-01"),
		tx("old", core.Income, "1", "2023-12-31T23:59:59Z"),
		tx("today", core.Expense, "1", "2024-01-30T23:00:00Z"),
		tx("mid", core.Expense, "1", "2024-01-15T08:00:00.000Z"),
	}
	got, diag, err := agg.FilterByWindow(in, 30)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := []string{"edge", "today", "mid"}; !reflect.DeepEqual(ids(got), want) {
		t.Fatalf("expected %v, got %v", want, ids(got))
	}
	if diag.Unparseable != 0 {
		t.Fatalf("expected no diagnostics, got %+v", diag)
	}
}

func TestFilterByWindowExcludesDayBeforeCutoff(t *testing.T) {
	// On 2024-01-31 the 30-day window starts on 2024-01-02.
	agg := New(fixedClock("2024-01-31T00:00:01Z"))
	got, _, err := agg.FilterByWindow([]core.Transaction{tx("a", core.Income, "1", "2024-01-01")}, 30)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected 2024-01-01 to fall outside the window, got %v", ids(got))
	}
}

func TestFilterByWindowInvalid(t *testing.T) {
	agg := New()
	for _, n := range []int{0, -3} {
		if _, _, err := agg.FilterByWindow(nil, n); !errors.Is(err, core.ErrInvalidInput) {
			t.Fatalf("window %d: expected ErrInvalidInput, got %v", n, err)
		}
	}
}

func TestFilterByWindowSkipsUnparseable(t *testing.T) {
	agg := New(fixedClock("2024-01-30T12:00:00Z"))
	in := []core.Transaction{
		tx("ok", core.Income, "1", "2024-01-29"),
		tx("bad", core.Income, "1", "not a date"),
	}
	got, diag, err := agg.FilterByWindow(in, 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(ids(got), []string{"ok"}) {
		t.Fatalf("unexpected result %v", ids(got))
	}
	if diag.Unparseable != 1 || len(diag.Errors) != 1 {
		t.Fatalf("expected one unparseable record, got %+v", diag)
	}
	var rec *core.UnparseableRecordError
	if !errors.As(diag.Errors[0], &rec) || rec.ID != "bad" {
		t.Fatalf("expected UnparseableRecordError for bad, got %v", diag.Errors[0])
	}
}

func TestFilterByWindowDoesNotMutate(t *testing.T) {
	agg := New(fixedClock("2024-01-30T12:00:00Z"))
	in := []core.Transaction{
		tx("a", core.Income, "1", "2020-01-01"),
		tx("b", core.Income, "1", "2024-01-30"),
	}
	snapshot := append([]core.Transaction(nil), in...)
	if _, _, err := agg.FilterByWindow(in, 30); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(in, snapshot) {
		t.Fatalf("input was mutated")
	}
}

func TestSumByKindAndNetBalance(t *testing.T) {
	in := []core.Transaction{
		tx("1", core.Income, "100", "2024-03-01"),
		tx("2", core.Expense, "40", "2024-03-01"),
		tx("3", core.Income, "50", "2024-03-02"),
	}
	sums := SumByKind(in)
	if !sums[core.Income].Equal(decimal.NewFromInt(150)) || !sums[core.Expense].Equal(decimal.NewFromInt(40)) {
		t.Fatalf("unexpected sums %v", sums)
	}
	if net := NetBalance(in); !net.Equal(decimal.NewFromInt(110)) {
		t.Fatalf("expected net 110, got %s", net)
	}
}

func TestSumByKindEmpty(t *testing.T) {
	sums := SumByKind(nil)
	for _, k := range core.Kinds() {
		v, ok := sums[k]
		if !ok || !v.IsZero() {
			t.Fatalf("kind %s must be present with zero, got %v (present=%v)", k, v, ok)
		}
	}
	if !NetBalance(nil).IsZero() {
		t.Fatalf("net balance of empty list must be zero")
	}
}

func TestSumByKindIsExact(t *testing.T) {
	in := make([]core.Transaction, 0, 1000)
	for i := 0; i < 1000; i++ {
		in = append(in, tx("x", core.Expense, "0.1", "2024-01-01"))
	}
	if got := SumByKind(in)[core.Expense]; !got.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("expected exactly 100, got %s", got)
	}
}

func TestSumByKindMonotonic(t *testing.T) {
	var in []core.Transaction
	prev := decimal.Zero
	for i, amt := range []string{"0", "3.5", "0.01", "10", "0"} {
		in = append(in, tx(string(rune('a'+i)), core.Income, amt, "2024-01-01"))
		cur := SumByKind(in)[core.Income]
		if cur.LessThan(prev) {
			t.Fatalf("sum decreased from %s to %s", prev, cur)
		}
		prev = cur
	}
}

func TestNetBalanceMatchesSums(t *testing.T) {
	inputs := [][]core.Transaction{
		nil,
		{tx("1", core.Expense, "12.34", "2024-01-01")},
		{tx("1", core.Income, "0.01", "bad"), tx("2", core.Expense, "0.02", "2024-01-01")},
	}
	for i, in := range inputs {
		sums := SumByKind(in)
		if !NetBalance(in).Equal(sums[core.Income].Sub(sums[core.Expense])) {
			t.Fatalf("case %d: net balance does not match sums", i)
		}
	}
}

func TestGroupByDay(t *testing.T) {
	in := []core.Transaction{
		tx("3", core.Income, "50", "2024-03-02"),
		tx("1", core.Income, "100", "2024-03-01"),
		tx("2", core.Expense, "40", "2024-03-01T22:00:00Z"),
		tx("4", core.Expense, "5", "2024-03-05"),
		tx("5", core.Expense, "7", "garbage"),
	}
	got, diag := GroupByDay(in)
	want := []struct {
		day    string
		amount string
	}{
		{"2024-03-01", "140"},
		{"2024-03-02", "50"},
		{"2024-03-05", "5"},
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d buckets, got %d: %+v", len(want), len(got), got)
	}
	total := decimal.Zero
	for i, w := range want {
		if got[i].Day() != w.day || !got[i].Amount.Equal(decimal.RequireFromString(w.amount)) {
			t.Fatalf("bucket %d: expected %s=%s, got %s=%s", i, w.day, w.amount, got[i].Day(), got[i].Amount)
		}
		if i > 0 && !got[i-1].Date.Before(got[i].Date) {
			t.Fatalf("buckets not strictly ascending at %d", i)
		}
		total = total.Add(got[i].Amount)
	}
	// Sum of buckets equals the sum of parseable inputs.
	if !total.Equal(decimal.NewFromInt(195)) {
		t.Fatalf("bucket total %s, want 195", total)
	}
	if diag.Unparseable != 1 {
		t.Fatalf("expected one unparseable record, got %d", diag.Unparseable)
	}
}

func TestGroupByDayPerKindContract(t *testing.T) {
	in := []core.Transaction{
		tx("1", core.Income, "100", "2024-03-01"),
		tx("2", core.Expense, "40", "2024-03-01"),
		tx("3", core.Income, "50", "2024-03-02"),
	}
	all, _ := GroupByDay(in)
	if !all[0].Amount.Equal(decimal.NewFromInt(140)) {
		t.Fatalf("unfiltered grouping sums across kinds, got %s", all[0].Amount)
	}
	incomes, _ := GroupByDay(OfKind(in, core.Income))
	if !incomes[0].Amount.Equal(decimal.NewFromInt(100)) || !incomes[1].Amount.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("unexpected per-kind series %+v", incomes)
	}
}

func TestGroupByDayIsSparse(t *testing.T) {
	got, _ := GroupByDay([]core.Transaction{
		tx("1", core.Expense, "1", "2024-03-01"),
		tx("2", core.Expense, "1", "2024-03-10"),
	})
	if len(got) != 2 {
		t.Fatalf("expected 2 buckets without backfill, got %d", len(got))
	}
}

func TestFirstN(t *testing.T) {
	t1 := tx("1", core.Income, "1", "2024-01-01")
	t2 := tx("2", core.Expense, "1", "2024-01-02")

	got, err := FirstN(nil, 5)
	if err != nil || len(got) != 0 {
		t.Fatalf("FirstN([], 5) = %v, %v", got, err)
	}
	got, err = FirstN([]core.Transaction{t1, t2}, 5)
	if err != nil || !reflect.DeepEqual(ids(got), []string{"1", "2"}) {
		t.Fatalf("FirstN([t1,t2], 5) = %v, %v", ids(got), err)
	}
	got, err = FirstN([]core.Transaction{t2, t1}, 1)
	if err != nil || !reflect.DeepEqual(ids(got), []string{"2"}) {
		t.Fatalf("FirstN must not reorder, got %v", ids(got))
	}
	got, err = FirstN([]core.Transaction{t1}, 0)
	if err != nil || len(got) != 0 {
		t.Fatalf("FirstN(_, 0) = %v, %v", got, err)
	}
	if _, err := FirstN([]core.Transaction{t1}, -1); !errors.Is(err, core.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestFirstNReturnsCopy(t *testing.T) {
	in := []core.Transaction{tx("1", core.Income, "1", "2024-01-01"), tx("2", core.Income, "1", "2024-01-01")}
	got, _ := FirstN(in, 1)
	got = append(got, tx("3", core.Income, "1", "2024-01-01"))
	got[0].Source = "changed"
	if in[0].Source != "src-1" || in[1].ID != "2" {
		t.Fatalf("FirstN result aliases its input")
	}
}

func TestSortedByDateAscendingIsStable(t *testing.T) {
	in := []core.Transaction{
		tx("c", core.Expense, "1", "2024-03-03"),
		tx("a1", core.Expense, "1", "2024-03-01"),
		tx("x", core.Expense, "1", "??"),
		tx("b", core.Expense, "1", "2024-03-02"),
		tx("a2", core.Expense, "1", "2024-03-01T18:00:00Z"),
	}
	got, diag := SortedByDateAscending(in)
	if want := []string{"a1", "a2", "b", "c"}; !reflect.DeepEqual(ids(got), want) {
		t.Fatalf("expected %v, got %v", want, ids(got))
	}
	if diag.Unparseable != 1 {
		t.Fatalf("expected one unparseable record, got %d", diag.Unparseable)
	}
	if in[0].ID != "c" {
		t.Fatalf("input was reordered")
	}
}

func TestOperationsAreIdempotent(t *testing.T) {
	agg := New(fixedClock("2024-03-05T10:00:00Z"))
	in := []core.Transaction{
		tx("1", core.Income, "100", "2024-03-01"),
		tx("2", core.Expense, "40", "2024-03-01"),
		tx("3", core.Income, "50", "2024-03-02"),
		tx("4", core.Income, "1", "nope"),
	}
	w1, d1, _ := agg.FilterByWindow(in, 3)
	w2, d2, _ := agg.FilterByWindow(in, 3)
	if !reflect.DeepEqual(w1, w2) || d1.Unparseable != d2.Unparseable {
		t.Fatalf("FilterByWindow not idempotent")
	}
	g1, _ := GroupByDay(in)
	g2, _ := GroupByDay(in)
	if !reflect.DeepEqual(g1, g2) {
		t.Fatalf("GroupByDay not idempotent")
	}
	s1, _ := SortedByDateAscending(in)
	s2, _ := SortedByDateAscending(in)
	if !reflect.DeepEqual(s1, s2) {
		t.Fatalf("SortedByDateAscending not idempotent")
	}
	if !reflect.DeepEqual(SumByKind(in), SumByKind(in)) {
		t.Fatalf("SumByKind not idempotent")
	}
	if !reflect.DeepEqual(agg.BuildDashboard(in), agg.BuildDashboard(in)) {
		t.Fatalf("BuildDashboard not idempotent")
	}
}
