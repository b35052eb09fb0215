package google

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"cointraq/internal/core"
)

// fakeSheets emulates the values endpoints for a single tab, tracking the
// full rows written so far.
type fakeSheets struct {
	mu   sync.Mutex
	rows [][]any
}

func rowFromRange(rng string) int {
	// "Sheet!A7:F7" or "Sheet!A7:F7:clear"
	i := strings.Index(rng, "!A")
	if i < 0 {
		return 0
	}
	rest := rng[i+2:]
	j := strings.IndexByte(rest, ':')
	if j < 0 {
		return 0
	}
	n, _ := strconv.Atoi(rest[:j])
	return n
}

func (f *fakeSheets) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	_, rng, _ := strings.Cut(r.URL.Path, "/values/")
	switch {
	case r.Method == http.MethodGet:
		col := make([][]any, len(f.rows))
		for i, row := range f.rows {
			if len(row) > 0 {
				col[i] = []any{row[0]}
			} else {
				col[i] = []any{}
			}
		}
		json.NewEncoder(w).Encode(map[string]any{"range": rng, "values": col})
	case r.Method == http.MethodPut:
		var vr struct {
			Values [][]any `json:"values"`
		}
		json.NewDecoder(r.Body).Decode(&vr)
		row := rowFromRange(rng)
		for len(f.rows) < row {
			f.rows = append(f.rows, []any{})
		}
		f.rows[row-1] = vr.Values[0]
		json.NewEncoder(w).Encode(map[string]any{"updatedRange": rng})
	case r.Method == http.MethodPost && strings.HasSuffix(rng, ":clear"):
		row := rowFromRange(rng)
		if row > 0 && row <= len(f.rows) {
			f.rows[row-1] = []any{}
		}
		json.NewEncoder(w).Encode(map[string]any{"clearedRange": strings.TrimSuffix(rng, ":clear")})
	default:
		http.Error(w, "unexpected "+r.Method+" "+r.URL.Path, http.StatusBadRequest)
	}
}

func newTestClient(t *testing.T) (*Client, *fakeSheets) {
	t.Helper()
	fake := &fakeSheets{}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	svc, err := gsheet.NewService(context.Background(),
		goption.WithEndpoint(srv.URL+"/"),
		goption.WithHTTPClient(srv.Client()),
		goption.WithoutAuthentication())
	if err != nil {
		t.Fatalf("sheets service: %v", err)
	}
	c, err := NewWithService(svc, Config{SpreadsheetID: "sheet-1"})
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	return c, fake
}

func tx(id, source, amount string) core.Transaction {
	return core.Transaction{ID: id, Kind: core.Income, Source: source, Amount: decimal.RequireFromString(amount), Date: "2024-03-01"}
}

func TestExportAppendsThenUpdatesInPlace(t *testing.T) {
	ctx := context.Background()
	c, fake := newTestClient(t)

	ref, err := c.Export(ctx, "u-1", tx("t1", "Salary", "1000"))
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if ref != "Transactions!A2:F2" {
		t.Fatalf("first export ref = %s", ref)
	}
	if fake.rows[0][0] != "ID" {
		t.Fatalf("header not written: %v", fake.rows)
	}

	if ref, _ := c.Export(ctx, "u-1", tx("t2", "Bonus", "50")); ref != "Transactions!A3:F3" {
		t.Fatalf("second export ref = %s", ref)
	}

	ref, err = c.Export(ctx, "u-1", tx("t1", "Salary March", "1100"))
	if err != nil || ref != "Transactions!A2:F2" {
		t.Fatalf("re-export should reuse the row, got %s %v", ref, err)
	}
	if fake.rows[1][4] != "Salary March" || fake.rows[1][5] != "1100.00" {
		t.Fatalf("row not updated: %v", fake.rows[1])
	}
	if len(fake.rows) != 3 {
		t.Fatalf("expected header plus two rows, got %v", fake.rows)
	}
}

func TestRemoveClearsRow(t *testing.T) {
	ctx := context.Background()
	c, fake := newTestClient(t)

	if _, err := c.Export(ctx, "u-1", tx("t1", "Salary", "1000")); err != nil {
		t.Fatalf("export: %v", err)
	}
	if err := c.Remove(ctx, "t1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if len(fake.rows[1]) != 0 {
		t.Fatalf("row not cleared: %v", fake.rows[1])
	}
	if err := c.Remove(ctx, "t1"); err != nil {
		t.Fatalf("removing a missing row should be a no-op, got %v", err)
	}
}

func TestExportRejectsInvalidTransaction(t *testing.T) {
	c, _ := newTestClient(t)
	bad := tx("t1", "x", "1")
	bad.Date = "not a date"
	if _, err := c.Export(context.Background(), "u-1", bad); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestNewRequiresCredentials(t *testing.T) {
	if _, err := New(context.Background(), Config{SpreadsheetID: "x"}); err == nil || !strings.Contains(err.Error(), "missing service account credentials") {
		t.Fatalf("expected missing credentials error, got %v", err)
	}
	if _, err := NewWithService(nil, Config{}); err == nil {
		t.Fatalf("expected missing spreadsheet id error")
	}
}
