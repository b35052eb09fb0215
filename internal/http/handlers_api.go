package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"cointraq/internal/aggregate"
	"cointraq/internal/core"
	"cointraq/internal/log"
)

// apiTransaction is the wire shape of the TransactionStore API.
type apiTransaction struct {
	ID     string          `json:"_id"`
	Type   core.Kind       `json:"type"`
	Source string          `json:"source"`
	Amount decimal.Decimal `json:"amount"`
	Date   string          `json:"date"`
}

func toAPITransactions(txs []core.Transaction) []apiTransaction {
	out := make([]apiTransaction, len(txs))
	for i, tx := range txs {
		out[i] = toAPITransaction(tx)
	}
	return out
}

func toAPITransaction(tx core.Transaction) apiTransaction {
	return apiTransaction{ID: tx.ID, Type: tx.Kind, Source: tx.Source, Amount: tx.Amount, Date: tx.Date}
}

type apiDaily struct {
	Date   string          `json:"date"`
	Amount decimal.Decimal `json:"amount"`
}

func toAPIDaily(series []aggregate.DailyAmount) []apiDaily {
	out := make([]apiDaily, len(series))
	for i, d := range series {
		out[i] = apiDaily{Date: d.Day(), Amount: d.Amount}
	}
	return out
}

type apiSlice struct {
	Name  string          `json:"name"`
	Value decimal.Decimal `json:"value"`
}

// handleAPIDashboard returns the full list plus the derived dashboard.
func (s *Server) handleAPIDashboard(w http.ResponseWriter, r *http.Request, p core.Principal) {
	txs, view, err := s.dashboard.DashboardWithTransactions(r.Context(), p)
	if err != nil {
		writeAPIError(w, r, log.OpRead, err)
		return
	}
	pie := make([]apiSlice, len(view.Pie))
	for i, sl := range view.Pie {
		pie[i] = apiSlice{Name: sl.Name, Value: sl.Value}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"transactions": toAPITransactions(txs),
		"summary": map[string]any{
			"totalIncome":    zeroIfNil(view.TotalByKind, core.Income),
			"totalExpense":   zeroIfNil(view.TotalByKind, core.Expense),
			"netBalance":     view.NetBalance,
			"pie":            pie,
			"recent":         toAPITransactions(view.Recent),
			"recentIncomes":  toAPITransactions(view.RecentIncomes),
			"recentExpenses": toAPITransactions(view.RecentExpenses),
			"incomeLast30":   toAPIDaily(view.IncomeLast30),
			"expenseLast30":  toAPIDaily(view.ExpenseLast30),
			"unparseable":    view.Diagnostics.Unparseable,
		},
	})
}

func kindFromPath(r *http.Request) (core.Kind, error) {
	k, err := core.ParseKind(r.PathValue("kind"))
	if err != nil {
		return "", core.InvalidInput("transaction type %q", r.PathValue("kind"))
	}
	return k, nil
}

type apiPoint struct {
	Date   string          `json:"date"`
	Amount decimal.Decimal `json:"amount"`
}

func (s *Server) handleAPIList(w http.ResponseWriter, r *http.Request, p core.Principal) {
	kind, err := kindFromPath(r)
	if err != nil {
		writeAPIError(w, r, log.OpList, err)
		return
	}
	f, err := core.ParseRange(r.URL.Query())
	if err != nil {
		writeAPIError(w, r, log.OpList, err)
		return
	}
	view, err := s.dashboard.ListView(r.Context(), p, kind, f)
	if err != nil {
		writeAPIError(w, r, log.OpList, err)
		return
	}
	chart := make([]apiPoint, len(view.Chart))
	for i, pt := range view.Chart {
		chart[i] = apiPoint(pt)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"transactions": toAPITransactions(view.Transactions),
		"total":        view.Total,
		"chart":        chart,
		"unparseable":  view.Diagnostics.Unparseable,
	})
}

// transactionBody accepts the amount as a JSON number or string.
type transactionBody struct {
	Source string          `json:"source"`
	Amount json.RawMessage `json:"amount"`
	Date   string          `json:"date"`
}

func (b transactionBody) amount() string {
	raw := bytes.TrimSpace(b.Amount)
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str
	}
	return strings.TrimSpace(string(raw))
}

func (s *Server) handleAPICreate(w http.ResponseWriter, r *http.Request, p core.Principal) {
	kind, err := kindFromPath(r)
	if err != nil {
		writeAPIError(w, r, log.OpCreate, err)
		return
	}
	var body transactionBody
	if err := decodeJSON(r, &body); err != nil {
		writeAPIError(w, r, log.OpCreate, err)
		return
	}
	in, err := parseInput(kind, body.Source, body.amount(), body.Date)
	if err != nil {
		writeAPIError(w, r, log.OpCreate, err)
		return
	}
	tx, err := s.transactions.Create(r.Context(), p, in)
	if err != nil {
		writeAPIError(w, r, log.OpCreate, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"msg":         titleCase(kind) + " added",
		"transaction": toAPITransaction(tx),
	})
}

func (s *Server) handleAPIUpdate(w http.ResponseWriter, r *http.Request, p core.Principal) {
	var body transactionBody
	if err := decodeJSON(r, &body); err != nil {
		writeAPIError(w, r, log.OpUpdate, err)
		return
	}
	in, err := parseInput("", body.Source, body.amount(), body.Date)
	if err != nil {
		writeAPIError(w, r, log.OpUpdate, err)
		return
	}
	tx, err := s.transactions.Update(r.Context(), p, r.PathValue("id"), in)
	if err != nil {
		writeAPIError(w, r, log.OpUpdate, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"msg":         "Transaction updated",
		"transaction": toAPITransaction(tx),
	})
}

func (s *Server) handleAPIDelete(w http.ResponseWriter, r *http.Request, p core.Principal) {
	if err := s.transactions.Delete(r.Context(), p, r.PathValue("id")); err != nil {
		writeAPIError(w, r, log.OpDelete, err)
		return
	}
	writeJSON(w, http.StatusOK, message{Msg: "Transaction deleted"})
}
