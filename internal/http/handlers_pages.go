package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"cointraq/internal/aggregate"
	"cointraq/internal/core"
	"cointraq/internal/log"
)

type nav struct {
	Email  string
	Active string
}

type dashboardPage struct {
	Title string
	Nav   nav
	View  aggregate.Dashboard
	// Overview holds the balance, income and expense shares.
	Overview       []share
	OverviewHeight int
	IncomeBars     barChart
	ExpenseBars    barChart
	TrailingDays   int
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request, p core.Principal) {
	view, err := s.dashboard.Dashboard(r.Context(), p)
	if err != nil {
		s.renderError(w, r, log.OpRead, err)
		return
	}
	s.render(w, r, http.StatusOK, "dashboard.html", dashboardPage{
		Title:          "Dashboard",
		Nav:            nav{Email: p.Email, Active: "dashboard"},
		View:           view,
		Overview:       newShares(view.Pie),
		OverviewHeight: len(view.Pie) * shareRow,
		IncomeBars:     newBarChart(view.IncomeLast30),
		ExpenseBars:    newBarChart(view.ExpenseLast30),
		TrailingDays:   aggregate.TrailingDays,
	})
}

type rangeOption struct {
	Value    string
	Label    string
	Selected bool
}

type transactionForm struct {
	Action string
	Source string
	Amount string
	Date   string
	Error  string
}

type listPage struct {
	Title  string
	Nav    nav
	Kind   core.Kind
	View   aggregate.ListView
	Chart  lineChart
	Ranges []rangeOption
	Range  core.RangeFilter
	From   string
	To     string
	Form   transactionForm
	Notice string
}

var rangeLabels = []rangeOption{
	{Value: string(core.RangeAll), Label: "All time"},
	{Value: string(core.RangeWeek), Label: "Last 7 days"},
	{Value: string(core.RangeMonth), Label: "Last 30 days"},
	{Value: string(core.RangeYear), Label: "Last 365 days"},
	{Value: string(core.RangeCustom), Label: "Custom"},
}

func (s *Server) handleListPage(kind core.Kind) authedHandler {
	return func(w http.ResponseWriter, r *http.Request, p core.Principal) {
		f, err := core.ParseRange(r.URL.Query())
		if err != nil {
			s.renderError(w, r, log.OpList, err)
			return
		}
		form := transactionForm{Action: "/" + kind.String(), Date: time.Now().UTC().Format(core.DateLayout)}
		var notice string
		switch r.URL.Query().Get("done") {
		case "created":
			notice = titleCase(kind) + " added"
		case "updated":
			notice = titleCase(kind) + " updated"
		case "deleted":
			notice = titleCase(kind) + " deleted"
		}
		s.renderList(w, r, p, kind, f, http.StatusOK, form, notice)
	}
}

func (s *Server) renderList(w http.ResponseWriter, r *http.Request, p core.Principal, kind core.Kind, f core.RangeFilter, status int, form transactionForm, notice string) {
	view, err := s.dashboard.ListView(r.Context(), p, kind, f)
	if err != nil {
		s.renderError(w, r, log.OpList, err)
		return
	}
	ranges := make([]rangeOption, len(rangeLabels))
	copy(ranges, rangeLabels)
	for i := range ranges {
		ranges[i].Selected = ranges[i].Value == string(f.Kind)
	}
	page := listPage{
		Title:  titleCase(kind),
		Nav:    nav{Email: p.Email, Active: kind.String()},
		Kind:   kind,
		View:   view,
		Chart:  newLineChart(view.Chart),
		Ranges: ranges,
		Range:  f,
		Form:   form,
		Notice: notice,
	}
	if !f.From.IsZero() {
		page.From = f.From.Format(core.DateLayout)
	}
	if !f.To.IsZero() {
		page.To = f.To.Format(core.DateLayout)
	}
	s.render(w, r, status, "list.html", page)
}

func (s *Server) handleCreateForm(kind core.Kind) authedHandler {
	return func(w http.ResponseWriter, r *http.Request, p core.Principal) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		if err := r.ParseForm(); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		form := formFrom(r, "/"+kind.String())
		in, err := parseInput(kind, form.Source, form.Amount, form.Date)
		if err == nil {
			_, err = s.transactions.Create(r.Context(), p, in)
		}
		if err != nil {
			status := statusFor(err)
			if status != http.StatusUnprocessableEntity {
				s.renderError(w, r, log.OpCreate, err)
				return
			}
			logFailure(r, "Transaction rejected", log.OpCreate, status, err)
			form.Error = errorMessage(status, err)
			s.renderList(w, r, p, kind, core.RangeFilter{Kind: core.RangeAll}, status, form, "")
			return
		}
		http.Redirect(w, r, "/"+kind.String()+"?done=created", http.StatusSeeOther)
	}
}

type editPage struct {
	Title       string
	Nav         nav
	Transaction core.Transaction
	Form        transactionForm
}

func (s *Server) handleEditPage(w http.ResponseWriter, r *http.Request, p core.Principal) {
	id := r.PathValue("id")
	tx, err := s.transactions.Get(r.Context(), p, id)
	if err != nil {
		s.renderError(w, r, log.OpRead, err)
		return
	}
	s.render(w, r, http.StatusOK, "edit.html", editPage{
		Title:       "Edit " + tx.Kind.String(),
		Nav:         nav{Email: p.Email, Active: tx.Kind.String()},
		Transaction: tx,
		Form: transactionForm{
			Action: "/transaction/" + tx.ID + "/edit",
			Source: tx.Source,
			Amount: tx.Amount.StringFixed(2),
			Date:   tx.DayString(),
		},
	})
}

func (s *Server) handleEditForm(w http.ResponseWriter, r *http.Request, p core.Principal) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	id := r.PathValue("id")
	form := formFrom(r, "/transaction/"+id+"/edit")
	// The kind is not editable; the service keeps the stored one.
	in, err := parseInput("", form.Source, form.Amount, form.Date)
	var tx core.Transaction
	if err == nil {
		tx, err = s.transactions.Update(r.Context(), p, id, in)
	}
	if err != nil {
		status := statusFor(err)
		if status != http.StatusUnprocessableEntity {
			s.renderError(w, r, log.OpUpdate, err)
			return
		}
		logFailure(r, "Transaction rejected", log.OpUpdate, status, err)
		cur, gerr := s.transactions.Get(r.Context(), p, id)
		if gerr != nil {
			s.renderError(w, r, log.OpRead, gerr)
			return
		}
		form.Error = errorMessage(status, err)
		s.render(w, r, status, "edit.html", editPage{
			Title:       "Edit " + cur.Kind.String(),
			Nav:         nav{Email: p.Email, Active: cur.Kind.String()},
			Transaction: cur,
			Form:        form,
		})
		return
	}
	http.Redirect(w, r, "/"+tx.Kind.String()+"?done=updated", http.StatusSeeOther)
}

func (s *Server) handleDeleteForm(w http.ResponseWriter, r *http.Request, p core.Principal) {
	id := r.PathValue("id")
	tx, err := s.transactions.Get(r.Context(), p, id)
	if err == nil {
		err = s.transactions.Delete(r.Context(), p, id)
	}
	if err != nil {
		s.renderError(w, r, log.OpDelete, err)
		return
	}
	http.Redirect(w, r, "/"+tx.Kind.String()+"?done=deleted", http.StatusSeeOther)
}

func formFrom(r *http.Request, action string) transactionForm {
	return transactionForm{
		Action: action,
		Source: sanitizeInput(r.PostForm.Get("source")),
		Amount: strings.TrimSpace(r.PostForm.Get("amount")),
		Date:   strings.TrimSpace(r.PostForm.Get("date")),
	}
}

// parseInput turns raw form or JSON fields into a TransactionInput. An
// empty kind is allowed for edits.
func parseInput(kind core.Kind, source, amount, date string) (core.TransactionInput, error) {
	in := core.TransactionInput{Kind: kind, Source: sanitizeInput(source)}
	amt, err := core.ParseAmount(amount)
	if err != nil {
		return core.TransactionInput{}, core.InvalidInput("amount %q", amount)
	}
	in.Amount = amt
	day, err := core.ParseDay(date)
	if err != nil {
		return core.TransactionInput{}, core.InvalidInput("date %q", date)
	}
	in.Date = day
	if in.Source == "" {
		return core.TransactionInput{}, core.InvalidInput("source is required")
	}
	return in, nil
}

func titleCase(k core.Kind) string {
	s := k.String()
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// zeroIfNil keeps templates from printing "<nil>" for missing totals.
func zeroIfNil(m map[core.Kind]decimal.Decimal, k core.Kind) decimal.Decimal {
	if v, ok := m[k]; ok {
		return v
	}
	return decimal.Zero
}
