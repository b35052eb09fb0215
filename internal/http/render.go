package http

import (
	"bytes"
	"html/template"
	"net/http"

	"github.com/shopspring/decimal"

	"cointraq/internal/core"
	"cointraq/internal/log"
	appweb "cointraq/web"
)

var templateFuncs = template.FuncMap{
	"money": core.FormatAmount,
	"day": func(tx core.Transaction) string {
		return tx.DayString()
	},
	"negative": func(d decimal.Decimal) bool {
		return d.IsNegative()
	},
}

func parseTemplates() (*template.Template, error) {
	return template.New("").Funcs(templateFuncs).ParseFS(appweb.TemplatesFS, "templates/*.html")
}

// render executes a page into a buffer first so that a template failure
// never leaves a half-written page behind.
func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, name string, data any) {
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, name, data); err != nil {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Template execution failed",
			log.FieldComponent, log.ComponentTemplate,
			log.FieldOperation, log.OpRender,
			"template", name,
			log.FieldError, err.Error(),
			log.FieldErrorType, log.ErrorTypeInternal)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

type errorPage struct {
	Title   string
	Status  int
	Message string
}

// renderError logs err and renders the error page with the mapped status.
func (s *Server) renderError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := statusFor(err)
	logFailure(r, "Page request failed", op, status, err)
	s.render(w, r, status, "error.html", errorPage{
		Title:   http.StatusText(status),
		Status:  status,
		Message: errorMessage(status, err),
	})
}
