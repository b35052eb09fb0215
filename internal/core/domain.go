package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	Income  Kind = "income"
	Expense Kind = "expense"
)

// DateLayout is the calendar-day format used on the wire and in storage.
const DateLayout = "2006-01-02"

type (
	// Kind discriminates income from expense records.
	Kind string

	// Transaction is a single income or expense record as supplied by a
	// TransactionStore. Date keeps the raw value so that a malformed record
	// can still be listed while date-dependent views skip it.
	Transaction struct {
		ID     string          `json:"id"`
		Kind   Kind            `json:"type"`
		Source string          `json:"source"`
		Amount decimal.Decimal `json:"amount"`
		Date   string          `json:"date"`
	}

	// TransactionInput carries the user supplied fields for create and edit.
	TransactionInput struct {
		Kind   Kind
		Source string
		Amount decimal.Decimal
		Date   time.Time
	}

	// User is an account known to a local backend.
	User struct {
		ID           string
		Name         string
		Email        string
		PasswordHash []byte
		CreatedAt    time.Time
	}

	// Principal identifies the caller of a store operation. UpstreamSession
	// is only set for the remote backend, which forwards it as a cookie.
	Principal struct {
		UserID          string
		Email           string
		UpstreamSession string
	}
)

var (
	ErrInvalidKind     = errors.New("invalid transaction kind")
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrInvalidDate     = errors.New("invalid date")
	ErrEmptySource     = errors.New("empty source")
	ErrSourceTooLong   = errors.New("source too long (max 200 characters)")
	ErrEmptyEmail      = errors.New("empty email")
	ErrPasswordTooWeak = errors.New("password must be at least 8 characters")
)

// Kinds lists every valid kind in display order.
func Kinds() []Kind {
	return []Kind{Income, Expense}
}

// ParseKind accepts "income" or "expense", case-insensitively.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case Income:
		return Income, nil
	case Expense:
		return Expense, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidKind, s)
}

func (k Kind) Valid() bool {
	return k == Income || k == Expense
}

func (k Kind) String() string {
	return string(k)
}

// Day returns the UTC calendar date of the transaction, truncated to
// midnight. The local runtime timezone never takes part in the conversion.
func (t Transaction) Day() (time.Time, error) {
	d, err := ParseDay(t.Date)
	if err != nil {
		return time.Time{}, &UnparseableRecordError{ID: t.ID, Date: t.Date, Err: err}
	}
	return d, nil
}

// DayString returns the YYYY-MM-DD form of the date, or the raw value when it
// cannot be parsed.
func (t Transaction) DayString() string {
	d, err := ParseDay(t.Date)
	if err != nil {
		return t.Date
	}
	return d.Format(DateLayout)
}

// Validate checks the invariants every stored transaction must hold.
func (t Transaction) Validate() error {
	if !t.Kind.Valid() {
		return ErrInvalidKind
	}
	if t.Amount.IsNegative() {
		return ErrInvalidAmount
	}
	if _, err := ParseDay(t.Date); err != nil {
		return ErrInvalidDate
	}
	return nil
}

func (in TransactionInput) Validate() error {
	if !in.Kind.Valid() {
		return ErrInvalidKind
	}
	source := strings.TrimSpace(in.Source)
	if source == "" {
		return ErrEmptySource
	}
	if len(source) > 200 {
		return ErrSourceTooLong
	}
	if !in.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	if in.Date.IsZero() {
		return ErrInvalidDate
	}
	return nil
}

// Transaction materialises the input under the given id.
func (in TransactionInput) Transaction(id string) Transaction {
	return Transaction{
		ID:     id,
		Kind:   in.Kind,
		Source: strings.TrimSpace(in.Source),
		Amount: in.Amount,
		Date:   in.Date.UTC().Format(DateLayout),
	}
}

// ValidateCredentials checks the minimum shape of a login or registration.
func ValidateCredentials(email, password string) error {
	if strings.TrimSpace(email) == "" {
		return ErrEmptyEmail
	}
	if len(password) < 8 {
		return ErrPasswordTooWeak
	}
	return nil
}

// NormalizeEmail lowercases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Anonymous reports whether no user is attached.
func (p Principal) Anonymous() bool {
	return p.UserID == ""
}
