// Package memory is an in-process TransactionStore and Authenticator used for
// local development and tests.
package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"cointraq/internal/core"
)

type record struct {
	tx     core.Transaction
	userID string
	seq    int
}

type Store struct {
	mu      sync.Mutex
	now     func() time.Time
	cost    int
	seq     int
	users   map[string]core.User // by id
	byEmail map[string]string
	items   map[string]*record
}

type Option func(*Store)

// WithClock overrides the clock used to resolve range filters.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithBcryptCost lowers the hashing cost, mostly for tests.
func WithBcryptCost(cost int) Option {
	return func(s *Store) { s.cost = cost }
}

func New(opts ...Option) *Store {
	s := &Store{
		now:     time.Now,
		cost:    bcrypt.DefaultCost,
		users:   map[string]core.User{},
		byEmail: map[string]string{},
		items:   map[string]*record{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register creates an account and returns its principal.
func (s *Store) Register(_ context.Context, name, email, password string) (core.Principal, error) {
	email = core.NormalizeEmail(email)
	if err := core.ValidateCredentials(email, password); err != nil {
		return core.Principal{}, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return core.Principal{}, fmt.Errorf("hash password: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byEmail[email]; ok {
		return core.Principal{}, fmt.Errorf("%w: email already registered", core.ErrConflict)
	}
	u := core.User{
		ID:           uuid.NewString(),
		Name:         strings.TrimSpace(name),
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    s.now().UTC(),
	}
	s.users[u.ID] = u
	s.byEmail[email] = u.ID
	return core.Principal{UserID: u.ID, Email: u.Email}, nil
}

// Login checks the password against the stored hash.
func (s *Store) Login(_ context.Context, email, password string) (core.Principal, error) {
	email = core.NormalizeEmail(email)
	s.mu.Lock()
	id, ok := s.byEmail[email]
	u := s.users[id]
	s.mu.Unlock()
	if !ok {
		return core.Principal{}, core.ErrUnauthorized
	}
	if err := bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)); err != nil {
		return core.Principal{}, core.ErrUnauthorized
	}
	return core.Principal{UserID: u.ID, Email: u.Email}, nil
}

func (s *Store) Status(_ context.Context, p core.Principal) (core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[p.UserID]
	if !ok {
		return core.User{}, core.ErrUnauthorized
	}
	return u, nil
}

// Logout is a no-op: sessions live in the client cookie.
func (s *Store) Logout(context.Context, core.Principal) error {
	return nil
}

// List returns the user's transactions newest first, limited to the filter.
func (s *Store) List(_ context.Context, p core.Principal, f core.RangeFilter) ([]core.Transaction, error) {
	if p.Anonymous() {
		return nil, core.ErrUnauthorized
	}
	today := core.TruncateDay(s.now())
	s.mu.Lock()
	var recs []*record
	for _, r := range s.items {
		if r.userID != p.UserID {
			continue
		}
		d, err := r.tx.Day()
		if err != nil || !f.Matches(d, today) {
			continue
		}
		recs = append(recs, r)
	}
	s.mu.Unlock()

	slices.SortFunc(recs, func(a, b *record) int {
		if c := strings.Compare(b.tx.DayString(), a.tx.DayString()); c != 0 {
			return c
		}
		return b.seq - a.seq
	})
	out := make([]core.Transaction, len(recs))
	for i, r := range recs {
		out[i] = r.tx
	}
	return out, nil
}

func (s *Store) Get(_ context.Context, p core.Principal, id string) (core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.items[id]
	if !ok || r.userID != p.UserID {
		return core.Transaction{}, core.ErrNotFound
	}
	return r.tx, nil
}

func (s *Store) Create(_ context.Context, p core.Principal, in core.TransactionInput) (core.Transaction, error) {
	if p.Anonymous() {
		return core.Transaction{}, core.ErrUnauthorized
	}
	if err := in.Validate(); err != nil {
		return core.Transaction{}, err
	}
	tx := in.Transaction(uuid.NewString())
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.items[tx.ID] = &record{tx: tx, userID: p.UserID, seq: s.seq}
	return tx, nil
}

// Update replaces source, amount and date. The kind of a record never changes.
func (s *Store) Update(_ context.Context, p core.Principal, id string, in core.TransactionInput) (core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.items[id]
	if !ok || r.userID != p.UserID {
		return core.Transaction{}, core.ErrNotFound
	}
	in.Kind = r.tx.Kind
	if err := in.Validate(); err != nil {
		return core.Transaction{}, err
	}
	r.tx = in.Transaction(id)
	return r.tx, nil
}

func (s *Store) Delete(_ context.Context, p core.Principal, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.items[id]
	if !ok || r.userID != p.UserID {
		return core.ErrNotFound
	}
	delete(s.items, id)
	return nil
}
