package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"cointraq/internal/aggregate"
	"cointraq/internal/cache"
	"cointraq/internal/core"
	"cointraq/internal/log"
	"cointraq/internal/ports"
)

// DashboardService resolves transaction snapshots per user and range and
// derives the dashboard and list views from them.
//
// Fetches for the same key may overlap. Each takes a generation number and
// only the newest one is allowed to store its result, so a slow response
// never replaces a fresher one.
type DashboardService struct {
	reader    ports.TransactionReader
	agg       aggregate.Aggregator
	snapshots cache.Cache[[]core.Transaction]
	logger    *log.Logger

	mu     sync.Mutex
	seq    uint64
	latest map[string]uint64
}

// NewDashboardService wires a service. A nil snapshots cache disables
// caching but keeps the ordering guarantees.
func NewDashboardService(reader ports.TransactionReader, agg aggregate.Aggregator, snapshots cache.Cache[[]core.Transaction], logger *log.Logger) *DashboardService {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &DashboardService{
		reader:    reader,
		agg:       agg,
		snapshots: snapshots,
		logger:    logger.WithComponent(log.ComponentDashboard),
		latest:    make(map[string]uint64),
	}
}

// snapshotKey pins relative ranges to the cutoff they resolve to today, so a
// snapshot taken before midnight is not served once the window has moved.
func snapshotKey(userID string, f core.RangeFilter, today time.Time) string {
	key := userID + "|" + f.Key()
	if f.Days() > 0 {
		from, _ := f.Bounds(today)
		key += "|" + from.Format(core.DateLayout)
	}
	return key
}

// Transactions returns the user's transactions within f, newest first.
func (s *DashboardService) Transactions(ctx context.Context, p core.Principal, f core.RangeFilter) ([]core.Transaction, error) {
	if p.Anonymous() {
		return nil, core.ErrUnauthorized
	}
	key := snapshotKey(p.UserID, f, s.agg.Today())
	if s.snapshots != nil {
		if txs, ok := s.snapshots.Get(key); ok {
			return txs, nil
		}
	}

	gen := s.begin(key)
	txs, err := s.reader.List(ctx, p, f)
	if err != nil {
		s.abandon(key, gen)
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	if !s.commit(key, gen, txs) {
		s.logger.DebugContext(ctx, "Discarded superseded snapshot",
			log.FieldUserID, p.UserID,
			log.FieldRange, f.Key())
		if s.snapshots != nil {
			if newer, ok := s.snapshots.Get(key); ok {
				return newer, nil
			}
		}
	}
	return txs, nil
}

// Dashboard builds the dashboard from the user's full list.
func (s *DashboardService) Dashboard(ctx context.Context, p core.Principal) (aggregate.Dashboard, error) {
	_, d, err := s.DashboardWithTransactions(ctx, p)
	return d, err
}

// DashboardWithTransactions returns the user's full list together with the
// dashboard derived from that same list.
func (s *DashboardService) DashboardWithTransactions(ctx context.Context, p core.Principal) ([]core.Transaction, aggregate.Dashboard, error) {
	txs, err := s.Transactions(ctx, p, core.RangeFilter{Kind: core.RangeAll})
	if err != nil {
		return nil, aggregate.Dashboard{}, err
	}
	d := s.agg.BuildDashboard(txs)
	s.logDiagnostics(ctx, p, "dashboard", d.Diagnostics)
	return txs, d, nil
}

// ListView builds the income or expense page for the range.
func (s *DashboardService) ListView(ctx context.Context, p core.Principal, kind core.Kind, f core.RangeFilter) (aggregate.ListView, error) {
	if !kind.Valid() {
		return aggregate.ListView{}, core.InvalidInput("kind %q", kind)
	}
	txs, err := s.Transactions(ctx, p, f)
	if err != nil {
		return aggregate.ListView{}, err
	}
	v := s.agg.BuildListView(txs, kind)
	s.logDiagnostics(ctx, p, string(kind), v.Diagnostics)
	return v, nil
}

// Invalidate drops every snapshot of the user and supersedes fetches still
// in flight, so they cannot store data read before the write.
func (s *DashboardService) Invalidate(userID string) {
	prefix := userID + "|"
	s.mu.Lock()
	for key := range s.latest {
		if strings.HasPrefix(key, prefix) {
			s.seq++
			s.latest[key] = s.seq
		}
	}
	if s.snapshots != nil {
		s.snapshots.DeletePrefix(prefix)
	}
	s.mu.Unlock()
}

func (s *DashboardService) begin(key string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.latest[key] = s.seq
	return s.seq
}

// commit stores txs if gen is still the newest fetch for key.
func (s *DashboardService) commit(key string, gen uint64, txs []core.Transaction) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest[key] != gen {
		return false
	}
	delete(s.latest, key)
	if s.snapshots != nil {
		s.snapshots.Set(key, txs)
	}
	return true
}

func (s *DashboardService) abandon(key string, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest[key] == gen {
		delete(s.latest, key)
	}
}

func (s *DashboardService) logDiagnostics(ctx context.Context, p core.Principal, view string, d aggregate.Diagnostics) {
	if d.Unparseable == 0 {
		return
	}
	args := []any{
		log.FieldUserID, p.UserID,
		"view", view,
		log.FieldUnparseable, d.Unparseable,
	}
	if len(d.Errors) > 0 {
		args = append(args, log.FieldError, d.Errors[0])
	}
	s.logger.WarnContext(ctx, "Skipped transactions with unparseable dates", args...)
}
