// Package audience resolves compiled rule predicates against the customer
// store, either by pushing them down as SQL or by scanning in process.
package audience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/unclebandit/crm-campaigns/internal/model"
	"github.com/unclebandit/crm-campaigns/internal/rules"
)

type Mode int

const (
	ModeCount Mode = iota
	ModeFetch
)

func (m Mode) String() string {
	if m == ModeCount {
		return "COUNT"
	}
	return "FETCH"
}

// Store is the minimum a customer source must offer.
type Store interface {
	ListAll(ctx context.Context) ([]model.Customer, error)
}

// QueryStore is implemented by stores that can evaluate a WHERE clause.
type QueryStore interface {
	Store
	CountWhere(ctx context.Context, where string, args []any) (int, error)
	FindWhere(ctx context.Context, where string, args []any) ([]model.Customer, error)
}

// Result holds Size for ModeCount and Size plus Customers for ModeFetch.
type Result struct {
	Size      int
	Customers []model.Customer
}

type Resolver struct {
	store    Store
	pushdown bool
	now      func() time.Time
	logger   *slog.Logger
}

type Option func(*Resolver)

// WithClock overrides the time source used for relative-date conditions.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// WithPushdown toggles SQL pushdown. It is on by default.
func WithPushdown(enabled bool) Option {
	return func(r *Resolver) { r.pushdown = enabled }
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

func NewResolver(store Store, opts ...Option) *Resolver {
	r := &Resolver{store: store, pushdown: true, now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve evaluates pred once, as of a single reading of the clock.
func (r *Resolver) Resolve(ctx context.Context, pred *rules.Predicate, mode Mode) (Result, error) {
	now := r.now()

	if qs, ok := r.store.(QueryStore); ok && r.pushdown {
		where, args, err := pred.SQL(now)
		switch {
		case err == nil:
			return r.resolveQuery(ctx, qs, where, args, mode)
		case errors.Is(err, rules.ErrNotTranslatable):
			r.logger.Debug("audience falls back to full scan", "mode", mode.String())
		default:
			return Result{}, err
		}
	}

	all, err := r.store.ListAll(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("list customers: %w", err)
	}
	matched := make([]model.Customer, 0, len(all))
	for i := range all {
		if pred.Match(&all[i], now) {
			matched = append(matched, all[i])
		}
	}
	if mode == ModeCount {
		return Result{Size: len(matched)}, nil
	}
	return Result{Size: len(matched), Customers: matched}, nil
}

func (r *Resolver) resolveQuery(ctx context.Context, qs QueryStore, where string, args []any, mode Mode) (Result, error) {
	if mode == ModeCount {
		n, err := qs.CountWhere(ctx, where, args)
		if err != nil {
			return Result{}, fmt.Errorf("count audience: %w", err)
		}
		return Result{Size: n}, nil
	}
	customers, err := qs.FindWhere(ctx, where, args)
	if err != nil {
		return Result{}, fmt.Errorf("fetch audience: %w", err)
	}
	return Result{Size: len(customers), Customers: customers}, nil
}

func (r *Resolver) Count(ctx context.Context, pred *rules.Predicate) (int, error) {
	res, err := r.Resolve(ctx, pred, ModeCount)
	return res.Size, err
}

func (r *Resolver) Fetch(ctx context.Context, pred *rules.Predicate) ([]model.Customer, error) {
	res, err := r.Resolve(ctx, pred, ModeFetch)
	return res.Customers, err
}
