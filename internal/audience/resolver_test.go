package audience_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/crm-campaigns/internal/audience"
	"github.com/unclebandit/crm-campaigns/internal/db"
	"github.com/unclebandit/crm-campaigns/internal/model"
	"github.com/unclebandit/crm-campaigns/internal/repository"
	"github.com/unclebandit/crm-campaigns/internal/rules"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return now }

// scanOnly hides the query methods so the resolver must scan.
type scanOnly struct {
	store audience.Store
	calls int
}

func (s *scanOnly) ListAll(ctx context.Context) ([]model.Customer, error) {
	s.calls++
	return s.store.ListAll(ctx)
}

// countingStore records which path the resolver took.
type countingStore struct {
	audience.QueryStore
	listAll, count, find int
}

func (s *countingStore) ListAll(ctx context.Context) ([]model.Customer, error) {
	s.listAll++
	return s.QueryStore.ListAll(ctx)
}

func (s *countingStore) CountWhere(ctx context.Context, where string, args []any) (int, error) {
	s.count++
	return s.QueryStore.CountWhere(ctx, where, args)
}

func (s *countingStore) FindWhere(ctx context.Context, where string, args []any) ([]model.Customer, error) {
	s.find++
	return s.QueryStore.FindWhere(ctx, where, args)
}

func newStore(t *testing.T, customers []model.Customer) *repository.CustomerRepository {
	t.Helper()
	ctx := context.Background()
	d, err := db.OpenSQLite(ctx, filepath.Join(t.TempDir(), "crm.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	repo := &repository.CustomerRepository{DB: d}
	for i := range customers {
		require.NoError(t, repo.Create(ctx, &customers[i]))
	}
	return repo
}

func ids(cs []model.Customer) []int64 {
	out := make([]int64, 0, len(cs))
	for _, c := range cs {
		out = append(out, c.ID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func daysAgo(d float64) *time.Time {
	t := now.Add(-time.Duration(d * float64(24*time.Hour)))
	return &t
}

func TestResolve_GreaterThanIsStrict(t *testing.T) {
	ctx := context.Background()
	repo := newStore(t, []model.Customer{
		{Name: "a", Email: "a@x.io", TotalSpends: 500},
		{Name: "b", Email: "b@x.io", TotalSpends: 1500},
		{Name: "c", Email: "c@x.io", TotalSpends: 1000},
	})
	pred, err := rules.Compile(model.RuleGroup{
		LogicalOperator: model.And,
		Conditions:      []model.RuleCondition{{Field: "totalSpends", Operator: model.GreaterThan, Value: 1000}},
	})
	require.NoError(t, err)

	for _, pushdown := range []bool{true, false} {
		r := audience.NewResolver(repo, audience.WithPushdown(pushdown), audience.WithClock(clock))
		got, err := r.Fetch(ctx, pred)
		require.NoError(t, err)
		require.Len(t, got, 1, "pushdown=%v", pushdown)
		assert.Equal(t, 1500.0, got[0].TotalSpends)
	}
}

func TestResolve_CountDoesNotLoadCustomersWithPushdown(t *testing.T) {
	ctx := context.Background()
	repo := newStore(t, []model.Customer{
		{Name: "a", Email: "a@x.io", VisitCount: 1},
		{Name: "b", Email: "b@x.io", VisitCount: 9},
	})
	store := &countingStore{QueryStore: repo}
	r := audience.NewResolver(store, audience.WithClock(clock))

	n, err := r.Count(ctx, rules.MatchAll())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, store.count)
	assert.Zero(t, store.listAll)
	assert.Zero(t, store.find)
}

func TestResolve_NonASCIIContainsFallsBackToScan(t *testing.T) {
	ctx := context.Background()
	repo := newStore(t, []model.Customer{
		{Name: "Zoë Adams", Email: "zoe@x.io"},
		{Name: "ZOË BAKER", Email: "zb@x.io"},
		{Name: "Zoe Clark", Email: "zc@x.io"},
	})
	store := &countingStore{QueryStore: repo}
	pred, err := rules.Compile(model.RuleGroup{
		LogicalOperator: model.Or,
		Conditions:      []model.RuleCondition{{Field: "name", Operator: model.Contains, Value: "zoë"}},
	})
	require.NoError(t, err)

	res, err := audience.NewResolver(store, audience.WithClock(clock)).Resolve(ctx, pred, audience.ModeFetch)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Size)
	assert.Equal(t, 1, store.listAll)
	assert.Zero(t, store.find)
}

func TestResolve_StoreErrorsAreWrapped(t *testing.T) {
	boom := errors.New("connection reset")
	r := audience.NewResolver(failingStore{err: boom})
	_, err := r.Fetch(context.Background(), rules.MatchAll())
	assert.ErrorIs(t, err, boom)
}

type failingStore struct{ err error }

func (f failingStore) ListAll(context.Context) ([]model.Customer, error) { return nil, f.err }

func TestResolve_RelativeDatesUseResolutionTime(t *testing.T) {
	ctx := context.Background()
	repo := newStore(t, []model.Customer{
		{Name: "recent", Email: "r@x.io", LastActiveDate: daysAgo(2)},
		{Name: "stale", Email: "s@x.io", LastActiveDate: daysAgo(40)},
		{Name: "never", Email: "n@x.io"},
	})
	pred, err := rules.Compile(model.RuleGroup{
		LogicalOperator: model.And,
		Conditions:      []model.RuleCondition{{Field: "lastActiveDate", Operator: model.InLastDays, Value: 7}},
	})
	require.NoError(t, err)

	n, err := audience.NewResolver(repo, audience.WithClock(clock)).Count(ctx, pred)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	later := func() time.Time { return now.Add(30 * 24 * time.Hour) }
	n, err = audience.NewResolver(repo, audience.WithClock(later)).Count(ctx, pred)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

// Pushdown and full scan must select the same customers for any rule tree.
func TestResolve_PushdownMatchesFullScan(t *testing.T) {
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))

	names := []string{"Alice", "alice", "Bob", "ÉMILE", "Zoë", "Ann_Marie", "100% Bob", "carol"}
	spends := []float64{0, 499.99, 500, 1000, 1000.5, 1500}
	var population []model.Customer
	for i := 0; i < 120; i++ {
		c := model.Customer{
			Name:        names[rng.Intn(len(names))],
			Email:       fmt.Sprintf("user%d@%s", i, []string{"example.com", "Mail.org", "x.io"}[rng.Intn(3)]),
			TotalSpends: spends[rng.Intn(len(spends))],
			VisitCount:  rng.Intn(12),
		}
		if rng.Intn(5) > 0 {
			c.LastActiveDate = daysAgo(float64(rng.Intn(90)) + rng.Float64())
		}
		population = append(population, c)
	}
	repo := newStore(t, population)

	pushdown := audience.NewResolver(repo, audience.WithClock(clock))
	scan := audience.NewResolver(&scanOnly{store: repo}, audience.WithClock(clock))

	for i := 0; i < 200; i++ {
		g := randomGroup(rng, 0)
		pred, err := rules.Compile(g)
		require.NoError(t, err)

		a, err := pushdown.Fetch(ctx, pred)
		require.NoError(t, err)
		b, err := scan.Fetch(ctx, pred)
		require.NoError(t, err)
		require.Equal(t, ids(b), ids(a), "rule tree %+v", g)

		n, err := pushdown.Count(ctx, pred)
		require.NoError(t, err)
		require.Equal(t, len(b), n)
	}
}

func randomGroup(rng *rand.Rand, depth int) model.RuleGroup {
	g := model.RuleGroup{LogicalOperator: []model.LogicalOperator{model.And, model.Or}[rng.Intn(2)]}
	for i := rng.Intn(3); i >= 0; i-- {
		g.Conditions = append(g.Conditions, randomCondition(rng))
	}
	if depth < 2 {
		for i := rng.Intn(3); i > 0; i-- {
			g.Groups = append(g.Groups, randomGroup(rng, depth+1))
		}
	}
	return g
}

func randomCondition(rng *rand.Rand) model.RuleCondition {
	pick := func(ops ...model.Operator) model.Operator { return ops[rng.Intn(len(ops))] }
	switch rng.Intn(5) {
	case 0:
		return model.RuleCondition{Field: "name", Operator: pick(model.Equals, model.NotEquals, model.Contains),
			Value: []string{"Alice", "ali", "BOB", "_", "%", "mile", "carol"}[rng.Intn(7)]}
	case 1:
		return model.RuleCondition{Field: "email", Operator: model.Contains,
			Value: []string{"example", "MAIL", "user1", ".io"}[rng.Intn(4)]}
	case 2:
		return model.RuleCondition{Field: "totalSpends", Operator: pick(model.Equals, model.NotEquals, model.GreaterThan, model.LessThan),
			Value: []float64{500, 1000, 1000.5, 0}[rng.Intn(4)]}
	case 3:
		return model.RuleCondition{Field: "visitCount", Operator: pick(model.Equals, model.NotEquals, model.GreaterThan, model.LessThan),
			Value: []float64{0, 3, 5.5, 11}[rng.Intn(4)]}
	default:
		if rng.Intn(2) == 0 {
			return model.RuleCondition{Field: "lastActiveDate", Operator: pick(model.GreaterThan, model.LessThan),
				Value: now.AddDate(0, 0, -rng.Intn(60)).Format(time.RFC3339)}
		}
		return model.RuleCondition{Field: "lastActiveDate", Operator: pick(model.OlderThanDays, model.InLastDays),
			Value: rng.Intn(60)}
	}
}
