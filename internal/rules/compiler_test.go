package rules

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/crm-campaigns/internal/errors"
	"github.com/unclebandit/crm-campaigns/internal/model"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func daysAgo(n int) *time.Time {
	t := now.Add(-time.Duration(n) * day)
	return &t
}

func sampleCustomers() []model.Customer {
	return []model.Customer{
		{ID: 1, Name: "Alice Smith", Email: "alice@example.com", TotalSpends: 500, VisitCount: 3, LastActiveDate: daysAgo(2)},
		{ID: 2, Name: "Bob Jones", Email: "bob@shop.io", TotalSpends: 1500, VisitCount: 12, LastActiveDate: daysAgo(120)},
		{ID: 3, Name: "Carol", Email: "carol@example.com", TotalSpends: 1000, VisitCount: 0},
	}
}

func matching(t *testing.T, p *Predicate, customers []model.Customer) []int64 {
	t.Helper()
	var ids []int64
	for i := range customers {
		if p.Match(&customers[i], now) {
			ids = append(ids, customers[i].ID)
		}
	}
	return ids
}

func TestCompile_EmptyGroupMatchesEveryone(t *testing.T) {
	for _, g := range []model.RuleGroup{
		{},
		{LogicalOperator: model.And},
		{LogicalOperator: model.Or},
		{LogicalOperator: "and", Conditions: []model.RuleCondition{}},
	} {
		p, err := Compile(g)
		require.NoError(t, err)
		assert.True(t, p.Universal())
		assert.ElementsMatch(t, []int64{1, 2, 3}, matching(t, p, sampleCustomers()))

		clause, args, err := p.SQL(now)
		require.NoError(t, err)
		assert.Equal(t, "1 = 1", clause)
		assert.Empty(t, args)
	}
}

func TestCompile_GreaterThanIsStrict(t *testing.T) {
	p, err := Compile(model.RuleGroup{
		LogicalOperator: model.And,
		Conditions: []model.RuleCondition{
			{Field: "totalSpends", Operator: model.GreaterThan, Value: 1000.0},
		},
	})
	require.NoError(t, err)

	customers := []model.Customer{{ID: 1, TotalSpends: 500}, {ID: 2, TotalSpends: 1500}, {ID: 3, TotalSpends: 1000}}
	assert.Equal(t, []int64{2}, matching(t, p, customers))
}

func TestCompile_OperatorsAgreeWithReference(t *testing.T) {
	cases := []struct {
		name string
		cond model.RuleCondition
		ref  func(c model.Customer) bool
	}{
		{"name equals", model.RuleCondition{Field: "name", Operator: model.Equals, Value: "Carol"},
			func(c model.Customer) bool { return c.Name == "Carol" }},
		{"name not equals", model.RuleCondition{Field: "name", Operator: model.NotEquals, Value: "Carol"},
			func(c model.Customer) bool { return c.Name != "Carol" }},
		{"email contains any case", model.RuleCondition{Field: "email", Operator: model.Contains, Value: "EXAMPLE"},
			func(c model.Customer) bool { return c.ID == 1 || c.ID == 3 }},
		{"spends equals", model.RuleCondition{Field: "totalSpends", Operator: model.Equals, Value: 1000},
			func(c model.Customer) bool { return c.TotalSpends == 1000 }},
		{"spends less than string value", model.RuleCondition{Field: "totalSpends", Operator: "less_than", Value: "1000"},
			func(c model.Customer) bool { return c.TotalSpends < 1000 }},
		{"visits not equals", model.RuleCondition{Field: "visitCount", Operator: model.NotEquals, Value: 0, DataType: model.TypeNumber},
			func(c model.Customer) bool { return c.VisitCount != 0 }},
		{"older than 90 days", model.RuleCondition{Field: "lastActiveDate", Operator: model.OlderThanDays, Value: 90, DataType: model.TypeDate},
			func(c model.Customer) bool { return c.LastActiveDate != nil && c.LastActiveDate.Before(now.Add(-90*day)) }},
		{"active in last 7 days", model.RuleCondition{Field: "lastActiveDate", Operator: model.InLastDays, Value: "7"},
			func(c model.Customer) bool { return c.LastActiveDate != nil && !c.LastActiveDate.Before(now.Add(-7*day)) }},
		{"active after date", model.RuleCondition{Field: "lastActiveDate", Operator: model.GreaterThan, Value: "2026-01-01"},
			func(c model.Customer) bool {
				return c.LastActiveDate != nil && c.LastActiveDate.After(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
			}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, err := Compile(model.RuleGroup{LogicalOperator: model.And, Conditions: []model.RuleCondition{tc.cond}})
			require.NoError(t, err)
			for _, c := range sampleCustomers() {
				c := c
				assert.Equal(t, tc.ref(c), p.Match(&c, now), "customer %d", c.ID)
			}
		})
	}
}

func TestCompile_NestedGroups(t *testing.T) {
	// spends > 1200 OR (visits < 5 AND email contains "example")
	p, err := Compile(model.RuleGroup{
		LogicalOperator: model.Or,
		Conditions: []model.RuleCondition{
			{Field: "totalSpends", Operator: model.GreaterThan, Value: 1200},
		},
		Groups: []model.RuleGroup{{
			LogicalOperator: model.And,
			Conditions: []model.RuleCondition{
				{Field: "visitCount", Operator: model.LessThan, Value: 5},
				{Field: "email", Operator: model.Contains, Value: "example"},
			},
		}},
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{1, 2, 3}, matching(t, p, sampleCustomers()))

	clause, args, err := p.SQL(now)
	require.NoError(t, err)
	assert.Equal(t, `(total_spends > CAST(? AS DOUBLE PRECISION) OR (visit_count < CAST(? AS DOUBLE PRECISION) AND LOWER(email) LIKE ? ESCAPE '\'))`, clause)
	assert.Equal(t, []any{1200.0, 5.0, "%example%"}, args)
}

func TestCompile_RelativeDatesUseResolutionTime(t *testing.T) {
	p, err := Compile(model.RuleGroup{
		LogicalOperator: model.And,
		Conditions:      []model.RuleCondition{{Field: "lastActiveDate", Operator: model.InLastDays, Value: 5}},
	})
	require.NoError(t, err)

	alice := sampleCustomers()[0]
	assert.True(t, p.Match(&alice, now))
	assert.False(t, p.Match(&alice, now.Add(10*day)))

	_, args, err := p.SQL(now.Add(10 * day))
	require.NoError(t, err)
	assert.Equal(t, []any{now.Add(5 * day).UnixMilli()}, args)
}

func TestCompile_ContainsNonASCIIIsNotTranslatable(t *testing.T) {
	p, err := Compile(model.RuleGroup{
		LogicalOperator: model.And,
		Conditions:      []model.RuleCondition{{Field: "name", Operator: model.Contains, Value: "ÉLO"}},
	})
	require.NoError(t, err)

	c := model.Customer{Name: "Chloé Éloise"}
	assert.True(t, p.Match(&c, now))

	_, _, err = p.SQL(now)
	assert.True(t, errors.Is(err, ErrNotTranslatable))
}

func TestCompile_EscapesLikeWildcards(t *testing.T) {
	p, err := Compile(model.RuleGroup{
		LogicalOperator: model.And,
		Conditions:      []model.RuleCondition{{Field: "email", Operator: model.Contains, Value: "50%_off"}},
	})
	require.NoError(t, err)

	_, args, err := p.SQL(now)
	require.NoError(t, err)
	assert.Equal(t, []any{`%50\%\_off%`}, args)
}

func TestCompile_ValidationErrors(t *testing.T) {
	cases := []struct {
		name  string
		group model.RuleGroup
		field string
	}{
		{"unknown field", model.RuleGroup{LogicalOperator: model.And, Conditions: []model.RuleCondition{
			{Field: "age", Operator: model.Equals, Value: 3}}}, "age"},
		{"unknown operator", model.RuleGroup{LogicalOperator: model.And, Conditions: []model.RuleCondition{
			{Field: "totalSpends", Operator: "BETWEEN", Value: 3}}}, "totalSpends"},
		{"operator not valid for type", model.RuleGroup{LogicalOperator: model.And, Conditions: []model.RuleCondition{
			{Field: "visitCount", Operator: model.Contains, Value: "3"}}}, "visitCount"},
		{"conflicting data type", model.RuleGroup{LogicalOperator: model.And, Conditions: []model.RuleCondition{
			{Field: "totalSpends", Operator: model.GreaterThan, Value: 3, DataType: model.TypeString}}}, "totalSpends"},
		{"non numeric value", model.RuleGroup{LogicalOperator: model.And, Conditions: []model.RuleCondition{
			{Field: "totalSpends", Operator: model.GreaterThan, Value: "lots"}}}, "totalSpends"},
		{"string field with number", model.RuleGroup{LogicalOperator: model.And, Conditions: []model.RuleCondition{
			{Field: "name", Operator: model.Equals, Value: 7}}}, "name"},
		{"negative days", model.RuleGroup{LogicalOperator: model.And, Conditions: []model.RuleCondition{
			{Field: "lastActiveDate", Operator: model.OlderThanDays, Value: -1}}}, "lastActiveDate"},
		{"bad logical operator", model.RuleGroup{LogicalOperator: "XOR", Conditions: []model.RuleCondition{
			{Field: "name", Operator: model.Equals, Value: "a"}}}, "logicalOperator"},
		{"missing operator on non-empty group", model.RuleGroup{Conditions: []model.RuleCondition{
			{Field: "name", Operator: model.Equals, Value: "a"}}}, "logicalOperator"},
		{"error in nested group", model.RuleGroup{LogicalOperator: model.Or, Groups: []model.RuleGroup{{
			LogicalOperator: model.And, Conditions: []model.RuleCondition{{Field: "phone", Operator: model.Equals, Value: "1"}}}}}, "phone"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Compile(tc.group)
			require.Error(t, err)
			var ve *appErrors.ValidationError
			require.True(t, errors.As(err, &ve), "expected ValidationError, got %T", err)
			assert.Equal(t, tc.field, ve.Field)
		})
	}
}

func TestCompile_RejectsDeepTrees(t *testing.T) {
	g := model.RuleGroup{LogicalOperator: model.And}
	for i := 0; i < MaxDepth+1; i++ {
		g = model.RuleGroup{LogicalOperator: model.And, Groups: []model.RuleGroup{g}}
	}
	_, err := Compile(g)
	assert.True(t, appErrors.IsValidation(err))
}
