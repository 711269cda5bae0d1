package rules

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	appErrors "github.com/unclebandit/crm-campaigns/internal/errors"
	"github.com/unclebandit/crm-campaigns/internal/model"
)

const day = 24 * time.Hour

type field struct {
	kind   model.DataType
	column string
	str    func(c *model.Customer) string
	num    func(c *model.Customer) float64
	date   func(c *model.Customer) *time.Time
}

var fields = map[string]field{
	"name": {
		kind:   model.TypeString,
		column: "name",
		str:    func(c *model.Customer) string { return c.Name },
	},
	"email": {
		kind:   model.TypeString,
		column: "email",
		str:    func(c *model.Customer) string { return c.Email },
	},
	"totalSpends": {
		kind:   model.TypeNumber,
		column: "total_spends",
		num:    func(c *model.Customer) float64 { return c.TotalSpends },
	},
	"visitCount": {
		kind:   model.TypeNumber,
		column: "visit_count",
		num:    func(c *model.Customer) float64 { return float64(c.VisitCount) },
	},
	"lastActiveDate": {
		kind:   model.TypeDate,
		column: "last_active_at",
		date:   func(c *model.Customer) *time.Time { return c.LastActiveDate },
	},
}

// Fields lists the customer attributes a rule may reference.
func Fields() []string {
	return []string{"name", "email", "totalSpends", "visitCount", "lastActiveDate"}
}

func compileCondition(c model.RuleCondition) (node, error) {
	f, ok := fields[c.Field]
	if !ok {
		return nil, appErrors.NewValidation(c.Field, "unknown field")
	}
	op := model.Operator(strings.ToUpper(strings.TrimSpace(string(c.Operator))))

	relative := op == model.OlderThanDays || op == model.InLastDays
	if c.DataType != "" {
		declared := model.DataType(strings.ToLower(string(c.DataType)))
		switch declared {
		case model.TypeString, model.TypeNumber, model.TypeDate:
		default:
			return nil, appErrors.NewValidation(c.Field, "unknown dataType %q", c.DataType)
		}
		// A day count may be declared as a number on a date field.
		if declared != f.kind && !(relative && declared == model.TypeNumber) {
			return nil, appErrors.NewValidation(c.Field, "dataType %q conflicts with field type %q", declared, f.kind)
		}
	}

	switch f.kind {
	case model.TypeString:
		return compileString(c, f, op)
	case model.TypeNumber:
		return compileNumber(c, f, op)
	default:
		return compileDate(c, f, op)
	}
}

func compileString(c model.RuleCondition, f field, op model.Operator) (node, error) {
	switch op {
	case model.Equals, model.NotEquals, model.Contains:
	default:
		return nil, unsupported(c, op, f.kind)
	}
	v, ok := c.Value.(string)
	if !ok {
		return nil, appErrors.NewValidation(c.Field, "value must be a string")
	}
	return &stringNode{f: f, op: op, value: v}, nil
}

func compileNumber(c model.RuleCondition, f field, op model.Operator) (node, error) {
	switch op {
	case model.Equals, model.NotEquals, model.GreaterThan, model.LessThan:
	default:
		return nil, unsupported(c, op, f.kind)
	}
	v, ok := toNumber(c.Value)
	if !ok {
		return nil, appErrors.NewValidation(c.Field, "value %v is not a number", c.Value)
	}
	return &numberNode{f: f, op: op, value: v}, nil
}

func compileDate(c model.RuleCondition, f field, op model.Operator) (node, error) {
	switch op {
	case model.OlderThanDays, model.InLastDays:
		days, ok := toNumber(c.Value)
		if !ok || days < 0 {
			return nil, appErrors.NewValidation(c.Field, "value %v is not a non-negative number of days", c.Value)
		}
		return &relativeDateNode{f: f, op: op, window: time.Duration(days * float64(day))}, nil
	case model.GreaterThan, model.LessThan:
		at, ok := toDate(c.Value)
		if !ok {
			return nil, appErrors.NewValidation(c.Field, "value %v is not a date", c.Value)
		}
		return &dateNode{f: f, op: op, at: at.UnixMilli()}, nil
	}
	return nil, unsupported(c, op, f.kind)
}

func unsupported(c model.RuleCondition, op model.Operator, kind model.DataType) error {
	switch op {
	case model.Equals, model.NotEquals, model.GreaterThan, model.LessThan,
		model.Contains, model.OlderThanDays, model.InLastDays:
		return appErrors.NewValidation(c.Field, "operator %s is not supported for %s fields", op, kind)
	}
	return appErrors.NewValidation(c.Field, "unknown operator %q", c.Operator)
}

type stringNode struct {
	f     field
	op    model.Operator
	value string
}

func (n *stringNode) match(c *model.Customer, _ time.Time) bool {
	got := n.f.str(c)
	switch n.op {
	case model.Equals:
		return got == n.value
	case model.NotEquals:
		return got != n.value
	}
	if isASCII(n.value) {
		return strings.Contains(foldASCII(got), foldASCII(n.value))
	}
	return strings.Contains(strings.ToLower(got), strings.ToLower(n.value))
}

func (n *stringNode) where(_ time.Time, w *whereBuilder) error {
	switch n.op {
	case model.Equals:
		w.write(n.f.column+" = ?", n.value)
	case model.NotEquals:
		w.write(n.f.column+" <> ?", n.value)
	default:
		// LOWER only folds ASCII on SQLite.
		if !isASCII(n.value) {
			return ErrNotTranslatable
		}
		w.write("LOWER("+n.f.column+") LIKE ? ESCAPE '\\'", "%"+escapeLike(foldASCII(n.value))+"%")
	}
	return nil
}

type numberNode struct {
	f     field
	op    model.Operator
	value float64
}

func (n *numberNode) match(c *model.Customer, _ time.Time) bool {
	got := n.f.num(c)
	switch n.op {
	case model.Equals:
		return got == n.value
	case model.NotEquals:
		return got != n.value
	case model.GreaterThan:
		return got > n.value
	default:
		return got < n.value
	}
}

func (n *numberNode) where(_ time.Time, w *whereBuilder) error {
	// The cast keeps PostgreSQL from typing the parameter as the integer
	// column type.
	w.write(n.f.column+" "+sqlComparison(n.op)+" CAST(? AS DOUBLE PRECISION)", n.value)
	return nil
}

// dateNode compares against an absolute instant at millisecond precision,
// the precision customers are stored with.
type dateNode struct {
	f  field
	op model.Operator
	at int64
}

func (n *dateNode) match(c *model.Customer, _ time.Time) bool {
	d := n.f.date(c)
	if d == nil {
		return false
	}
	if n.op == model.GreaterThan {
		return d.UnixMilli() > n.at
	}
	return d.UnixMilli() < n.at
}

func (n *dateNode) where(_ time.Time, w *whereBuilder) error {
	w.write("("+n.f.column+" IS NOT NULL AND "+n.f.column+" "+sqlComparison(n.op)+" ?)", n.at)
	return nil
}

type relativeDateNode struct {
	f      field
	op     model.Operator
	window time.Duration
}

func (n *relativeDateNode) cutoff(now time.Time) int64 {
	return now.Add(-n.window).UnixMilli()
}

func (n *relativeDateNode) match(c *model.Customer, now time.Time) bool {
	d := n.f.date(c)
	if d == nil {
		return false
	}
	if n.op == model.OlderThanDays {
		return d.UnixMilli() < n.cutoff(now)
	}
	return d.UnixMilli() >= n.cutoff(now)
}

func (n *relativeDateNode) where(now time.Time, w *whereBuilder) error {
	cmp := ">="
	if n.op == model.OlderThanDays {
		cmp = "<"
	}
	w.write("("+n.f.column+" IS NOT NULL AND "+n.f.column+" "+cmp+" ?)", n.cutoff(now))
	return nil
}

func sqlComparison(op model.Operator) string {
	switch op {
	case model.Equals:
		return "="
	case model.NotEquals:
		return "<>"
	case model.GreaterThan:
		return ">"
	default:
		return "<"
	}
}

func toNumber(v any) (float64, bool) {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case int32:
		f = float64(x)
	case json.Number:
		parsed, err := x.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func toDate(v any) (time.Time, bool) {
	switch x := v.(type) {
	case time.Time:
		return x, true
	case string:
		s := strings.TrimSpace(x)
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02"} {
			if t, err := time.Parse(layout, s); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}

// foldASCII lower-cases ASCII letters only, matching SQLite's LOWER.
func foldASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if 'A' <= c && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
