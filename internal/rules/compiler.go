// Package rules compiles audience rule trees into predicates that can be
// evaluated in process or pushed down to the customer store as SQL.
package rules

import (
	"errors"
	"strings"
	"time"

	appErrors "github.com/unclebandit/crm-campaigns/internal/errors"
	"github.com/unclebandit/crm-campaigns/internal/model"
)

// ErrNotTranslatable is returned by Predicate.SQL when some condition has no
// SQL form that is guaranteed to agree with Match. Callers fall back to an
// in-process scan.
var ErrNotTranslatable = errors.New("rules: predicate has no equivalent SQL form")

// MaxDepth bounds the nesting of rule groups accepted by Compile.
const MaxDepth = 16

// Predicate is a compiled RuleGroup. It is immutable and safe for
// concurrent use; relative-date conditions are evaluated against the time
// passed to Match and SQL, not the time of compilation.
type Predicate struct {
	root node
}

// Compile validates g and turns it into a Predicate. Every unknown field or
// operator, or value that cannot be coerced to the field's type, is
// reported as a *appErrors.ValidationError before any customer I/O.
func Compile(g model.RuleGroup) (*Predicate, error) {
	root, err := compileGroup(g, 0)
	if err != nil {
		return nil, err
	}
	return &Predicate{root: root}, nil
}

// MatchAll returns the universal predicate.
func MatchAll() *Predicate {
	return &Predicate{root: &groupNode{op: model.And}}
}

// Universal reports whether p matches every customer by construction.
func (p *Predicate) Universal() bool {
	g, ok := p.root.(*groupNode)
	return ok && len(g.children) == 0
}

// Match evaluates p against a single customer.
func (p *Predicate) Match(c *model.Customer, now time.Time) bool {
	return p.root.match(c, now)
}

// SQL renders p as a WHERE clause using ? placeholders.
func (p *Predicate) SQL(now time.Time) (string, []any, error) {
	w := &whereBuilder{}
	if err := p.root.where(now, w); err != nil {
		return "", nil, err
	}
	return w.sb.String(), w.args, nil
}

type node interface {
	match(c *model.Customer, now time.Time) bool
	where(now time.Time, w *whereBuilder) error
}

type whereBuilder struct {
	sb   strings.Builder
	args []any
}

func (w *whereBuilder) write(s string, args ...any) {
	w.sb.WriteString(s)
	w.args = append(w.args, args...)
}

func compileGroup(g model.RuleGroup, depth int) (node, error) {
	if depth >= MaxDepth {
		return nil, appErrors.NewValidation("groups", "rule tree nested deeper than %d levels", MaxDepth)
	}

	op := model.LogicalOperator(strings.ToUpper(strings.TrimSpace(string(g.LogicalOperator))))
	switch {
	case op == model.And || op == model.Or:
	case op == "" && g.IsEmpty():
		op = model.And
	default:
		return nil, appErrors.NewValidation("logicalOperator", "must be AND or OR, got %q", g.LogicalOperator)
	}

	n := &groupNode{op: op}
	for _, c := range g.Conditions {
		child, err := compileCondition(c)
		if err != nil {
			return nil, err
		}
		n.children = append(n.children, child)
	}
	for _, sub := range g.Groups {
		child, err := compileGroup(sub, depth+1)
		if err != nil {
			return nil, err
		}
		n.children = append(n.children, child)
	}
	return n, nil
}

type groupNode struct {
	op       model.LogicalOperator
	children []node
}

func (g *groupNode) match(c *model.Customer, now time.Time) bool {
	if len(g.children) == 0 {
		return true
	}
	if g.op == model.Or {
		for _, child := range g.children {
			if child.match(c, now) {
				return true
			}
		}
		return false
	}
	for _, child := range g.children {
		if !child.match(c, now) {
			return false
		}
	}
	return true
}

func (g *groupNode) where(now time.Time, w *whereBuilder) error {
	if len(g.children) == 0 {
		w.write("1 = 1")
		return nil
	}
	sep := " AND "
	if g.op == model.Or {
		sep = " OR "
	}
	w.write("(")
	for i, child := range g.children {
		if i > 0 {
			w.write(sep)
		}
		if err := child.where(now, w); err != nil {
			return err
		}
	}
	w.write(")")
	return nil
}
