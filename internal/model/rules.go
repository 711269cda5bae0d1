// internal/model/rules.go
package model

// LogicalOperator combines the children of a RuleGroup.
type LogicalOperator string

const (
	And LogicalOperator = "AND"
	Or  LogicalOperator = "OR"
)

// Operator is the comparison applied by a single RuleCondition.
type Operator string

const (
	Equals        Operator = "EQUALS"
	NotEquals     Operator = "NOT_EQUALS"
	GreaterThan   Operator = "GREATER_THAN"
	LessThan      Operator = "LESS_THAN"
	Contains      Operator = "CONTAINS"
	OlderThanDays Operator = "OLDER_THAN_DAYS"
	InLastDays    Operator = "IN_LAST_DAYS"
)

// DataType optionally declares how a condition value is coerced.
type DataType string

const (
	TypeString DataType = "string"
	TypeNumber DataType = "number"
	TypeDate   DataType = "date"
)

// RuleCondition is one leaf predicate, e.g. totalSpends GREATER_THAN 1000.
type RuleCondition struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    any      `json:"value"`
	DataType DataType `json:"dataType,omitempty"`
}

// RuleGroup is a nested boolean tree. A group without conditions and
// without subgroups matches every customer.
type RuleGroup struct {
	LogicalOperator LogicalOperator `json:"logicalOperator"`
	Conditions      []RuleCondition `json:"conditions"`
	Groups          []RuleGroup     `json:"groups,omitempty"`
}

// IsEmpty reports whether g is the universal matcher.
func (g RuleGroup) IsEmpty() bool {
	return len(g.Conditions) == 0 && len(g.Groups) == 0
}
