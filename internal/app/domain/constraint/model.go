// Package constraint defines the comparison operators and the range and
// exclusion constraints attached to configuration keys, together with the
// value classification rules constraints are validated against.
package constraint

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Operator identifies one of the six comparison operators. The ids are
// reference data, fixed across installations.
type Operator int64

const (
	OpEquals Operator = iota + 1
	OpLessOrEqual
	OpLessThan
	OpGreaterOrEqual
	OpGreaterThan
	OpNotEqual
)

// Valid reports whether the operator id falls inside the reference range.
func (o Operator) Valid() bool {
	return o >= OpEquals && o <= OpNotEqual
}

// String returns the operator's name.
func (o Operator) String() string {
	switch o {
	case OpEquals:
		return "equals"
	case OpLessOrEqual:
		return "less than or equal to"
	case OpLessThan:
		return "less than"
	case OpGreaterOrEqual:
		return "greater than or equal to"
	case OpGreaterThan:
		return "greater than"
	case OpNotEqual:
		return "not equal to"
	default:
		return "unknown"
	}
}

// Symbol returns the operator's comparison symbol.
func (o Operator) Symbol() string {
	switch o {
	case OpEquals:
		return "="
	case OpLessOrEqual:
		return "<="
	case OpLessThan:
		return "<"
	case OpGreaterOrEqual:
		return ">="
	case OpGreaterThan:
		return ">"
	case OpNotEqual:
		return "!="
	default:
		return "?"
	}
}

// Matches applies the operator to the pair (a, b).
func (o Operator) Matches(a, b float64) bool {
	switch o {
	case OpEquals:
		return a == b
	case OpLessOrEqual:
		return a <= b
	case OpLessThan:
		return a < b
	case OpGreaterOrEqual:
		return a >= b
	case OpGreaterThan:
		return a > b
	case OpNotEqual:
		return a != b
	default:
		return false
	}
}

// OperatorRecord is the reference-data row exposed for one operator.
type OperatorRecord struct {
	ID     int64
	Name   string
	Symbol string
}

// Operators lists the reference operators in id order.
func Operators() []OperatorRecord {
	records := make([]OperatorRecord, 0, int(OpNotEqual))
	for o := OpEquals; o <= OpNotEqual; o++ {
		records = append(records, OperatorRecord{ID: int64(o), Name: o.String(), Symbol: o.Symbol()})
	}
	return records
}

// RangeConstraint bounds the admissible values of one configuration key
// with a single operator comparison.
type RangeConstraint struct {
	ID                 int64
	ConfigurationKeyID int64
	OperatorID         int64
	Value              json.RawMessage
}

// ExclusionConstraint pairs two constraint halves over configuration keys
// of one application. It is a structural container; the halves are not
// cross-validated against each other.
type ExclusionConstraint struct {
	ID int64

	FirstConfigurationKeyID int64
	FirstOperatorID         int64
	FirstValueA             json.RawMessage
	FirstValueB             json.RawMessage

	SecondConfigurationKeyID int64
	SecondOperatorID         int64
	SecondValueA             json.RawMessage
	SecondValueB             json.RawMessage
}

// Kind classifies a constraint value.
type Kind int

const (
	KindInvalid Kind = iota
	KindInteger
	KindFloat
)

// Classify inspects a raw JSON value and reports whether it is an integer,
// a float, or inadmissible. Strings, booleans, null, arrays, objects and
// inputs with trailing tokens all classify as invalid.
func Classify(raw json.RawMessage) Kind {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return KindInvalid
	}
	num, ok := tok.(json.Number)
	if !ok {
		return KindInvalid
	}
	if dec.More() {
		return KindInvalid
	}
	if strings.ContainsAny(num.String(), ".eE") {
		return KindFloat
	}
	return KindInteger
}

// IsNumeric reports whether the raw value classifies as integer or float.
func IsNumeric(raw json.RawMessage) bool {
	return Classify(raw) != KindInvalid
}
