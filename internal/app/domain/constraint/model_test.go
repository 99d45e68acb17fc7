package constraint

import (
	"encoding/json"
	"testing"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		raw  string
		want Kind
	}{
		{"1", KindInteger},
		{"-15", KindInteger},
		{"0", KindInteger},
		{"1.5", KindFloat},
		{"-0.25", KindFloat},
		{"1e3", KindFloat},
		{"2E-2", KindFloat},
		{`"1"`, KindInvalid},
		{`"abc"`, KindInvalid},
		{"true", KindInvalid},
		{"null", KindInvalid},
		{"[1]", KindInvalid},
		{`{"a":1}`, KindInvalid},
		{"1 2", KindInvalid},
		{"", KindInvalid},
		{"not json", KindInvalid},
	}
	for _, tc := range cases {
		if got := Classify(json.RawMessage(tc.raw)); got != tc.want {
			t.Fatalf("Classify(%q) = %v, want %v", tc.raw, got, tc.want)
		}
	}
}

func TestIsNumeric(t *testing.T) {
	if !IsNumeric(json.RawMessage("42")) {
		t.Fatal("expected 42 to be numeric")
	}
	if !IsNumeric(json.RawMessage("4.2")) {
		t.Fatal("expected 4.2 to be numeric")
	}
	if IsNumeric(json.RawMessage(`"42"`)) {
		t.Fatal("expected quoted string to be non-numeric")
	}
}

func TestOperatorValidBoundaries(t *testing.T) {
	if Operator(0).Valid() {
		t.Fatal("operator 0 must be invalid")
	}
	if Operator(7).Valid() {
		t.Fatal("operator 7 must be invalid")
	}
	if Operator(-1).Valid() {
		t.Fatal("negative operator must be invalid")
	}
	for o := OpEquals; o <= OpNotEqual; o++ {
		if !o.Valid() {
			t.Fatalf("operator %d must be valid", o)
		}
	}
}

func TestOperatorMatches(t *testing.T) {
	cases := []struct {
		op   Operator
		a, b float64
		want bool
	}{
		{OpEquals, 1, 1, true},
		{OpEquals, 1, 2, false},
		{OpLessOrEqual, 2, 2, true},
		{OpLessOrEqual, 3, 2, false},
		{OpLessThan, 1, 2, true},
		{OpLessThan, 2, 2, false},
		{OpGreaterOrEqual, 2, 2, true},
		{OpGreaterOrEqual, 1, 2, false},
		{OpGreaterThan, 3, 2, true},
		{OpGreaterThan, 2, 2, false},
		{OpNotEqual, 1, 2, true},
		{OpNotEqual, 2, 2, false},
	}
	for _, tc := range cases {
		if got := tc.op.Matches(tc.a, tc.b); got != tc.want {
			t.Fatalf("%v.Matches(%v, %v) = %v, want %v", tc.op, tc.a, tc.b, got, tc.want)
		}
	}
}

func TestOperators(t *testing.T) {
	records := Operators()
	if len(records) != 6 {
		t.Fatalf("expected 6 operators, got %d", len(records))
	}
	if records[0].ID != 1 || records[0].Name != "equals" || records[0].Symbol != "=" {
		t.Fatalf("unexpected first operator: %+v", records[0])
	}
	if records[5].ID != 6 || records[5].Symbol != "!=" {
		t.Fatalf("unexpected last operator: %+v", records[5])
	}
}
