package query

import (
	"sort"
	"strconv"
	"strings"
)

// Field is a logical reference field. Stores map it to a physical document path.
type Field string

const (
	FieldID      Field = "id"
	FieldLogin   Field = "login"
	FieldCreator Field = "creator"
	FieldMedia   Field = "media"
	FieldType    Field = "type"
	FieldURL     Field = "url"
	FieldSources Field = "sources"
	FieldTitle   Field = "title"
)

// Op is a comparison operator.
type Op int

const (
	OpEq Op = iota
	OpNe
	OpIn
)

func (o Op) String() string {
	switch o {
	case OpEq:
		return "=="
	case OpNe:
		return "!="
	case OpIn:
		return "in"
	default:
		return "op(" + strconv.Itoa(int(o)) + ")"
	}
}

// Term is a single comparison. Value is used by OpEq and OpNe, Values by OpIn.
type Term struct {
	Field  Field
	Op     Op
	Value  string
	Values []string
}

// Eq builds field == value.
func Eq(field Field, value string) Term {
	return Term{Field: field, Op: OpEq, Value: value}
}

// Ne builds field != value.
func Ne(field Field, value string) Term {
	return Term{Field: field, Op: OpNe, Value: value}
}

// In builds field in values. An empty set matches nothing.
func In(field Field, values []string) Term {
	cp := append([]string(nil), values...)
	sort.Strings(cp)
	return Term{Field: field, Op: OpIn, Values: cp}
}

// Equal reports whether two terms are identical.
func (t Term) Equal(o Term) bool {
	if t.Field != o.Field || t.Op != o.Op || t.Value != o.Value || len(t.Values) != len(o.Values) {
		return false
	}
	for i := range t.Values {
		if t.Values[i] != o.Values[i] {
			return false
		}
	}
	return true
}

// Match evaluates the term against the values a document holds for t.Field.
// A multi-valued field matches OpEq and OpIn when any element matches and
// OpNe when no element equals Value. A missing field only satisfies OpNe.
func (t Term) Match(values []string) bool {
	switch t.Op {
	case OpEq:
		for _, v := range values {
			if v == t.Value {
				return true
			}
		}
		return false
	case OpNe:
		for _, v := range values {
			if v == t.Value {
				return false
			}
		}
		return true
	case OpIn:
		for _, v := range values {
			i := sort.SearchStrings(t.Values, v)
			if i < len(t.Values) && t.Values[i] == v {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func (t Term) String() string {
	if t.Op == OpIn {
		quoted := make([]string, len(t.Values))
		for i, v := range t.Values {
			quoted[i] = strconv.Quote(v)
		}
		return string(t.Field) + " in [" + strings.Join(quoted, ", ") + "]"
	}
	return string(t.Field) + " " + t.Op.String() + " " + strconv.Quote(t.Value)
}

// Predicate is an immutable conjunction of terms. The zero value matches everything.
type Predicate struct {
	terms []Term
}

// And returns a new predicate with the extra terms appended. Terms already
// present are not duplicated.
func (p Predicate) And(terms ...Term) Predicate {
	out := make([]Term, len(p.terms), len(p.terms)+len(terms))
	copy(out, p.terms)
next:
	for _, t := range terms {
		for _, existing := range out {
			if existing.Equal(t) {
				continue next
			}
		}
		out = append(out, t)
	}
	return Predicate{terms: out}
}

// Terms returns a copy of the conjuncts.
func (p Predicate) Terms() []Term {
	return append([]Term(nil), p.terms...)
}

// IsEmpty reports whether the predicate has no conjuncts.
func (p Predicate) IsEmpty() bool {
	return len(p.terms) == 0
}

// Match evaluates the predicate with lookup supplying a document's values for a field.
func (p Predicate) Match(lookup func(Field) []string) bool {
	for _, t := range p.terms {
		if !t.Match(lookup(t.Field)) {
			return false
		}
	}
	return true
}

func (p Predicate) String() string {
	if len(p.terms) == 0 {
		return "true"
	}
	parts := make([]string, len(p.terms))
	for i, t := range p.terms {
		parts[i] = t.String()
	}
	return strings.Join(parts, " AND ")
}
