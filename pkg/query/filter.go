package query

import (
	"strings"
)

// FilterName is one of the closed set of filter names accepted in filter=name:value.
type FilterName string

const (
	FilterUser    FilterName = "user"
	FilterMedia   FilterName = "media"
	FilterPackage FilterName = "package"
	FilterType    FilterName = "type"
)

// Filter is a parsed filter=name:value parameter.
type Filter struct {
	Name  FilterName
	Value string
}

func (f Filter) String() string {
	return string(f.Name) + ":" + f.Value
}

func parseFilterName(s string) (FilterName, bool) {
	switch FilterName(s) {
	case FilterUser, FilterMedia, FilterPackage, FilterType:
		return FilterName(s), true
	default:
		return "", false
	}
}

// ParseFilter parses "name:value". The value is everything after the first
// colon and is matched exactly.
func ParseFilter(raw string) (Filter, error) {
	name, value, ok := strings.Cut(raw, ":")
	if !ok {
		return Filter{}, NewError(KindInvalidFilter, "filter %q is not of the form name:value", raw).
			WithDetail("filter", raw)
	}
	fn, known := parseFilterName(name)
	if !known {
		return Filter{}, NewError(KindInvalidFilter, "unknown filter name %q", name).
			WithDetail("filter", raw)
	}
	if value == "" {
		return Filter{}, NewError(KindInvalidFilter, "filter %q has an empty value", name).
			WithDetail("filter", raw)
	}
	return Filter{Name: fn, Value: value}, nil
}

// ParseFilters parses every raw filter parameter, failing on the first bad one.
func ParseFilters(raws []string) ([]Filter, error) {
	filters := make([]Filter, 0, len(raws))
	for _, raw := range raws {
		f, err := ParseFilter(raw)
		if err != nil {
			return nil, err
		}
		filters = append(filters, f)
	}
	return filters, nil
}

// RelationKind names a reverse relationship served by the relationship index.
type RelationKind string

const (
	// RelationMediaOfPackage constrains a field to the media referenced by a package.
	RelationMediaOfPackage RelationKind = "media_of_package"
	// RelationPackagesOfMedia constrains a field to the packages referencing a media.
	RelationPackagesOfMedia RelationKind = "packages_of_media"
)

// Relation is a constraint "Field in <index lookup of ID>" that the engine
// expands into an OpIn term from an index snapshot.
type Relation struct {
	Kind  RelationKind
	Field Field
	ID    string
}

func (r Relation) String() string {
	return string(r.Field) + " in " + string(r.Kind) + "(" + r.ID + ")"
}

// constraint is the unit the resolver accumulates: either a plain term or a relation.
type constraint struct {
	term     Term
	relation *Relation
}

// bind maps a filter onto the reference field of target. It is shared by
// query filters and by {collection}/{id} path steps.
func bind(target Collection, name FilterName, value string) (constraint, bool) {
	switch name {
	case FilterUser:
		switch target {
		case CollectionAnnotation, CollectionAnnotationType, CollectionMedia, CollectionPackage:
			return constraint{term: Eq(FieldCreator, value)}, true
		case CollectionUser, CollectionUserInfo:
			return constraint{term: Eq(FieldLogin, value)}, true
		}
	case FilterMedia:
		switch target {
		case CollectionAnnotation:
			return constraint{term: Eq(FieldMedia, value)}, true
		case CollectionMedia:
			return constraint{term: Eq(FieldID, value)}, true
		case CollectionPackage:
			return constraint{relation: &Relation{Kind: RelationPackagesOfMedia, Field: FieldID, ID: value}}, true
		}
	case FilterType:
		switch target {
		case CollectionAnnotation:
			return constraint{term: Eq(FieldType, value)}, true
		case CollectionAnnotationType:
			return constraint{term: Eq(FieldID, value)}, true
		}
	case FilterPackage:
		switch target {
		case CollectionPackage:
			return constraint{term: Eq(FieldID, value)}, true
		case CollectionMedia:
			return constraint{relation: &Relation{Kind: RelationMediaOfPackage, Field: FieldID, ID: value}}, true
		case CollectionAnnotation:
			return constraint{relation: &Relation{Kind: RelationMediaOfPackage, Field: FieldMedia, ID: value}}, true
		}
	}
	return constraint{}, false
}

// parentFilter returns the filter name a {collection}/{id} path step stands for.
func parentFilter(c Collection) (FilterName, bool) {
	switch c {
	case CollectionUser:
		return FilterUser, true
	case CollectionMedia:
		return FilterMedia, true
	case CollectionPackage:
		return FilterPackage, true
	case CollectionAnnotationType:
		return FilterType, true
	default:
		return "", false
	}
}

// compare reports whether b duplicates a or contradicts it.
func compare(a, b constraint) (duplicate, conflict bool) {
	if a.relation != nil || b.relation != nil {
		if a.relation != nil && b.relation != nil && *a.relation == *b.relation {
			return true, false
		}
		return false, false
	}
	if a.term.Field != b.term.Field {
		return false, false
	}
	same := a.term.Value == b.term.Value
	switch {
	case a.term.Op == OpEq && b.term.Op == OpEq:
		return same, !same
	case a.term.Op == OpNe && b.term.Op == OpNe:
		return same, false
	case (a.term.Op == OpEq && b.term.Op == OpNe) || (a.term.Op == OpNe && b.term.Op == OpEq):
		return false, same
	}
	return a.term.Equal(b.term), false
}

func (c constraint) String() string {
	if c.relation != nil {
		return c.relation.String()
	}
	return c.term.String()
}
