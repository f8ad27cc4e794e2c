package query

import (
	"strings"
)

const (
	qualifierUser   = "user"
	qualifierSystem = "system"

	maxSegments = 5
)

// Target is a resolved request: the collection to read and the constraints
// to apply to it.
type Target struct {
	Collection Collection
	// ID is set for the {collection}/{id} shape.
	ID        string
	Predicate Predicate
	// Relations still need expanding through the relationship index.
	Relations []Relation
}

// Unconstrained reports whether the target selects the whole collection.
func (t Target) Unconstrained() bool {
	return t.Predicate.IsEmpty() && len(t.Relations) == 0
}

func (t Target) String() string {
	parts := make([]string, 0, len(t.Relations)+1)
	if !t.Predicate.IsEmpty() {
		parts = append(parts, t.Predicate.String())
	}
	for _, r := range t.Relations {
		parts = append(parts, r.String())
	}
	if len(parts) == 0 {
		return string(t.Collection)
	}
	return string(t.Collection) + " where " + strings.Join(parts, " AND ")
}

// SplitPath turns "/media/42/annotation/" into its segments.
// Leading and trailing slashes are ignored; empty inner segments are kept so
// Resolve can reject them.
func SplitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

type resolution struct {
	constraints []constraint
}

func (r *resolution) add(c constraint) error {
	for _, existing := range r.constraints {
		duplicate, conflict := compare(existing, c)
		if conflict {
			return NewError(KindConflictingFilter, "%s contradicts %s", c, existing).
				WithDetail("constraint", c.String()).
				WithDetail("conflicts_with", existing.String())
		}
		if duplicate {
			return nil
		}
	}
	r.constraints = append(r.constraints, c)
	return nil
}

func (r *resolution) target(c Collection, id string) Target {
	t := Target{Collection: c, ID: id}
	for _, k := range r.constraints {
		if k.relation != nil {
			t.Relations = append(t.Relations, *k.relation)
			continue
		}
		t.Predicate = t.Predicate.And(k.term)
	}
	return t
}

func invalidPath(segments []string, format string, args ...interface{}) error {
	return NewError(KindInvalidPath, format, args...).WithDetail("path", "/"+strings.Join(segments, "/"))
}

// Resolve validates a nested resource path and composes the predicate for
// its target collection, ANDing in the query filters. It never touches storage.
func Resolve(segments []string, filters []Filter) (Target, error) {
	if len(segments) == 0 {
		return Target{}, invalidPath(segments, "path is empty")
	}
	if len(segments) > maxSegments {
		return Target{}, invalidPath(segments, "path has %d segments, at most %d allowed", len(segments), maxSegments)
	}
	for i, s := range segments {
		if s == "" {
			return Target{}, invalidPath(segments, "empty segment at position %d", i)
		}
	}

	root, ok := ParseCollection(segments[0])
	if !ok || !root.Queryable() {
		return Target{}, invalidPath(segments, "unknown collection %q", segments[0])
	}

	var (
		r      resolution
		target = root
		id     string
	)

	switch len(segments) {
	case 1:
	case 2:
		id = segments[1]
		_ = r.add(constraint{term: Eq(root.PrimaryKey(), id)})
	default:
		sub, ok := ParseCollection(segments[2])
		if !ok || !sub.Queryable() {
			return Target{}, invalidPath(segments, "unknown collection %q", segments[2])
		}
		if sub == root {
			return Target{}, invalidPath(segments, "%q cannot be nested under itself", sub)
		}
		name, ok := parentFilter(root)
		if !ok {
			return Target{}, invalidPath(segments, "%q has no sub-resources", root)
		}
		step, ok := bind(sub, name, segments[1])
		if !ok {
			return Target{}, invalidPath(segments, "%q is not reachable from %q", sub, root)
		}
		_ = r.add(step)
		target = sub

		if len(segments) >= 4 {
			if sub != CollectionAnnotation {
				return Target{}, invalidPath(segments, "origin qualifiers apply to annotations only")
			}
			var q constraint
			switch segments[3] {
			case qualifierSystem:
				if len(segments) == 5 {
					return Target{}, invalidPath(segments, "%q takes no identifier", qualifierSystem)
				}
				q = constraint{term: Eq(FieldCreator, SystemUser)}
			case qualifierUser:
				if len(segments) == 5 {
					q = constraint{term: Eq(FieldCreator, segments[4])}
				} else {
					q = constraint{term: Ne(FieldCreator, SystemUser)}
				}
			default:
				return Target{}, invalidPath(segments, "unknown qualifier %q", segments[3])
			}
			if err := r.add(q); err != nil {
				return Target{}, err
			}
		}
	}

	for _, f := range filters {
		c, ok := bind(target, f.Name, f.Value)
		if !ok {
			return Target{}, NewError(KindInvalidFilter, "filter %q does not apply to %q", f.Name, target).
				WithDetail("filter", f.String())
		}
		if err := r.add(c); err != nil {
			return Target{}, err
		}
	}

	return r.target(target, id), nil
}
