package query

import (
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func genID() gopter.Gen {
	return gen.Identifier().SuchThat(func(s string) bool { return s != "" })
}

// The conjuncts of a resolved predicate are exactly the constraints named by
// the traversed path: no extras and none missing.
func TestProperty_ConjunctsMatchPathSegments(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	properties.Property("media/user path yields media and creator terms", prop.ForAll(
		func(mediaID, login string) bool {
			target, err := Resolve([]string{"media", mediaID, "annotation", "user", login}, nil)
			if err != nil {
				return false
			}
			want := []Term{Eq(FieldMedia, mediaID), Eq(FieldCreator, login)}
			return target.Collection == CollectionAnnotation &&
				reflect.DeepEqual(target.Predicate.Terms(), want) &&
				len(target.Relations) == 0
		},
		genID(), genID(),
	))

	properties.Property("one term per parent step", prop.ForAll(
		func(parent string, id string) bool {
			c := Collection(parent)
			target, err := Resolve([]string{parent, id, string(CollectionAnnotation)}, nil)
			if err != nil {
				return false
			}
			return len(target.Predicate.Terms())+len(target.Relations) == 1 &&
				target.Collection == CollectionAnnotation &&
				c != CollectionAnnotation
		},
		gen.OneConstOf("user", "media", "package", "annotationtype"),
		genID(),
	))

	properties.TestingRun(t)
}

// filter=media:M on /annotation resolves to the same target as /media/M/annotation.
func TestProperty_MediaFilterEquivalentToPath(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	properties.Property("filter and path agree", prop.ForAll(
		func(mediaID string) bool {
			viaFilter, err := Resolve([]string{"annotation"}, []Filter{{Name: FilterMedia, Value: mediaID}})
			if err != nil {
				return false
			}
			viaPath, err := Resolve([]string{"media", mediaID, "annotation"}, nil)
			if err != nil {
				return false
			}
			return reflect.DeepEqual(viaFilter, viaPath)
		},
		genID(),
	))

	properties.TestingRun(t)
}

// Filter names outside the closed set are always rejected.
func TestProperty_UnknownFilterRejected(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	properties.Property("unknown names yield invalid_filter", prop.ForAll(
		func(name, value string) bool {
			_, err := ParseFilter(name + ":" + value)
			return KindOf(err) == KindInvalidFilter
		},
		genID().SuchThat(func(s string) bool {
			_, known := parseFilterName(s)
			return !known
		}),
		genID(),
	))

	properties.TestingRun(t)
}
