package query

// Collection names a stored collection.
type Collection string

const (
	CollectionUser           Collection = "user"
	CollectionAnnotation     Collection = "annotation"
	CollectionAnnotationType Collection = "annotationtype"
	CollectionMedia          Collection = "media"
	CollectionPackage        Collection = "package"
	CollectionUserInfo       Collection = "userinfo"
	CollectionTrace          Collection = "trace"
)

// Collections lists every known collection.
var Collections = []Collection{
	CollectionUser,
	CollectionAnnotation,
	CollectionAnnotationType,
	CollectionMedia,
	CollectionPackage,
	CollectionUserInfo,
	CollectionTrace,
}

// ParseCollection maps a path segment to a Collection.
func ParseCollection(s string) (Collection, bool) {
	for _, c := range Collections {
		if string(c) == s {
			return c, true
		}
	}
	return "", false
}

// PrimaryKey returns the logical key field of the collection.
func (c Collection) PrimaryKey() Field {
	switch c {
	case CollectionUser, CollectionUserInfo:
		return FieldLogin
	default:
		return FieldID
	}
}

// Queryable reports whether the collection can be reached through the resolver.
// Traces are append-only and never listed.
func (c Collection) Queryable() bool {
	return c != CollectionTrace
}

// SystemUser is the creator recorded on machine-authored documents.
const SystemUser = "system"
