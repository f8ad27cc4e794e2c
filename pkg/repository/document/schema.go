package document

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/nimburion/mds/pkg/query"
)

// Physical locations of logical fields, following the cinelab layout where
// authorship and type references live under "meta".
var fieldPaths = map[query.Collection]map[query.Field]string{
	query.CollectionUser: {
		query.FieldLogin: "login",
	},
	query.CollectionUserInfo: {
		query.FieldLogin: "login",
	},
	query.CollectionAnnotation: {
		query.FieldID:      "id",
		query.FieldCreator: "meta.dc:creator",
		query.FieldMedia:   "media",
		query.FieldType:    "meta.id-ref",
	},
	query.CollectionAnnotationType: {
		query.FieldID:      "id",
		query.FieldCreator: "meta.dc:creator",
		query.FieldTitle:   "meta.dc:title",
	},
	query.CollectionMedia: {
		query.FieldID:      "id",
		query.FieldCreator: "meta.dc:creator",
		query.FieldURL:     "url",
		query.FieldTitle:   "meta.dc:title",
	},
	query.CollectionPackage: {
		query.FieldID:      "id",
		query.FieldCreator: "meta.dc:creator",
		query.FieldSources: "imports.url",
	},
	query.CollectionTrace: {
		query.FieldID: "id",
	},
}

// FieldPath returns the dotted document path of a logical field.
func FieldPath(c query.Collection, f query.Field) (string, error) {
	if path, ok := fieldPaths[c][f]; ok {
		return path, nil
	}
	return "", fmt.Errorf("collection %q has no field %q", c, f)
}

// Values returns the string values found at a dotted path. Arrays along the
// path are flattened; numbers and booleans are rendered in decimal form.
func Values(doc map[string]interface{}, path string) []string {
	var out []string
	collect(doc, strings.Split(path, "."), &out)
	return out
}

func collect(v interface{}, parts []string, out *[]string) {
	switch node := v.(type) {
	case []interface{}:
		for _, item := range node {
			collect(item, parts, out)
		}
		return
	case []string:
		if len(parts) == 0 {
			*out = append(*out, node...)
		}
		return
	}
	if len(parts) == 0 {
		if s, ok := scalar(v); ok {
			*out = append(*out, s)
		}
		return
	}
	m, ok := v.(map[string]interface{})
	if !ok {
		if d, isDoc := v.(Document); isDoc {
			m = d
		} else {
			return
		}
	}
	child, ok := m[parts[0]]
	if !ok {
		return
	}
	collect(child, parts[1:], out)
}

func scalar(v interface{}) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case int:
		return strconv.Itoa(x), true
	case int32:
		return strconv.FormatInt(int64(x), 10), true
	case int64:
		return strconv.FormatInt(x, 10), true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(x), true
	default:
		return "", false
	}
}

// FieldValues reads a logical field from a document of collection c.
func FieldValues(c query.Collection, doc Document, f query.Field) []string {
	path, err := FieldPath(c, f)
	if err != nil {
		return nil
	}
	return Values(doc, path)
}

// Key returns the primary key of a document, or "".
func Key(c query.Collection, doc Document) string {
	values := FieldValues(c, doc, c.PrimaryKey())
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// SetPath writes value at a dotted path, creating intermediate objects.
func SetPath(doc map[string]interface{}, path string, value interface{}) {
	parts := strings.Split(path, ".")
	node := doc
	for _, p := range parts[:len(parts)-1] {
		next, ok := node[p].(map[string]interface{})
		if !ok {
			next = map[string]interface{}{}
			node[p] = next
		}
		node = next
	}
	node[parts[len(parts)-1]] = value
}

// Clone deep-copies a JSON-shaped value.
func Clone(doc Document) Document {
	if doc == nil {
		return nil
	}
	return Document(cloneMap(doc))
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch x := v.(type) {
	case map[string]interface{}:
		return cloneMap(x)
	case Document:
		return cloneMap(x)
	case []interface{}:
		out := make([]interface{}, len(x))
		for i, item := range x {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		return append([]string(nil), x...)
	default:
		return v
	}
}
