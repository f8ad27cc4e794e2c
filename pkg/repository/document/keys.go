package document

import "strings"

// Legacy cinelab keys that carry a dot and have a conventional underscore form.
var legacyKeys = map[string]string{
	"dc:created.contents": "dc:created_contents",
	"dc:creator.contents": "dc:creator_contents",
}

// fullwidthDot stands in for "." in any other key so the mapping is reversible.
const fullwidthDot = "．"

// EscapeKeys returns a copy of doc whose keys contain no dots.
func EscapeKeys(doc Document) Document {
	return Document(rewriteKeys(doc, escapeKey))
}

// RestoreKeys reverses EscapeKeys.
func RestoreKeys(doc Document) Document {
	return Document(rewriteKeys(doc, restoreKey))
}

func escapeKey(k string) string {
	if escaped, ok := legacyKeys[k]; ok {
		return escaped
	}
	return strings.ReplaceAll(k, ".", fullwidthDot)
}

func restoreKey(k string) string {
	for dotted, escaped := range legacyKeys {
		if k == escaped {
			return dotted
		}
	}
	return strings.ReplaceAll(k, fullwidthDot, ".")
}

func rewriteKeys(m map[string]interface{}, rename func(string) string) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[rename(k)] = rewriteValue(v, rename)
	}
	return out
}

func rewriteValue(v interface{}, rename func(string) string) interface{} {
	switch x := v.(type) {
	case map[string]interface{}:
		return rewriteKeys(x, rename)
	case Document:
		return rewriteKeys(x, rename)
	case []interface{}:
		out := make([]interface{}, len(x))
		for i, item := range x {
			out[i] = rewriteValue(item, rename)
		}
		return out
	default:
		return v
	}
}
