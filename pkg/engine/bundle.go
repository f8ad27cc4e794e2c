package engine

import (
	"context"

	"github.com/nimburion/mds/pkg/query"
	"github.com/nimburion/mds/pkg/repository/document"
)

// Bundle is a package with everything needed to replay it.
type Bundle struct {
	Package         document.Document   `json:"meta"`
	Media           []document.Document `json:"medias"`
	AnnotationTypes []document.Document `json:"annotation-types"`
	Annotations     []document.Document `json:"annotations"`
}

// Bundle gathers a package, the media it references, their annotations and
// the annotation types those annotations use.
func (e *Engine) Bundle(ctx context.Context, packageID string) (*Bundle, error) {
	pkg, err := read(ctx, e, query.CollectionPackage, "get", func(ctx context.Context) (document.Document, error) {
		return e.store.Get(ctx, query.CollectionPackage, packageID)
	})
	if err != nil {
		return nil, err
	}
	b := &Bundle{
		Package:         pkg,
		Media:           []document.Document{},
		AnnotationTypes: []document.Document{},
		Annotations:     []document.Document{},
	}

	snap, err := e.index.Snapshot(ctx)
	if err != nil {
		return nil, classify(err)
	}
	mediaIDs := snap.MediaReferencedBy(packageID)
	if len(mediaIDs) == 0 {
		return b, nil
	}

	if b.Media, err = e.findAll(ctx, query.CollectionMedia, query.In(query.FieldID, mediaIDs)); err != nil {
		return nil, err
	}
	if b.Annotations, err = e.findAll(ctx, query.CollectionAnnotation, query.In(query.FieldMedia, mediaIDs)); err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	var typeIDs []string
	for _, a := range b.Annotations {
		for _, t := range document.FieldValues(query.CollectionAnnotation, a, query.FieldType) {
			if !seen[t] {
				seen[t] = true
				typeIDs = append(typeIDs, t)
			}
		}
	}
	if len(typeIDs) > 0 {
		if b.AnnotationTypes, err = e.findAll(ctx, query.CollectionAnnotationType, query.In(query.FieldID, typeIDs)); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func (e *Engine) findAll(ctx context.Context, c query.Collection, term query.Term) ([]document.Document, error) {
	pred := query.Predicate{}.And(term)
	docs, err := read(ctx, e, c, "find", func(ctx context.Context) ([]document.Document, error) {
		return e.store.Find(ctx, c, pred, document.DefaultSort(c), document.Page{})
	})
	if docs == nil && err == nil {
		docs = []document.Document{}
	}
	return docs, err
}

// ImportResult summarizes a bulk import.
type ImportResult struct {
	Package         string            `json:"id"`
	Media           int               `json:"medias"`
	AnnotationTypes int               `json:"annotation_types"`
	Annotations     int               `json:"annotations"`
	Remapped        map[string]string `json:"remapped,omitempty"`
}

// Import stores a serialized package: its "medias", "annotation-types" and
// "annotations" first, then the package itself from "meta". Short ids are
// replaced and references to them rewritten. Items are stored one by one, so
// a failure leaves the ones already written in place.
func (e *Engine) Import(ctx context.Context, data document.Document) (*ImportResult, error) {
	pkgMeta, ok := asDocument(data["meta"])
	if !ok {
		return nil, query.NewError(query.KindInvalidDocument, "import requires a package \"meta\" object")
	}
	mapping := map[string]string{}
	res := &ImportResult{}

	sections := []struct {
		key   string
		c     query.Collection
		count *int
	}{
		{"medias", query.CollectionMedia, &res.Media},
		{"annotation-types", query.CollectionAnnotationType, &res.AnnotationTypes},
		{"annotations", query.CollectionAnnotation, &res.Annotations},
	}
	var mediaURLs []string
	for _, s := range sections {
		items, err := asDocuments(data[s.key])
		if err != nil {
			return nil, err.WithDetail("section", s.key)
		}
		for _, item := range items {
			if s.c == query.CollectionAnnotation {
				remapReferences(item, mapping)
			}
			doc, err := e.prepare(ctx, s.c, item, InsertOptions{}, mapping)
			if err != nil {
				return nil, err
			}
			if err := e.insert(ctx, s.c, doc); err != nil {
				return nil, err
			}
			if s.c == query.CollectionMedia {
				mediaURLs = append(mediaURLs, document.FieldValues(s.c, doc, query.FieldURL)...)
			}
			*s.count++
		}
	}

	pkg := document.Clone(pkgMeta)
	if mainMedia, ok := asDocument(pkg["main_media"]); ok {
		if ref, _ := mainMedia["id-ref"].(string); mapping[ref] != "" {
			mainMedia["id-ref"] = mapping[ref]
		}
	}
	if _, ok := pkg["imports"]; !ok && len(mediaURLs) > 0 {
		imports := make([]interface{}, len(mediaURLs))
		for i, u := range mediaURLs {
			imports[i] = map[string]interface{}{"url": u}
		}
		pkg["imports"] = imports
	}
	pkg, err := e.prepare(ctx, query.CollectionPackage, pkg, InsertOptions{}, mapping)
	if err != nil {
		return nil, err
	}
	if err := e.insert(ctx, query.CollectionPackage, pkg); err != nil {
		return nil, err
	}
	e.relationsChanged(ctx, query.CollectionPackage)

	res.Package = document.Key(query.CollectionPackage, pkg)
	if len(mapping) > 0 {
		res.Remapped = mapping
	}
	e.logger.WithContext(ctx).Info("package imported",
		"package", res.Package,
		"medias", res.Media,
		"annotation_types", res.AnnotationTypes,
		"annotations", res.Annotations,
		"remapped", len(mapping),
	)
	return res, nil
}

// remapReferences rewrites an annotation's media and type references
// through mapping.
func remapReferences(a document.Document, mapping map[string]string) {
	if m, _ := a["media"].(string); mapping[m] != "" {
		a["media"] = mapping[m]
	}
	if meta, ok := asDocument(a["meta"]); ok {
		if t, _ := meta["id-ref"].(string); mapping[t] != "" {
			meta["id-ref"] = mapping[t]
		}
	}
}

func asDocument(v interface{}) (document.Document, bool) {
	switch m := v.(type) {
	case map[string]interface{}:
		return m, true
	case document.Document:
		return m, true
	}
	return nil, false
}

func asDocuments(v interface{}) ([]document.Document, *query.Error) {
	if v == nil {
		return nil, nil
	}
	list, ok := v.([]interface{})
	if !ok {
		return nil, query.NewError(query.KindInvalidDocument, "expected a list of objects")
	}
	out := make([]document.Document, 0, len(list))
	for i, item := range list {
		doc, ok := asDocument(item)
		if !ok {
			return nil, query.NewError(query.KindInvalidDocument, "item %d is not an object", i)
		}
		out = append(out, document.Clone(doc))
	}
	return out, nil
}

// Contributors counts documents per creator in each authored collection.
func (e *Engine) Contributors(ctx context.Context) (map[string]map[query.Collection]int64, error) {
	out := map[string]map[query.Collection]int64{}
	for _, c := range []query.Collection{
		query.CollectionAnnotation,
		query.CollectionMedia,
		query.CollectionPackage,
		query.CollectionAnnotationType,
	} {
		counts, err := read(ctx, e, c, "count_by", func(ctx context.Context) (map[string]int64, error) {
			return e.store.CountBy(ctx, c, query.FieldCreator)
		})
		if err != nil {
			return nil, err
		}
		for creator, n := range counts {
			if out[creator] == nil {
				out[creator] = map[query.Collection]int64{}
			}
			out[creator][c] = n
		}
	}
	return out, nil
}
