package document

import (
	"context"
	"errors"
	"fmt"

	"github.com/nimburion/mds/pkg/observability/tracing"
	"github.com/nimburion/mds/pkg/query"
	mongostore "github.com/nimburion/mds/pkg/store/mongodb"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/otel/trace"
)

const mongoKey = "_id"

// MongoStore implements Store on top of the store/mongodb adapter. Each
// document is stored under its primary key as _id, with dotted keys escaped.
type MongoStore struct {
	adapter *mongostore.Adapter
}

// NewMongoStore creates a MongoStore over an established adapter.
func NewMongoStore(adapter *mongostore.Adapter) (*MongoStore, error) {
	if adapter == nil {
		return nil, fmt.Errorf("mongodb adapter is required")
	}
	return &MongoStore{adapter: adapter}, nil
}

// EnsureIndexes creates indexes on every reference field the resolver filters on.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	for c, fields := range fieldPaths {
		for f, path := range fields {
			if f == c.PrimaryKey() {
				continue
			}
			if err := s.adapter.EnsureIndex(ctx, string(c), path); err != nil {
				return fmt.Errorf("index %s.%s: %w", c, path, err)
			}
		}
	}
	return nil
}

func startSpan(ctx context.Context, op tracing.SpanOperation, c query.Collection) (context.Context, trace.Span) {
	return tracing.StartDatabaseSpan(ctx, op,
		tracing.WithDBSystem("mongodb"),
		tracing.WithDBTable(string(c)),
	)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		tracing.RecordError(span, err)
	} else {
		tracing.RecordSuccess(span)
	}
	span.End()
}

func mongoPath(c query.Collection, f query.Field) (string, error) {
	if f == c.PrimaryKey() {
		return mongoKey, nil
	}
	return FieldPath(c, f)
}

// translate renders a predicate as a MongoDB filter. Terms on distinct paths
// form a flat document; repeated paths fall back to $and.
func translate(c query.Collection, p query.Predicate, order Sort, after string) (bson.D, error) {
	var elems []bson.E
	seen := make(map[string]bool)
	repeated := false

	add := func(e bson.E) {
		if seen[e.Key] {
			repeated = true
		}
		seen[e.Key] = true
		elems = append(elems, e)
	}

	for _, t := range p.Terms() {
		path, err := mongoPath(c, t.Field)
		if err != nil {
			return nil, err
		}
		switch t.Op {
		case query.OpEq:
			add(bson.E{Key: path, Value: t.Value})
		case query.OpNe:
			add(bson.E{Key: path, Value: bson.D{{Key: "$ne", Value: t.Value}}})
		case query.OpIn:
			values := bson.A{}
			for _, v := range t.Values {
				values = append(values, v)
			}
			add(bson.E{Key: path, Value: bson.D{{Key: "$in", Value: values}}})
		default:
			return nil, fmt.Errorf("unsupported operator %s", t.Op)
		}
	}

	if after != "" {
		path, err := mongoPath(c, order.Field)
		if err != nil {
			return nil, err
		}
		cmp := "$gt"
		if order.Order == SortDesc {
			cmp = "$lt"
		}
		add(bson.E{Key: path, Value: bson.D{{Key: cmp, Value: after}}})
	}

	if len(elems) == 0 {
		return bson.D{}, nil
	}
	if !repeated {
		return bson.D(elems), nil
	}
	clauses := make(bson.A, len(elems))
	for i, e := range elems {
		clauses[i] = bson.D{e}
	}
	return bson.D{{Key: "$and", Value: clauses}}, nil
}

func (s *MongoStore) Find(ctx context.Context, c query.Collection, p query.Predicate, order Sort, page Page) (docs []Document, err error) {
	ctx, span := startSpan(ctx, tracing.SpanOperationDBQuery, c)
	defer func() { endSpan(span, err) }()

	filter, err := translate(c, p, order, page.After)
	if err != nil {
		return nil, err
	}
	sortPath, err := mongoPath(c, order.Field)
	if err != nil {
		return nil, err
	}
	direction := 1
	if order.Order == SortDesc {
		direction = -1
	}
	opts := options.Find().SetSort(bson.D{{Key: sortPath, Value: direction}})
	if page.Offset > 0 {
		opts.SetSkip(int64(page.Offset))
	}
	if page.Limit > 0 {
		opts.SetLimit(int64(page.Limit))
	}

	raw, err := s.adapter.Find(ctx, string(c), filter, opts)
	if err != nil {
		return nil, wrapMongoError("find", c, "", err)
	}
	docs = make([]Document, len(raw))
	for i, m := range raw {
		docs[i] = fromMongo(m)
	}
	return docs, nil
}

func (s *MongoStore) Count(ctx context.Context, c query.Collection, p query.Predicate) (n int64, err error) {
	ctx, span := startSpan(ctx, tracing.SpanOperationDBQuery, c)
	defer func() { endSpan(span, err) }()

	filter, err := translate(c, p, Sort{}, "")
	if err != nil {
		return 0, err
	}
	n, err = s.adapter.CountDocuments(ctx, string(c), filter)
	if err != nil {
		return 0, wrapMongoError("count", c, "", err)
	}
	return n, nil
}

func (s *MongoStore) Get(ctx context.Context, c query.Collection, id string) (doc Document, err error) {
	ctx, span := startSpan(ctx, tracing.SpanOperationDBQuery, c)
	defer func() { endSpan(span, err) }()

	out := bson.M{}
	if err = s.adapter.FindOne(ctx, string(c), bson.D{{Key: mongoKey, Value: id}}, &out); err != nil {
		return nil, wrapMongoError("get", c, id, err)
	}
	return fromMongo(out), nil
}

func (s *MongoStore) CountBy(ctx context.Context, c query.Collection, field query.Field) (counts map[string]int64, err error) {
	ctx, span := startSpan(ctx, tracing.SpanOperationDBQuery, c)
	defer func() { endSpan(span, err) }()

	path, err := mongoPath(c, field)
	if err != nil {
		return nil, err
	}
	pipeline := mongo.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$" + path},
			{Key: "n", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
	}
	rows, err := s.adapter.Aggregate(ctx, string(c), pipeline)
	if err != nil {
		return nil, wrapMongoError("aggregate", c, "", err)
	}
	counts = make(map[string]int64, len(rows))
	for _, row := range rows {
		key, ok := row["_id"].(string)
		if !ok {
			continue
		}
		switch n := row["n"].(type) {
		case int32:
			counts[key] = int64(n)
		case int64:
			counts[key] = n
		case float64:
			counts[key] = int64(n)
		}
	}
	return counts, nil
}

func (s *MongoStore) Insert(ctx context.Context, c query.Collection, doc Document) (id string, err error) {
	ctx, span := startSpan(ctx, tracing.SpanOperationDBInsert, c)
	defer func() { endSpan(span, err) }()

	id = Key(c, doc)
	if id == "" {
		return "", fmt.Errorf("%s: %w", c, ErrMissingKey)
	}
	if _, err = s.adapter.InsertOne(ctx, string(c), toMongo(id, doc)); err != nil {
		return "", wrapMongoError("insert", c, id, err)
	}
	return id, nil
}

func (s *MongoStore) Put(ctx context.Context, c query.Collection, id string, doc Document) (err error) {
	ctx, span := startSpan(ctx, tracing.SpanOperationDBUpdate, c)
	defer func() { endSpan(span, err) }()

	res, err := s.adapter.ReplaceOne(ctx, string(c), bson.D{{Key: mongoKey, Value: id}}, toMongo(id, doc))
	if err != nil {
		return wrapMongoError("replace", c, id, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%s/%s: %w", c, id, ErrNotFound)
	}
	return nil
}

func (s *MongoStore) Delete(ctx context.Context, c query.Collection, id string) (err error) {
	ctx, span := startSpan(ctx, tracing.SpanOperationDBDelete, c)
	defer func() { endSpan(span, err) }()

	res, err := s.adapter.DeleteOne(ctx, string(c), bson.D{{Key: mongoKey, Value: id}})
	if err != nil {
		return wrapMongoError("delete", c, id, err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("%s/%s: %w", c, id, ErrNotFound)
	}
	return nil
}

func (s *MongoStore) HealthCheck(ctx context.Context) error {
	return s.adapter.HealthCheck(ctx)
}

func (s *MongoStore) Close() error {
	return s.adapter.Close()
}

func toMongo(id string, doc Document) bson.M {
	out := bson.M(EscapeKeys(doc))
	out[mongoKey] = id
	return out
}

func fromMongo(m bson.M) Document {
	doc := plainMap(m)
	delete(doc, mongoKey)
	return RestoreKeys(Document(doc))
}

func plainMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = plainValue(v)
	}
	return out
}

func plainValue(v interface{}) interface{} {
	switch x := v.(type) {
	case primitive.M:
		return plainMap(x)
	case map[string]interface{}:
		return plainMap(x)
	case primitive.D:
		return plainMap(x.Map())
	case primitive.A:
		out := make([]interface{}, len(x))
		for i, item := range x {
			out[i] = plainValue(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(x))
		for i, item := range x {
			out[i] = plainValue(item)
		}
		return out
	default:
		return v
	}
}

// wrapMongoError maps driver failures onto the package sentinels and
// context errors so the engine can classify them.
func wrapMongoError(op string, c query.Collection, id string, err error) error {
	target := string(c)
	if id != "" {
		target += "/" + id
	}
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		return fmt.Errorf("%s %s: %w", op, target, ErrNotFound)
	case mongo.IsDuplicateKeyError(err):
		return fmt.Errorf("%s %s: %w", op, target, ErrDuplicate)
	case mongo.IsTimeout(err) && !errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s %s: %w: %v", op, target, context.DeadlineExceeded, err)
	default:
		return fmt.Errorf("%s %s: %w", op, target, err)
	}
}
