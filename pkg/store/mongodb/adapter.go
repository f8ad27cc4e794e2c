package mongodb

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nimburion/mds/pkg/observability/logger"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Adapter provides MongoDB connectivity.
type Adapter struct {
	client   *mongo.Client
	database string
	logger   logger.Logger
	timeout  time.Duration
	mu       sync.RWMutex
	closed   bool
}

// Config holds MongoDB adapter configuration.
type Config struct {
	URL              string
	Database         string
	ConnectTimeout   time.Duration
	OperationTimeout time.Duration
}

// Cosa fa: inizializza un adapter MongoDB e verifica connettività via ping.
// Cosa NON fa: non crea indici o collezioni automaticamente.
// Esempio minimo: adapter, err := mongodb.NewAdapter(cfg, log)
func NewAdapter(cfg Config, log logger.Logger) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("mongodb URL is required")
	}
	if cfg.Database == "" {
		return nil, fmt.Errorf("mongodb database is required")
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = 5 * time.Second
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()

	// Embedded documents decode as maps so payloads round-trip to JSON unchanged.
	clientOpts := options.Client().
		ApplyURI(cfg.URL).
		SetBSONOptions(&options.BSONOptions{DefaultDocumentM: true})

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	log.Info("MongoDB connection established", "database", cfg.Database)
	return &Adapter{
		client:   client,
		database: cfg.Database,
		logger:   log,
		timeout:  cfg.OperationTimeout,
	}, nil
}

func (a *Adapter) Database() *mongo.Database {
	return a.client.Database(a.database)
}

func (a *Adapter) Collection(name string) *mongo.Collection {
	return a.Database().Collection(name)
}

func (a *Adapter) Ping(ctx context.Context) error {
	a.mu.RLock()
	closed := a.closed
	a.mu.RUnlock()
	if closed {
		return fmt.Errorf("mongodb adapter is closed")
	}
	return a.client.Ping(ctx, readpref.Primary())
}

func (a *Adapter) HealthCheck(ctx context.Context) error {
	hcCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := a.Ping(hcCtx); err != nil {
		a.logger.Error("MongoDB health check failed", "error", err)
		return fmt.Errorf("mongodb health check failed: %w", err)
	}
	return nil
}

func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("failed to close mongodb connection: %w", err)
	}
	return nil
}

// Find decodes every document matched by filter into a slice of maps.
func (a *Adapter) Find(ctx context.Context, collection string, filter interface{}, opts *options.FindOptions) ([]bson.M, error) {
	opCtx, cancel := a.withOperationTimeout(ctx)
	defer cancel()
	cursor, err := a.Collection(collection).Find(opCtx, filter, opts)
	if err != nil {
		return nil, err
	}
	var out []bson.M
	if err := cursor.All(opCtx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *Adapter) CountDocuments(ctx context.Context, collection string, filter interface{}) (int64, error) {
	opCtx, cancel := a.withOperationTimeout(ctx)
	defer cancel()
	return a.Collection(collection).CountDocuments(opCtx, filter)
}

// Cosa fa: inserisce un documento nella collection target.
// Cosa NON fa: non valida lo schema del documento.
// Esempio minimo: _, err := adapter.InsertOne(ctx, "media", doc)
func (a *Adapter) InsertOne(ctx context.Context, collection string, doc interface{}) (*mongo.InsertOneResult, error) {
	opCtx, cancel := a.withOperationTimeout(ctx)
	defer cancel()
	return a.Collection(collection).InsertOne(opCtx, doc)
}

func (a *Adapter) FindOne(ctx context.Context, collection string, filter interface{}, result interface{}) error {
	opCtx, cancel := a.withOperationTimeout(ctx)
	defer cancel()
	return a.Collection(collection).FindOne(opCtx, filter).Decode(result)
}

func (a *Adapter) ReplaceOne(ctx context.Context, collection string, filter, replacement interface{}) (*mongo.UpdateResult, error) {
	opCtx, cancel := a.withOperationTimeout(ctx)
	defer cancel()
	return a.Collection(collection).ReplaceOne(opCtx, filter, replacement)
}

func (a *Adapter) DeleteOne(ctx context.Context, collection string, filter interface{}) (*mongo.DeleteResult, error) {
	opCtx, cancel := a.withOperationTimeout(ctx)
	defer cancel()
	return a.Collection(collection).DeleteOne(opCtx, filter)
}

// Aggregate runs pipeline and decodes every result document.
func (a *Adapter) Aggregate(ctx context.Context, collection string, pipeline interface{}) ([]bson.M, error) {
	opCtx, cancel := a.withOperationTimeout(ctx)
	defer cancel()
	cursor, err := a.Collection(collection).Aggregate(opCtx, pipeline)
	if err != nil {
		return nil, err
	}
	var out []bson.M
	if err := cursor.All(opCtx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// EnsureIndex creates an ascending index on field if it does not exist yet.
func (a *Adapter) EnsureIndex(ctx context.Context, collection, field string) error {
	opCtx, cancel := a.withOperationTimeout(ctx)
	defer cancel()
	_, err := a.Collection(collection).Indexes().CreateOne(opCtx, mongo.IndexModel{
		Keys: bson.D{{Key: field, Value: 1}},
	})
	return err
}

func (a *Adapter) withOperationTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.timeout <= 0 {
		return ctx, func() {}
	}
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, a.timeout)
}
