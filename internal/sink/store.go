package sink

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// StoreConfig locates the analysis store.
type StoreConfig struct {
	URI        string `yaml:"uri"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
}

// DefaultStoreConfig returns the conventional database layout.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{Database: "vidbot", Collection: "analysis"}
}

// storeCollection is the document surface the store needs; tests inject a
// fake.
type storeCollection interface {
	InsertOne(ctx context.Context, document any, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error)
}

// Store persists analysis records as documents, one per record. Insert
// failures are logged and dropped: the store is an auxiliary destination and
// must not take the pipeline down.
type Store struct {
	coll    storeCollection
	client  *mongo.Client
	timeout time.Duration
	logger  *slog.Logger
	dropped uint64
}

// NewStore connects to the analysis store.
func NewStore(ctx context.Context, cfg StoreConfig) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connecting to analysis store: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("analysis store unreachable: %w", err)
	}
	return &Store{
		coll:    client.Database(cfg.Database).Collection(cfg.Collection),
		client:  client,
		timeout: 5 * time.Second,
		logger:  slog.Default().With("component", "analysis-store"),
	}, nil
}

func (s *Store) OnNext(rec map[string]any) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if _, err := s.coll.InsertOne(ctx, rec); err != nil {
		s.dropped++
		if s.dropped%100 == 1 {
			s.logger.Warn("analysis store insert failed", "error", err, "dropped", s.dropped)
		}
	}
}

func (s *Store) OnError(err error) {
	s.logger.Error("stream failed", "error", err)
	s.disconnect()
}

func (s *Store) OnComplete() {
	s.disconnect()
}

// Close releases the store connection; safe to call after a terminal event.
func (s *Store) Close() error {
	s.disconnect()
	return nil
}

func (s *Store) disconnect() {
	if s.client == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.client.Disconnect(ctx); err != nil {
		s.logger.Warn("analysis store disconnect", "error", err)
	}
	s.client = nil
}

var _ RecordObserver = (*Store)(nil)
