package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aescanero/dagflow/pkg/domain"
)

const keyPrefix = "dagflow:doc:"

// DocumentStore implements ports.DocumentStore using Redis string keys
type DocumentStore struct {
	client *redis.Client
	logger *zap.Logger
	ttl    time.Duration
}

// NewDocumentStore creates a new Redis document store. A zero ttl keeps
// documents forever.
func NewDocumentStore(client *redis.Client, ttl time.Duration, logger *zap.Logger) *DocumentStore {
	return &DocumentStore{
		client: client,
		logger: logger,
		ttl:    ttl,
	}
}

// ReadDocument retrieves a document (ports.DocumentStore interface)
func (s *DocumentStore) ReadDocument(ctx context.Context, name string) ([]byte, error) {
	data, err := s.client.Get(ctx, getDocumentKey(name)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrDocumentNotFound
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return data, nil
}

// WriteDocument persists a document with the configured TTL (ports.DocumentStore interface)
func (s *DocumentStore) WriteDocument(ctx context.Context, name string, data []byte) error {
	if err := s.client.Set(ctx, getDocumentKey(name), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save document: %w", err)
	}

	s.logger.Debug("document saved",
		zap.String("name", name),
		zap.Int("bytes", len(data)))

	return nil
}

// ListDocuments scans for document names with the given prefix (ports.DocumentStore interface)
func (s *DocumentStore) ListDocuments(ctx context.Context, prefix string) ([]string, error) {
	pattern := getDocumentKey(prefix) + "*"

	var cursor uint64
	var keys []string

	for {
		var batch []string
		var err error

		batch, cursor, err = s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan keys: %w", err)
		}

		keys = append(keys, batch...)

		if cursor == 0 {
			break
		}
	}

	names := make([]string, 0, len(keys))
	for _, key := range keys {
		if len(key) > len(keyPrefix) {
			names = append(names, key[len(keyPrefix):])
		}
	}
	sort.Strings(names)

	return names, nil
}

// DeleteDocument removes a document
func (s *DocumentStore) DeleteDocument(ctx context.Context, name string) error {
	if err := s.client.Del(ctx, getDocumentKey(name)).Err(); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return nil
}

// getDocumentKey returns the Redis key for a document
func getDocumentKey(name string) string {
	return keyPrefix + name
}
