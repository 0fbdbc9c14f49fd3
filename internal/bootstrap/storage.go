package bootstrap

import (
	"context"
	"fmt"

	es "github.com/elastic/go-elasticsearch/v8"
	"github.com/jonesrussell/north-cloud/blog-crawler/internal/logger"
	"github.com/jonesrussell/north-cloud/blog-crawler/internal/redisindex"
	"github.com/jonesrussell/north-cloud/blog-crawler/internal/search"
	"github.com/redis/go-redis/v9"
)

// StorageComponents holds the optional Redis and Elasticsearch backends.
// A nil field means the backend is disabled.
type StorageComponents struct {
	Redis  *redis.Client
	ES     *es.Client
	Search *search.Sink
}

// SetupStorage connects the backends enabled in configuration.
func SetupStorage(ctx context.Context, deps *CommandDeps) (*StorageComponents, error) {
	components := &StorageComponents{}

	if redisCfg := deps.Config.Redis; redisCfg.Enabled {
		client, err := redisindex.NewClient(ctx, redisCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		components.Redis = client
		deps.Logger.Info("Connected to Redis", logger.String("address", redisCfg.Address))
	}

	if esCfg := deps.Config.Elasticsearch; esCfg.Enabled {
		client, err := search.NewClient(ctx, esCfg)
		if err != nil {
			components.Close(deps.Logger)
			return nil, fmt.Errorf("failed to connect to Elasticsearch: %w", err)
		}

		sink := search.NewSink(client, esCfg, deps.Logger)
		if err = sink.EnsureIndex(ctx); err != nil {
			components.Close(deps.Logger)
			return nil, fmt.Errorf("failed to ensure search index: %w", err)
		}

		components.ES = client
		components.Search = sink
		deps.Logger.Info("Connected to Elasticsearch", logger.String("index", sink.Index()))
	}

	return components, nil
}

// Close releases the Redis connection. The Elasticsearch client holds no
// connection that needs closing.
func (s *StorageComponents) Close(log logger.Logger) {
	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			log.Error("Failed to close Redis client", logger.Error(err))
		}
	}
}
