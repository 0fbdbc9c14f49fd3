package search

import (
	"context"
	"fmt"

	es "github.com/elastic/go-elasticsearch/v8"
)

// NewClient creates an Elasticsearch client and verifies the connection.
func NewClient(ctx context.Context, cfg Config) (*es.Client, error) {
	cfg = cfg.WithDefaults()

	clientConfig := es.Config{Addresses: cfg.Addresses}
	if cfg.APIKey != "" {
		clientConfig.APIKey = cfg.APIKey
	} else if cfg.Username != "" && cfg.Password != "" {
		clientConfig.Username = cfg.Username
		clientConfig.Password = cfg.Password
	}

	client, err := es.NewClient(clientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Elasticsearch client: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout)
	defer cancel()

	res, err := client.Ping(client.Ping.WithContext(pingCtx))
	if err != nil {
		return nil, fmt.Errorf("failed to ping Elasticsearch: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("error pinging Elasticsearch: %s", res.String())
	}
	return client, nil
}
