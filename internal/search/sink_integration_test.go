//go:build integration

package search_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	es "github.com/elastic/go-elasticsearch/v8"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/elasticsearch"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/jonesrussell/north-cloud/blog-crawler/internal/domain"
	"github.com/jonesrussell/north-cloud/blog-crawler/internal/logger"
	"github.com/jonesrussell/north-cloud/blog-crawler/internal/search"
)

const esStartupTimeout = 2 * time.Minute

func TestSink_Integration(t *testing.T) {
	ctx := context.Background()

	container, err := elasticsearch.Run(
		ctx,
		"docker.elastic.co/elasticsearch/elasticsearch:8.11.0",
		elasticsearch.WithPassword("changeme"),
		testcontainers.WithWaitStrategy(
			wait.ForHTTP("/").WithPort("9200/tcp").WithStartupTimeout(esStartupTimeout),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	client, err := es.NewClient(es.Config{
		Addresses: []string{container.Settings.Address},
		Username:  "elastic",
		Password:  container.Settings.Password,
		CACert:    container.Settings.CACert,
	})
	require.NoError(t, err)

	sink := search.NewSink(client, search.Config{Index: "it_content"}, logger.NewNop())
	require.NoError(t, sink.EnsureIndex(ctx))
	require.NoError(t, sink.EnsureIndex(ctx))

	require.NoError(t, sink.IndexContent(ctx, &domain.Content{
		ID:          "c-1",
		JobID:       "job-1",
		SourceID:    "src-1",
		SourceURL:   "https://example.com/blog/a",
		Title:       "Integration",
		Body:        "Indexed through a real cluster",
		Fingerprint: "abc",
		Status:      domain.ContentStatusPending,
		CreatedAt:   time.Now().UTC(),
	}))

	res, err := client.Get("it_content", "c-1", client.Get.WithContext(ctx))
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
}
