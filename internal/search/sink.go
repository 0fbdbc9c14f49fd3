package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	es "github.com/elastic/go-elasticsearch/v8"
	"github.com/jonesrussell/north-cloud/blog-crawler/internal/domain"
	"github.com/jonesrussell/north-cloud/blog-crawler/internal/logger"
)

// ErrClientNotInitialized is returned when the sink has no client.
var ErrClientNotInitialized = errors.New("elasticsearch client is not initialized")

const contentMapping = `{
  "mappings": {
    "properties": {
      "id":               {"type": "keyword"},
      "job_id":           {"type": "keyword"},
      "source_id":        {"type": "keyword"},
      "source_url":       {"type": "keyword"},
      "title":            {"type": "text"},
      "body":             {"type": "text"},
      "author":           {"type": "keyword"},
      "published_date":   {"type": "date"},
      "fingerprint":      {"type": "keyword"},
      "similarity_score": {"type": "float"},
      "status":           {"type": "keyword"},
      "metadata":         {"type": "object", "enabled": false},
      "created_at":       {"type": "date"}
    }
  }
}`

// document is the indexed shape of a staged candidate.
type document struct {
	ID              string          `json:"id"`
	JobID           string          `json:"job_id"`
	SourceID        string          `json:"source_id"`
	SourceURL       string          `json:"source_url"`
	Title           string          `json:"title"`
	Body            string          `json:"body"`
	Author          string          `json:"author,omitempty"`
	PublishedDate   *time.Time      `json:"published_date,omitempty"`
	Fingerprint     string          `json:"fingerprint"`
	SimilarityScore *float64        `json:"similarity_score,omitempty"`
	Status          string          `json:"status"`
	Metadata        domain.JSONBMap `json:"metadata,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

func toDocument(c *domain.Content) document {
	return document{
		ID:              c.ID,
		JobID:           c.JobID,
		SourceID:        c.SourceID,
		SourceURL:       c.SourceURL,
		Title:           c.Title,
		Body:            c.Body,
		Author:          c.Author,
		PublishedDate:   c.PublishedDate,
		Fingerprint:     c.Fingerprint,
		SimilarityScore: c.SimilarityScore,
		Status:          string(c.Status),
		Metadata:        c.ExtractedMetadata,
		CreatedAt:       c.CreatedAt,
	}
}

// Sink indexes staged content. It implements job.ContentIndexer.
type Sink struct {
	client  *es.Client
	index   string
	timeout time.Duration
	log     logger.Logger
}

// NewSink creates a sink writing to cfg.Index.
func NewSink(client *es.Client, cfg Config, log logger.Logger) *Sink {
	cfg = cfg.WithDefaults()
	return &Sink{
		client:  client,
		index:   cfg.Index,
		timeout: cfg.RequestTimeout,
		log:     log,
	}
}

// Index returns the target index name.
func (s *Sink) Index() string {
	return s.index
}

// EnsureIndex creates the content index with its mapping if it is missing.
func (s *Sink) EnsureIndex(ctx context.Context) error {
	if s.client == nil {
		return ErrClientNotInitialized
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.client.Indices.Exists([]string{s.index}, s.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to check index %s: %w", s.index, err)
	}
	res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusNotFound:
	default:
		return fmt.Errorf("unexpected status checking index %s: %d", s.index, res.StatusCode)
	}

	res, err = s.client.Indices.Create(
		s.index,
		s.client.Indices.Create.WithContext(ctx),
		s.client.Indices.Create.WithBody(strings.NewReader(contentMapping)),
	)
	if err != nil {
		return fmt.Errorf("failed to create index %s: %w", s.index, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("elasticsearch error creating index %s: %s", s.index, res.String())
	}

	s.log.Info("Created search index", logger.String("index", s.index))
	return nil
}

// IndexContent writes c under its ID, replacing any earlier version.
func (s *Sink) IndexContent(ctx context.Context, c *domain.Content) error {
	if s.client == nil {
		return ErrClientNotInitialized
	}

	body, err := json.Marshal(toDocument(c))
	if err != nil {
		return fmt.Errorf("failed to marshal document for indexing: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.client.Index(
		s.index,
		bytes.NewReader(body),
		s.client.Index.WithContext(ctx),
		s.client.Index.WithDocumentID(c.ID),
	)
	if err != nil {
		return fmt.Errorf("failed to index document: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("elasticsearch error: %s", res.String())
	}

	s.log.Debug("Indexed content",
		logger.String("index", s.index),
		logger.String("content_id", c.ID),
		logger.JobID(c.JobID),
	)
	return nil
}
