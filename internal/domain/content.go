package domain

import (
	"time"
)

// ContentStatus is the review state of a crawled candidate.
type ContentStatus string

const (
	ContentStatusPending   ContentStatus = "pending"
	ContentStatusApproved  ContentStatus = "approved"
	ContentStatusRejected  ContentStatus = "rejected"
	ContentStatusProcessed ContentStatus = "processed"
)

// Content is a candidate staged for review. The crawl core creates it and
// never updates it; ProcessedBy, ProcessedAt and BlogPostID belong to the
// review workflow.
type Content struct {
	ID            string     `db:"id"             json:"id"`
	JobID         string     `db:"job_id"         json:"job_id"`
	SourceID      string     `db:"source_id"      json:"source_id"`
	SourceURL     string     `db:"source_url"     json:"source_url"`
	Title         string     `db:"title"          json:"title"`
	Body          string     `db:"body"           json:"body"`
	Author        string     `db:"author"         json:"author,omitempty"`
	PublishedDate *time.Time `db:"published_date" json:"published_date,omitempty"`

	Fingerprint     string        `db:"fingerprint"      json:"fingerprint"`
	SimilarityScore *float64      `db:"similarity_score" json:"similarity_score,omitempty"`
	Status          ContentStatus `db:"status"           json:"status"`

	ExtractedMetadata JSONBMap `db:"extracted_metadata" json:"extracted_metadata"`
	RawHTML           string   `db:"raw_html"           json:"-"`

	ProcessedBy *string    `db:"processed_by" json:"processed_by,omitempty"`
	ProcessedAt *time.Time `db:"processed_at" json:"processed_at,omitempty"`
	BlogPostID  *string    `db:"blog_post_id" json:"blog_post_id,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
