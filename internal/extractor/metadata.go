package extractor

import (
	"fmt"

	"github.com/jonesrussell/north-cloud/blog-crawler/internal/domain"
	"github.com/mitchellh/mapstructure"
)

// ExtractionMethod is recorded on every candidate produced by the selector pipeline.
const ExtractionMethod = "automated"

// Where the canonical URL came from.
const (
	CanonicalFromLink = "link"
	CanonicalFromOG   = "og"
	CanonicalFromPage = "page"
)

// Metadata is the typed form of a candidate's extracted_metadata column.
type Metadata struct {
	WordCount        int    `mapstructure:"word_count"`
	ExtractionMethod string `mapstructure:"extraction_method"`
	Description      string `mapstructure:"description"`
	CanonicalSource  string `mapstructure:"canonical_source"`
	ContentSelector  string `mapstructure:"content_selector"`
}

// Map converts m into the JSONB representation stored with the content row.
func (m Metadata) Map() (domain.JSONBMap, error) {
	var out map[string]any
	if err := mapstructure.Decode(m, &out); err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return domain.JSONBMap(out), nil
}

// ParseMetadata reads a stored metadata map back into its typed form.
// Unknown keys are ignored.
func ParseMetadata(raw domain.JSONBMap) (Metadata, error) {
	var m Metadata
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &m,
	})
	if err != nil {
		return m, fmt.Errorf("metadata decoder: %w", err)
	}
	if err = dec.Decode(map[string]any(raw)); err != nil {
		return m, fmt.Errorf("decode metadata: %w", err)
	}
	return m, nil
}
