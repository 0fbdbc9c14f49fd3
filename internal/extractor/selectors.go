package extractor

import (
	"fmt"

	"github.com/andybalholm/cascadia"
	"github.com/jonesrussell/north-cloud/blog-crawler/internal/domain"
)

// Default selectors used when a source leaves one empty.
const (
	DefaultContentSelector = "article, .post, .entry, .content"
	DefaultTitleSelector   = "h1, h2, h3, .title, .post-title"
)

// Selectors is a source's selector set compiled once, at save or job start.
type Selectors struct {
	raw     domain.Selectors
	content cascadia.Selector
	title   cascadia.Selector
	author  cascadia.Selector
	date    cascadia.Selector
}

// SelectorError reports a selector that failed to compile.
type SelectorError struct {
	Field    string
	Selector string
	Err      error
}

func (e *SelectorError) Error() string {
	return fmt.Sprintf("%s selector %q: %v", e.Field, e.Selector, e.Err)
}

func (e *SelectorError) Unwrap() error {
	return e.Err
}

// Compile compiles every selector in s, applying defaults to empty content
// and title selectors.
func Compile(s domain.Selectors) (*Selectors, error) {
	if s.Content == "" {
		s.Content = DefaultContentSelector
	}
	if s.Title == "" {
		s.Title = DefaultTitleSelector
	}

	out := &Selectors{raw: s}

	fields := []struct {
		name string
		text string
		dst  *cascadia.Selector
	}{
		{"content", s.Content, &out.content},
		{"title", s.Title, &out.title},
		{"author", s.Author, &out.author},
		{"date", s.Date, &out.date},
	}

	for _, f := range fields {
		if f.text == "" {
			continue
		}
		sel, err := cascadia.Compile(f.text)
		if err != nil {
			return nil, &SelectorError{Field: f.name, Selector: f.text, Err: err}
		}
		*f.dst = sel
	}

	return out, nil
}

// Raw returns the selector strings after defaults were applied.
func (s *Selectors) Raw() domain.Selectors {
	return s.raw
}
