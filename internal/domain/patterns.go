package domain

import (
	"database/sql/driver"
	"errors"
	"strings"
)

// PatternList is a list of URL substrings stored one per line.
type PatternList []string

// ParsePatternList splits newline-separated text, dropping blank lines.
func ParsePatternList(text string) PatternList {
	var out PatternList
	for _, line := range strings.Split(text, "\n") {
		if p := strings.TrimSpace(line); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// String joins the patterns one per line.
func (p PatternList) String() string {
	return strings.Join(p, "\n")
}

// Scan implements sql.Scanner.
func (p *PatternList) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		*p = nil
	case string:
		*p = ParsePatternList(v)
	case []byte:
		*p = ParsePatternList(string(v))
	default:
		return errors.New("unsupported type for PatternList")
	}
	return nil
}

// Value implements driver.Valuer.
func (p PatternList) Value() (driver.Value, error) {
	return p.String(), nil
}
