package logger

import (
	"time"

	"go.uber.org/zap"
)

// String creates a string field.
func String(key, val string) Field {
	return zap.String(key, val)
}

// Int creates an int field.
func Int(key string, val int) Field {
	return zap.Int(key, val)
}

// Int64 creates an int64 field.
func Int64(key string, val int64) Field {
	return zap.Int64(key, val)
}

// Float64 creates a float64 field.
func Float64(key string, val float64) Field {
	return zap.Float64(key, val)
}

// Bool creates a bool field.
func Bool(key string, val bool) Field {
	return zap.Bool(key, val)
}

// Duration creates a duration field.
func Duration(key string, val time.Duration) Field {
	return zap.Duration(key, val)
}

// Time creates a time field.
func Time(key string, val time.Time) Field {
	return zap.Time(key, val)
}

// Error creates an error field with the key "error".
func Error(err error) Field {
	return zap.Error(err)
}

// Any creates a field that can hold any value.
func Any(key string, val any) Field {
	return zap.Any(key, val)
}

// Strings creates a string slice field.
func Strings(key string, val []string) Field {
	return zap.Strings(key, val)
}

// Field keys shared by the scheduler, job controller and fetcher so their
// entries can be joined in log queries.
const (
	KeySourceID = "source_id"
	KeyJobID    = "job_id"
	KeyURL      = "url"
)

// SourceID creates the source_id field.
func SourceID(id string) Field {
	return zap.String(KeySourceID, id)
}

// JobID creates the job_id field.
func JobID(id string) Field {
	return zap.String(KeyJobID, id)
}

// URL creates the url field.
func URL(u string) Field {
	return zap.String(KeyURL, u)
}
