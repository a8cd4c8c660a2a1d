package jsonkv

import (
	"errors"
	"fmt"
)

var (
	// ErrCorrupt is returned when the data file exists but is not a JSON object.
	ErrCorrupt = errors.New("data file is corrupt")
	// ErrIndexNotFound is returned by index operations on an unknown name.
	ErrIndexNotFound = errors.New("index not found")
	// ErrIndexExists is returned when creating an index that already exists.
	ErrIndexExists = errors.New("index already exists")
	// ErrInvalidIndexName is returned for names that cannot be used as a file name.
	ErrInvalidIndexName = errors.New("invalid index name")
	// ErrInvalidKey is returned for keys that are not valid UTF-8.
	ErrInvalidKey = errors.New("key is not valid UTF-8")
	// ErrNotPersistent is returned by operations that need a data file.
	ErrNotPersistent = errors.New("store has no data file")
)

// AdvisoryError reports the failure of a best-effort secondary write.
//
// It never aborts the operation that triggered it.
type AdvisoryError struct {
	Op   string
	Path string
	Err  error
}

func (e *AdvisoryError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *AdvisoryError) Unwrap() error {
	return e.Err
}
