package indexer

import (
	"errors"
	"fmt"
)

var (
	// ErrIndexLoad matches every *IndexLoadError
	ErrIndexLoad = errors.New("index load failed")
	// ErrIndexingInProgress is returned when another build holds the lock
	ErrIndexingInProgress = errors.New("indexing already in progress")
)

// IndexLoadError reports why a persisted bundle could not be used. Loading
// never falls back to an empty index or a rebuild.
type IndexLoadError struct {
	Dir    string
	Reason string
	Err    error
}

func (e *IndexLoadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("load index %s: %s: %v", e.Dir, e.Reason, e.Err)
	}
	return fmt.Sprintf("load index %s: %s", e.Dir, e.Reason)
}

func (e *IndexLoadError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrIndexLoad) hold for any load error
func (e *IndexLoadError) Is(target error) bool {
	return target == ErrIndexLoad
}

func loadError(dir, reason string, err error) error {
	return &IndexLoadError{Dir: dir, Reason: reason, Err: err}
}
