package archiver

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by the pipeline. Callers branch with errors.Is.
var (
	// ErrNetwork covers timeouts, refused connections and DNS failures.
	ErrNetwork = errors.New("network failure")
	// ErrRateLimited is returned once 429/503 retries are exhausted.
	ErrRateLimited = errors.New("rate limited")
	// ErrParse marks malformed feeds or HTML.
	ErrParse = errors.New("parse failure")
	// ErrInsufficientContent marks an exhausted bypass chain.
	ErrInsufficientContent = errors.New("insufficient content")
	// ErrStorageUnavailable is the only error that aborts a run.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrNotFound is returned by read queries for missing rows.
	ErrNotFound = errors.New("not found")
)

// FetchError describes a fetch that failed after all attempts.
type FetchError struct {
	URL      string
	Status   int
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("fetch %s: status %d after %d attempts: %v", e.URL, e.Status, e.Attempts, e.Err)
	}
	return fmt.Sprintf("fetch %s after %d attempts: %v", e.URL, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
