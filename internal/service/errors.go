package service

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingFileName means the webhook payload named no object.
	ErrMissingFileName = errors.New("no file info")
	// ErrMissingCredentials means the vision API key is not configured.
	ErrMissingCredentials = errors.New("missing vision API credentials")
	// ErrStorage means the object could not be moved after all retries.
	ErrStorage = errors.New("storage operation failed")
	// ErrObjectMissing means the renamed object was not listed afterwards.
	ErrObjectMissing = errors.New("file not found after upload")
	// ErrUnreachable means the public URL did not answer a HEAD probe with 2xx.
	ErrUnreachable = errors.New("image URL is not accessible")
	// ErrDatabase means the placeholder row could not be inserted.
	ErrDatabase = errors.New("database operation failed")
	// ErrImageNotFound means no row has the requested ID.
	ErrImageNotFound = errors.New("image not found")
	// ErrSearchDisabled means no vector index is configured.
	ErrSearchDisabled = errors.New("search is not enabled")
)

// UpstreamError is a non-success answer from a model provider.
type UpstreamError struct {
	Service    string // vision or embedding
	Model      string
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s API returned HTTP %d for model %s: %s", e.Service, e.StatusCode, e.Model, truncate(e.Body, 500))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
