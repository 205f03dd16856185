package domain

import (
	"context"
)

// FileRepository defines the interface for proof-artifact storage
type FileRepository interface {
	// Upload saves a file and returns its access URL
	Upload(ctx context.Context, file []byte, filename string, contentType string) (string, error)
	// Delete removes a previously uploaded file. Used to discard the
	// artifact when proof submission is rejected before it is attached.
	Delete(ctx context.Context, filename string) error
}
