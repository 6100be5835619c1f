package gcs

import (
	"context"
)

// Stager keeps a copy of each downloaded artifact in object storage.
// GCSStager is the production implementation; NopStager disables staging.
type Stager interface {
	// Stage writes data under the uploads prefix and returns the object URI.
	Stage(ctx context.Context, fileName string, data []byte) (string, error)

	// Fetch downloads the bytes of a previously staged object by URI.
	Fetch(ctx context.Context, uri string) ([]byte, error)
}
