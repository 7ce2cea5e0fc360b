// Package upload copies finished run artifacts to S3-compatible storage.
package upload

import "context"

// Uploader uploads run artifacts to remote storage.
type Uploader interface {
	// Preflight verifies that the bucket is reachable and writable by
	// writing a small marker object.
	Preflight(ctx context.Context) error

	// UploadRun uploads every file in a run directory. The directory
	// basename (the run id) becomes a sub-prefix under the configured
	// prefix. It returns the number of uploaded objects.
	UploadRun(ctx context.Context, runDir string) (int, error)

	// UploadSnapshot stores an exported snapshot under the prefix.
	UploadSnapshot(ctx context.Context, name string, data []byte) error
}
