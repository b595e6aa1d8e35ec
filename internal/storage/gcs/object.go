package gcs

import (
	"context"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
)

// ParseURI splits gs://bucket/object into its parts.
func ParseURI(uri string) (bucket, object string, err error) {
	rest, ok := strings.CutPrefix(uri, "gs://")
	if !ok {
		return "", "", fmt.Errorf("not a gs:// uri: %q", uri)
	}
	bucket, object, _ = strings.Cut(rest, "/")
	if bucket == "" || object == "" {
		return "", "", fmt.Errorf("gs uri %q needs a bucket and an object", uri)
	}
	return bucket, object, nil
}

// OpenObject opens the object named by a gs:// URI for reading.
func OpenObject(ctx context.Context, client *storage.Client, uri string) (io.ReadCloser, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	bucket, object, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}
	r, err := client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", uri, err)
	}
	return r, nil
}
