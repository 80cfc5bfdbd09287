/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
)

// GCSStore writes photos to a Cloud Storage bucket.
type GCSStore struct {
	client *storage.Client
	bucket string
}

func NewGCSStore(client *storage.Client, bucket string) *GCSStore {
	return &GCSStore{
		client: client,
		bucket: bucket,
	}
}

func (g *GCSStore) Write(ctx context.Context, key string, data []byte) (Object, error) {
	w := g.client.Bucket(g.bucket).Object(key).NewWriter(ctx)
	w.ContentType = "image/png"

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return Object{}, fmt.Errorf("while uploading %q to bucket %q: %w", key, g.bucket, err)
	}
	if err := w.Close(); err != nil {
		return Object{}, fmt.Errorf("while finishing upload of %q to bucket %q: %w", key, g.bucket, err)
	}

	return Object{
		Path:        "gs://" + g.bucket + "/" + key,
		DownloadURL: "https://storage.googleapis.com/" + g.bucket + "/" + key,
	}, nil
}

// splitURI turns gs://bucket/key into its parts. Bare keys refer to this
// store's bucket.
func (g *GCSStore) splitURI(uri string) (string, string, error) {
	if !strings.HasPrefix(uri, "gs://") {
		return g.bucket, uri, nil
	}

	bucket, key, ok := strings.Cut(strings.TrimPrefix(uri, "gs://"), "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("invalid Cloud Storage URI %q", uri)
	}
	return bucket, key, nil
}

func (g *GCSStore) Read(ctx context.Context, uri string) ([]byte, error) {
	bucket, key, err := g.splitURI(uri)
	if err != nil {
		return nil, err
	}

	r, err := g.client.Bucket(bucket).Object(key).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("while opening %q: %w", uri, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("while reading %q: %w", uri, err)
	}

	return data, nil
}
