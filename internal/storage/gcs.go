package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
)

type GCS struct {
	bucket *storage.BucketHandle
	name   string
}

func NewGCS(client *storage.Client, bucket string) *GCS {
	return &GCS{bucket: client.Bucket(bucket), name: bucket}
}

// Put uses a DoesNotExist precondition so a name collision surfaces as
// ErrObjectExists instead of replacing the object.
func (g *GCS) Put(ctx context.Context, name string, data io.Reader, contentType string) error {
	w := g.bucket.Object(name).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = contentType

	if _, err := io.Copy(w, data); err != nil {
		_ = w.Close()
		return g.classify(name, err)
	}
	if err := w.Close(); err != nil {
		return g.classify(name, err)
	}
	return nil
}

func (g *GCS) Exists(ctx context.Context, name string) (bool, error) {
	_, err := g.bucket.Object(name).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat gs://%s/%s: %w", g.name, name, err)
	}
	return true, nil
}

func (g *GCS) Ref(name string) string {
	return fmt.Sprintf("gs://%s/%s", g.name, name)
}

func (g *GCS) classify(name string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed {
		return fmt.Errorf("%w: %s", ErrObjectExists, name)
	}
	return fmt.Errorf("write gs://%s/%s: %w", g.name, name, err)
}
