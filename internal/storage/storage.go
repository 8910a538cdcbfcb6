// Package storage writes uploaded payloads to durable file storage. Every
// backend refuses to overwrite an existing object.
package storage

import (
	"context"
	"errors"
	"io"
)

var ErrObjectExists = errors.New("object already exists")

type Storage interface {
	// Put writes data under name, failing with ErrObjectExists if the name is taken.
	Put(ctx context.Context, name string, data io.Reader, contentType string) error
	Exists(ctx context.Context, name string) (bool, error)
	// Ref is the file reference handed to the processing delegate.
	Ref(name string) string
}
