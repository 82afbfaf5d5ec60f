package domain

import (
	"context"
	"io"
)

// ObjectInfo identifies one stored object.
type ObjectInfo struct {
	Key  string
	Size int64
}

// Object is random-access content of a stored object.
type Object interface {
	io.ReaderAt
	Size() int64
}

// ObjectStore is path-addressed object storage scoped to one set of credentials.
type ObjectStore interface {
	// List returns the object stored at path itself, or every object below
	// path when it names a directory, sorted by key.
	List(ctx context.Context, path string) ([]ObjectInfo, error)

	// Open returns random access to an object listed by List.
	Open(ctx context.Context, obj ObjectInfo) (Object, error)
}
