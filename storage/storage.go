/*
Package storage provides read access to volume files and case folders
through a small Store interface.  Plain paths are served from the local
filesystem and URLs (s3://, gs://, file://) from a blob bucket.
*/
package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/janelia-flyem/volview/volview"
)

// Info describes an object or directory in a Store.
type Info struct {
	Name    string
	Size    int64
	ModTime time.Time
	IsDir   bool
}

// Store is read-only access to a tree of files.  Names are slash-separated
// and relative to the store root.
type Store interface {
	// Stat returns information on a file.  Missing files return an error of
	// kind volview.NotFound.
	Stat(ctx context.Context, name string) (Info, error)

	// Open returns a reader for the contents of a file.
	Open(ctx context.Context, name string) (io.ReadCloser, error)

	// List returns the immediate children of a directory, "" being the root.
	List(ctx context.Context, dir string) ([]Info, error)

	fmt.Stringer
}

// Open returns the Store for a location: a directory path or a bucket URL.
func Open(ctx context.Context, location string) (Store, error) {
	if strings.Contains(location, "://") {
		return OpenBucket(ctx, location)
	}
	return NewLocal(location)
}

// CleanName validates a store-relative name.  Absolute names, backslashes and
// names escaping the root are rejected with a BadRequest error.
func CleanName(name string) (string, error) {
	if strings.Contains(name, "\\") || strings.HasPrefix(name, "/") {
		return "", volview.NewError(volview.BadRequest, "invalid name %q", name)
	}
	cleaned := path.Clean(name)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", volview.NewError(volview.BadRequest, "name %q escapes the store root", name)
	}
	if cleaned == "." {
		cleaned = ""
	}
	return cleaned, nil
}
