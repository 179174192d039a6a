package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
	"gocloud.dev/gcerrors"

	"github.com/janelia-flyem/volview/volview"
)

// Bucket is a read-only Store over a blob bucket and optional key prefix.
type Bucket struct {
	bucket   *blob.Bucket
	location string
}

// SplitLocation separates a bucket location into the URL opened by the blob
// drivers and the key prefix below the bucket.  The location has the form
//
//	s3://<bucket>/<prefix>?region=us-east-2
//	gs://<bucket>/<prefix>
//
// Query parameters are passed on to the driver, e.g. endpoint and
// use_path_style for S3-compatible stores.  file:// and mem:// locations
// have no prefix.
func SplitLocation(location string) (bucketURL, prefix string, err error) {
	u, err := url.Parse(location)
	if err != nil {
		return "", "", err
	}
	switch u.Scheme {
	case "file", "mem":
		return location, "", nil
	case "":
		return "", "", fmt.Errorf("bucket location %q has no scheme", location)
	}
	if u.Host == "" {
		return "", "", fmt.Errorf("bad bucket location %q, expected %s://<bucket>/<prefix>", location, u.Scheme)
	}
	prefix = strings.Trim(u.Path, "/")
	u.Path, u.RawPath = "", ""
	return u.String(), prefix, nil
}

// OpenBucket returns a Store for a bucket location.  Credentials are found
// the way each blob driver finds them, e.g. the default AWS chain for s3://
// and application default credentials for gs://.
func OpenBucket(ctx context.Context, location string) (*Bucket, error) {
	bucketURL, prefix, err := SplitLocation(location)
	if err != nil {
		return nil, err
	}
	b, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		volview.Errorf("Can't open bucket reference @ %q: %v\n", location, err)
		return nil, err
	}
	if prefix != "" {
		b = blob.PrefixedBucket(b, prefix+"/")
	}
	return NewBucket(b, location), nil
}

// NewBucket wraps an already opened bucket.  location is only used to name
// the store.
func NewBucket(b *blob.Bucket, location string) *Bucket {
	return &Bucket{bucket: b, location: location}
}

func (s *Bucket) String() string {
	return s.location
}

// Close releases the bucket.
func (s *Bucket) Close() error {
	return s.bucket.Close()
}

// classifyBlob maps blob error codes onto volview error kinds.
func classifyBlob(err error, name string) error {
	switch gcerrors.Code(err) {
	case gcerrors.NotFound:
		return volview.WrapError(volview.NotFound, err, "%q not found", name)
	case gcerrors.InvalidArgument:
		return volview.WrapError(volview.BadRequest, err, "invalid name %q", name)
	}
	return volview.WrapError(volview.IOFailure, err, "accessing %q", name)
}

func (s *Bucket) Stat(ctx context.Context, name string) (Info, error) {
	key, err := CleanName(name)
	if err != nil {
		return Info{}, err
	}
	attrs, err := s.bucket.Attributes(ctx, key)
	if err != nil {
		return Info{}, classifyBlob(err, name)
	}
	return Info{Name: name, Size: attrs.Size, ModTime: attrs.ModTime}, nil
}

func (s *Bucket) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	key, err := CleanName(name)
	if err != nil {
		return nil, err
	}
	r, err := s.bucket.NewReader(ctx, key, nil)
	if err != nil {
		return nil, classifyBlob(err, name)
	}
	return r, nil
}

// List returns the objects and common prefixes directly below dir.  Buckets
// have no empty directories, so a dir without children is NotFound.
func (s *Bucket) List(ctx context.Context, dir string) ([]Info, error) {
	prefix, err := CleanName(dir)
	if err != nil {
		return nil, err
	}
	if prefix != "" {
		prefix += "/"
	}
	var infos []Info
	iter := s.bucket.List(&blob.ListOptions{Prefix: prefix, Delimiter: "/"})
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, classifyBlob(err, dir)
		}
		name := strings.TrimSuffix(strings.TrimPrefix(obj.Key, prefix), "/")
		if name == "" || strings.Contains(name, "/") {
			continue
		}
		infos = append(infos, Info{Name: name, Size: obj.Size, ModTime: obj.ModTime, IsDir: obj.IsDir})
	}
	if len(infos) == 0 && dir != "" {
		return nil, volview.NewError(volview.NotFound, "%q not found", dir)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}
