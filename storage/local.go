package storage

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/janelia-flyem/volview/volview"
)

// Local is a Store rooted at a filesystem directory.
type Local struct {
	root string
}

// NewLocal returns a Store for root.  The directory does not have to exist
// yet; lookups simply fail with NotFound until it does.
func NewLocal(root string) (*Local, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	return &Local{root: abs}, nil
}

func (s *Local) String() string {
	return s.root
}

// Root returns the absolute directory of the store.
func (s *Local) Root() string {
	return s.root
}

func (s *Local) path(name string) (string, error) {
	cleaned, err := CleanName(name)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(cleaned)), nil
}

func classifyLocal(err error, name string) error {
	if errors.Is(err, fs.ErrNotExist) {
		return volview.WrapError(volview.NotFound, err, "%q not found", name)
	}
	return volview.WrapError(volview.IOFailure, err, "accessing %q", name)
}

func (s *Local) Stat(ctx context.Context, name string) (Info, error) {
	p, err := s.path(name)
	if err != nil {
		return Info{}, err
	}
	fi, err := os.Stat(p)
	if err != nil {
		return Info{}, classifyLocal(err, name)
	}
	return Info{Name: name, Size: fi.Size(), ModTime: fi.ModTime(), IsDir: fi.IsDir()}, nil
}

func (s *Local) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	p, err := s.path(name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, classifyLocal(err, name)
	}
	return f, nil
}

func (s *Local) List(ctx context.Context, dir string) ([]Info, error) {
	p, err := s.path(dir)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(p)
	if err != nil {
		return nil, classifyLocal(err, dir)
	}
	infos := make([]Info, 0, len(entries))
	for _, e := range entries {
		fi, err := e.Info()
		if err != nil {
			continue
		}
		infos = append(infos, Info{Name: e.Name(), Size: fi.Size(), ModTime: fi.ModTime(), IsDir: e.IsDir()})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}
