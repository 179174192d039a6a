package storage

import (
	"bytes"
	"context"
	"io"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/janelia-flyem/volview/volview"
)

// Memory is a Store held in memory, mostly for testing.
type Memory struct {
	mu    sync.RWMutex
	files map[string]memFile
}

type memFile struct {
	data    []byte
	modTime time.Time
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{files: make(map[string]memFile)}
}

func (m *Memory) String() string {
	return "memory"
}

// Put stores data under name with the current time as modification time.
func (m *Memory) Put(name string, data []byte) {
	m.mu.Lock()
	m.files[name] = memFile{data: data, modTime: time.Now()}
	m.mu.Unlock()
}

// Delete removes name.
func (m *Memory) Delete(name string) {
	m.mu.Lock()
	delete(m.files, name)
	m.mu.Unlock()
}

func (m *Memory) get(name string) (memFile, error) {
	cleaned, err := CleanName(name)
	if err != nil {
		return memFile{}, err
	}
	m.mu.RLock()
	f, found := m.files[cleaned]
	m.mu.RUnlock()
	if !found {
		return memFile{}, volview.NewError(volview.NotFound, "%q not found", name)
	}
	return f, nil
}

func (m *Memory) Stat(ctx context.Context, name string) (Info, error) {
	f, err := m.get(name)
	if err != nil {
		return Info{}, err
	}
	return Info{Name: name, Size: int64(len(f.data)), ModTime: f.modTime}, nil
}

func (m *Memory) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	f, err := m.get(name)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(f.data)), nil
}

func (m *Memory) List(ctx context.Context, dir string) ([]Info, error) {
	cleaned, err := CleanName(dir)
	if err != nil {
		return nil, err
	}
	prefix := ""
	if cleaned != "" {
		prefix = cleaned + "/"
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[string]bool)
	var infos []Info
	for name, f := range m.files {
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		rest := name[len(prefix):]
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			sub := rest[:i]
			if !seen[sub] {
				seen[sub] = true
				infos = append(infos, Info{Name: sub, IsDir: true})
			}
			continue
		}
		infos = append(infos, Info{Name: path.Base(name), Size: int64(len(f.data)), ModTime: f.modTime})
	}
	if len(infos) == 0 && cleaned != "" {
		return nil, volview.NewError(volview.NotFound, "%q not found", dir)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}
