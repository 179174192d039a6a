package labels

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/janelia-flyem/volview/volview"
)

// JSONStore keeps all records in one JSON object file.  The file is reread
// whenever its modification time changes, so external edits are picked up,
// and every write replaces it atomically.
type JSONStore struct {
	path string

	mu      sync.Mutex
	records map[string]Record
	modTime time.Time
	loaded  bool
}

// OpenJSON returns a store backed by the JSON file at path, which is created
// on the first write.
func OpenJSON(path string) (*JSONStore, error) {
	s := &JSONStore{path: path}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// load returns the current records.  Must be called with the lock held.
func (s *JSONStore) load() (map[string]Record, error) {
	fi, err := os.Stat(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.records = make(map[string]Record)
		s.modTime = time.Time{}
		s.loaded = true
		return s.records, nil
	}
	if err != nil {
		return nil, err
	}
	if s.loaded && fi.ModTime().Equal(s.modTime) {
		return s.records, nil
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	var raw map[string]json.RawMessage
	if len(data) > 0 {
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("label file %s: %v", s.path, err)
		}
	}
	records := make(map[string]Record, len(raw))
	for barcode, msg := range raw {
		var rec Record
		if err := json.Unmarshal(msg, &rec); err != nil {
			volview.Warningf("Skipping malformed label for %q in %s: %v\n", barcode, s.path, err)
			continue
		}
		records[barcode] = rec
	}
	s.records = records
	s.modTime = fi.ModTime()
	s.loaded = true
	return records, nil
}

func (s *JSONStore) Get(ctx context.Context, barcode string) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	records, err := s.load()
	if err != nil {
		return Record{}, false, err
	}
	rec, found := records[barcode]
	return rec, found, nil
}

func (s *JSONStore) Set(ctx context.Context, barcode string, checked bool) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	records, err := s.load()
	if err != nil {
		return Record{}, err
	}
	updated := make(map[string]Record, len(records)+1)
	for k, v := range records {
		updated[k] = v
	}
	rec := Record{Checked: checked, UpdatedAt: stamp()}
	updated[barcode] = rec
	if err := volview.WriteJSONFileAtomic(s.path, updated); err != nil {
		return Record{}, err
	}
	s.records = updated
	if fi, err := os.Stat(s.path); err == nil {
		s.modTime = fi.ModTime()
	}
	return rec, nil
}

func (s *JSONStore) All(ctx context.Context) (map[string]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	records, err := s.load()
	if err != nil {
		return nil, err
	}
	out := make(map[string]Record, len(records))
	for k, v := range records {
		out[k] = v
	}
	return out, nil
}

func (s *JSONStore) Close() error {
	return nil
}
