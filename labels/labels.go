/*
Package labels persists the per-case "checked" review flag.  Two backends are
provided: a single JSON file of barcode to record objects, and an
SQLite database.
*/
package labels

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// TimeFormat is the layout of Record.UpdatedAt.
const TimeFormat = "2006-01-02 15:04:05"

// Record is the stored review state of one case.
type Record struct {
	Checked   bool   `json:"checked"`
	UpdatedAt string `json:"updated_at"`
}

// Store reads and writes review records keyed by barcode.  Implementations
// serialize their own writes and are safe for concurrent use.
type Store interface {
	// Get returns the record of a barcode; found is false if it was never set.
	Get(ctx context.Context, barcode string) (rec Record, found bool, err error)

	// Set stores the checked flag of a barcode, stamped with the current time.
	Set(ctx context.Context, barcode string, checked bool) (Record, error)

	// All returns every stored record.
	All(ctx context.Context) (map[string]Record, error)

	Close() error
}

// Config selects and locates a label store.
type Config struct {
	Backend string // "json" (default) or "sqlite"
	Path    string
}

// Open returns the store described by cfg.
func Open(cfg Config) (Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("no path given for label store")
	}
	switch strings.ToLower(cfg.Backend) {
	case "", "json":
		return OpenJSON(cfg.Path)
	case "sqlite":
		return OpenSQLite(cfg.Path)
	}
	return nil, fmt.Errorf("unknown label store backend %q", cfg.Backend)
}

// now is replaced in tests.
var now = time.Now

func stamp() string {
	return now().Format(TimeFormat)
}
