package volview

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	Kilo = 1 << 10
	Mega = 1 << 20
	Giga = 1 << 30
)

// Version of the volview executable.
const Version = "0.3.0"

// ConvertToAbsolute returns an absolute path for p, interpreting relative
// paths as relative to baseDir.
func ConvertToAbsolute(p, baseDir string) (string, error) {
	if p == "" || filepath.IsAbs(p) || strings.Contains(p, "://") {
		return p, nil
	}
	abs, err := filepath.Abs(filepath.Join(baseDir, p))
	if err != nil {
		return "", err
	}
	return abs, nil
}

// WriteJSONFileAtomic writes an indented JSON encoding of value into a temporary
// file beside filename and then renames it into place, so readers never see
// a partially written file.
func WriteJSONFileAtomic(filename string, value interface{}) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return fmt.Errorf("unable to create directory for %s: %v", filename, err)
	}
	m, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("error in writing JSON file %s: %v", filename, err)
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, m, "", "  "); err != nil {
		return err
	}
	tmp := filename + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write JSON file %s: %v", tmp, err)
	}
	return os.Rename(tmp, filename)
}
