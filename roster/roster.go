/*
Package roster holds the list of cases under review and maps each case
barcode onto its folder of CTA volumes in a storage.Store.
*/
package roster

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/xuri/excelize/v2"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/janelia-flyem/volview/storage"
	"github.com/janelia-flyem/volview/volview"
)

// Case is one row of the review roster.
type Case struct {
	Barcode    string `json:"barcode" yaml:"barcode"`
	Category   string `json:"cta_category" yaml:"category"`
	Conclusion string `json:"cta_conclusion" yaml:"conclusion"`
	Findings   string `json:"cta_findings" yaml:"findings"`
}

// Folder is the directory holding a case's volumes.
type Folder struct {
	Name  string
	Files []string
}

// Path returns the store name of one of the folder's files.
func (f Folder) Path(file string) string {
	return path.Join(f.Name, file)
}

// Has returns true if file is one of the folder's volumes.
func (f Folder) Has(file string) bool {
	for _, name := range f.Files {
		if name == file {
			return true
		}
	}
	return false
}

// IsVolumeFile returns true for names of the form CTA*.nii.gz, ignoring case.
func IsVolumeFile(name string) bool {
	return strings.HasPrefix(strings.ToUpper(name), "CTA") && strings.HasSuffix(strings.ToLower(name), ".nii.gz")
}

// Column names accepted in roster files, including the headers of the
// Chinese spreadsheet export.
var columnAliases = map[string]string{
	"barcode":        "barcode",
	"条码号":            "barcode",
	"category":       "category",
	"cta_category":   "category",
	"conclusion":     "conclusion",
	"cta_conclusion": "conclusion",
	"cta检查结论":        "conclusion",
	"findings":       "findings",
	"cta_findings":   "findings",
	"cta报告：检查所见":     "findings",
}

// ReadCSV parses a roster with a header row.  The barcode column is required.
func ReadCSV(r io.Reader) ([]Case, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, err
	}
	return casesFromRows(rows)
}

// DefaultSheet is the worksheet read from .xlsx rosters.
const DefaultSheet = "all_with_labels"

// ReadXLSX parses the named worksheet of an Excel workbook.  The sheet has the
// same header row and columns as a CSV roster.
func ReadXLSX(r io.Reader, sheet string) ([]Case, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if index, err := f.GetSheetIndex(sheet); err != nil || index < 0 {
		return nil, fmt.Errorf("workbook has no sheet %q (sheets: %v)", sheet, f.GetSheetList())
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, err
	}
	return casesFromRows(rows)
}

// casesFromRows maps a header row and the records below it onto cases.
func casesFromRows(rows [][]string) ([]Case, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("roster has no header row")
	}
	header := rows[0]
	cols := make(map[string]int)
	for i, name := range header {
		name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		if field, found := columnAliases[name]; found {
			cols[field] = i
		}
	}
	if _, found := cols["barcode"]; !found {
		return nil, fmt.Errorf("roster has no barcode column: %v", header)
	}
	get := func(rec []string, field string) string {
		i, found := cols[field]
		if !found || i >= len(rec) {
			return ""
		}
		return rec[i]
	}
	cases := make([]Case, 0, len(rows)-1)
	for _, rec := range rows[1:] {
		cases = append(cases, Case{
			Barcode:    get(rec, "barcode"),
			Category:   get(rec, "category"),
			Conclusion: get(rec, "conclusion"),
			Findings:   get(rec, "findings"),
		})
	}
	return cases, nil
}

// ReadYAML parses a roster given as a YAML list of cases.
func ReadYAML(r io.Reader) ([]Case, error) {
	var cases []Case
	if err := yaml.NewDecoder(r).Decode(&cases); err != nil && err != io.EOF {
		return nil, err
	}
	return cases, nil
}

// Load reads a roster file, choosing an Excel workbook, YAML or CSV by
// extension.  Workbooks are read from DefaultSheet.
func Load(filename string) (*Roster, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var cases []Case
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xlsx":
		cases, err = ReadXLSX(f, DefaultSheet)
	case ".yaml", ".yml":
		cases, err = ReadYAML(f)
	default:
		cases, err = ReadCSV(f)
	}
	if err != nil {
		return nil, fmt.Errorf("roster %s: %v", filename, err)
	}
	return New(cases), nil
}

// Roster is an ordered list of cases plus the case folders found in storage.
// It is safe for concurrent use.
type Roster struct {
	cases []Case

	mu      sync.RWMutex
	folders map[string]Folder // keyed by upper-cased folder name
}

// New returns a roster of cases.  Values are trimmed and cases with blank
// barcodes dropped.
func New(cases []Case) *Roster {
	r := &Roster{folders: make(map[string]Folder)}
	for _, c := range cases {
		c.Barcode = strings.TrimSpace(c.Barcode)
		if c.Barcode == "" {
			continue
		}
		c.Category = strings.TrimSpace(c.Category)
		c.Conclusion = strings.TrimSpace(c.Conclusion)
		c.Findings = strings.TrimSpace(c.Findings)
		r.cases = append(r.cases, c)
	}
	return r
}

// Number of case folders listed concurrently during a scan.
const scanConcurrency = 8

// Scan indexes the case folders at the root of store, replacing any
// previous index.  Folders are matched to barcodes ignoring case.
func (r *Roster) Scan(ctx context.Context, store storage.Store) error {
	timedLog := volview.NewTimeLog()
	entries, err := store.List(ctx, "")
	if err != nil {
		if volview.KindOf(err) == volview.NotFound {
			volview.Warningf("Data root %s does not exist, no case folders\n", store)
			r.setFolders(map[string]Folder{})
			return nil
		}
		return err
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir {
			dirs = append(dirs, e.Name)
		}
	}
	found := make([]Folder, len(dirs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(scanConcurrency)
	for i, dir := range dirs {
		g.Go(func() error {
			files, err := store.List(gctx, dir)
			if err != nil {
				volview.Warningf("Unable to list case folder %s: %v\n", dir, err)
				found[i] = Folder{Name: dir}
				return nil
			}
			var names []string
			for _, f := range files {
				if !f.IsDir && IsVolumeFile(f.Name) {
					names = append(names, f.Name)
				}
			}
			sort.Strings(names)
			found[i] = Folder{Name: dir, Files: names}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	folders := make(map[string]Folder, len(found))
	for _, f := range found {
		folders[strings.ToUpper(f.Name)] = f
	}
	r.setFolders(folders)
	timedLog.Infof("Indexed %d case folders in %s", len(folders), store)
	return nil
}

func (r *Roster) setFolders(folders map[string]Folder) {
	r.mu.Lock()
	r.folders = folders
	r.mu.Unlock()
}

// Len returns the number of cases.
func (r *Roster) Len() int {
	return len(r.cases)
}

// Cases returns all cases in roster order.
func (r *Roster) Cases() []Case {
	return r.cases
}

// Lookup finds a case by barcode, ignoring case and surrounding space.
func (r *Roster) Lookup(barcode string) (Case, bool) {
	barcode = strings.TrimSpace(barcode)
	for _, c := range r.cases {
		if strings.EqualFold(c.Barcode, barcode) {
			return c, true
		}
	}
	return Case{}, false
}

// Folder returns the case folder for a barcode, ignoring case.
func (r *Roster) Folder(barcode string) (Folder, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, found := r.folders[strings.ToUpper(strings.TrimSpace(barcode))]
	return f, found
}

// Filter returns the cases of a category whose barcode contains a
// substring, ignoring case.  An empty category or "all" matches every case.
func (r *Roster) Filter(category, barcode string) []Case {
	category = strings.TrimSpace(category)
	if strings.EqualFold(category, "all") {
		category = ""
	}
	sub := strings.ToLower(strings.TrimSpace(barcode))
	var out []Case
	for _, c := range r.cases {
		if category != "" && c.Category != category {
			continue
		}
		if sub != "" && !strings.Contains(strings.ToLower(c.Barcode), sub) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Categories returns the sorted distinct non-empty categories.
func (r *Roster) Categories() []string {
	seen := make(map[string]bool)
	var cats []string
	for _, c := range r.cases {
		if c.Category != "" && !seen[c.Category] {
			seen[c.Category] = true
			cats = append(cats, c.Category)
		}
	}
	sort.Strings(cats)
	return cats
}

// CategoryCount is the review progress of one category.
type CategoryCount struct {
	Category string `json:"cta_category"`
	Total    int    `json:"total"`
	Checked  int    `json:"checked"`
}

// Summary is the review progress of the whole roster.
type Summary struct {
	Total      int             `json:"total"`
	Checked    int             `json:"checked"`
	ByCategory []CategoryCount `json:"by_category"`
}

// Stats counts cases, and those reported checked, per category.
func (r *Roster) Stats(checked func(barcode string) bool) Summary {
	totals := make(map[string]int)
	done := make(map[string]int)
	s := Summary{Total: len(r.cases), ByCategory: []CategoryCount{}}
	for _, c := range r.cases {
		totals[c.Category]++
		if checked(c.Barcode) {
			done[c.Category]++
			s.Checked++
		}
	}
	for _, cat := range r.Categories() {
		s.ByCategory = append(s.ByCategory, CategoryCount{Category: cat, Total: totals[cat], Checked: done[cat]})
	}
	return s
}

// WithFolderCases returns a roster with one uncategorized case per scanned
// folder, for data roots served without a roster file.
func (r *Roster) WithFolderCases() *Roster {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.folders))
	for _, f := range r.folders {
		names = append(names, f.Name)
	}
	sort.Strings(names)
	cases := make([]Case, len(names))
	for i, name := range names {
		cases[i] = Case{Barcode: name}
	}
	out := New(cases)
	out.folders = r.folders
	return out
}
