/*
	This file contains functions useful for testing volview in other packages.
	Due to the way Go handles compilation of *_test.go files, these functions
	cannot be in server_test.go since they would be unavailable to test files
	in external packages.  So these functions are exported and contain the
	"Test" keyword.
*/

package server

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/janelia-flyem/volview/labels"
	"github.com/janelia-flyem/volview/nifti"
	"github.com/janelia-flyem/volview/render"
	"github.com/janelia-flyem/volview/roster"
	"github.com/janelia-flyem/volview/storage"
	"github.com/janelia-flyem/volview/volume"
	"github.com/janelia-flyem/volview/volview"
)

// Barcodes and volume files of the server built by NewTestServer.
const (
	TestBarcode = "A100"
	TestFile    = "CTA_test.nii.gz"
)

// TestVolume returns an uncompressed NIfTI-1 int16 volume of the given shape
// whose voxels hold their linear index.
func TestVolume(t *testing.T, shape volview.Shape) []byte {
	values := make([]int16, shape.NumVoxels())
	for i := range values {
		values[i] = int16(i)
	}
	var buf bytes.Buffer
	if err := nifti.Encode(&buf, volume.Header{Shape: shape}, values); err != nil {
		t.Fatalf("Unable to encode test volume: %v\n", err)
	}
	return buf.Bytes()
}

// NewTestServer returns a server over an in-memory store holding one 4x4x2
// volume for case TestBarcode, a two-case roster and a JSON label store in a
// temporary directory.
func NewTestServer(t *testing.T, cfg *Config) (*Server, *storage.Memory) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	store := storage.NewMemory()
	store.Put(TestBarcode+"/"+TestFile, TestVolume(t, volview.Shape{4, 4, 2}))
	store.Put("B200/notes.txt", []byte("no volumes here"))

	rost := roster.New([]roster.Case{
		{Barcode: TestBarcode, Category: "stroke", Conclusion: "occlusion"},
		{Barcode: "B200", Category: "normal"},
	})
	if err := rost.Scan(t.Context(), store); err != nil {
		t.Fatalf("Unable to scan test store: %v\n", err)
	}
	lbls, err := labels.OpenJSON(filepath.Join(t.TempDir(), "labels.json"))
	if err != nil {
		t.Fatalf("Unable to open test label store: %v\n", err)
	}
	renderCfg, err := cfg.RenderConfig()
	if err != nil {
		t.Fatalf("Bad render config: %v\n", err)
	}
	return Assemble(cfg, store, rost, lbls, render.NewService(store, renderCfg)), store
}

// TestHTTPResponse returns a response from a test request to s.
// Use TestHTTP if you just want the response body bytes.
func TestHTTPResponse(t *testing.T, s http.Handler, method, urlStr string, payload io.Reader) *httptest.ResponseRecorder {
	req, err := http.NewRequest(method, urlStr, payload)
	if err != nil {
		t.Fatalf("Unsuccessful %s on %q: %v\n", method, urlStr, err)
	}
	resp := httptest.NewRecorder()
	s.ServeHTTP(resp, req)
	return resp
}

// TestHTTP returns the response body bytes for a test request, making sure any response has
// status OK.
func TestHTTP(t *testing.T, s http.Handler, method, urlStr string, payload io.Reader) []byte {
	resp := TestHTTPResponse(t, s, method, urlStr, payload)
	if resp.Code != http.StatusOK {
		t.Fatalf("Bad server response (%d) to %s on %q: %s\n", resp.Code, method, urlStr, resp.Body.String())
	}
	return resp.Body.Bytes()
}

// TestBadHTTP expects a HTTP response with the given error status code.
func TestBadHTTP(t *testing.T, s http.Handler, method, urlStr string, payload io.Reader, status int) *httptest.ResponseRecorder {
	resp := TestHTTPResponse(t, s, method, urlStr, payload)
	if resp.Code != status {
		t.Fatalf("Expected status %d to %s on %q, got %d instead: %s\n", status, method, urlStr, resp.Code, resp.Body.String())
	}
	return resp
}
