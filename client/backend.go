package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/janelia-flyem/volview/labels"
	"github.com/janelia-flyem/volview/render"
	"github.com/janelia-flyem/volview/volview"
)

// CaseInfo describes a case as returned by the server.
type CaseInfo struct {
	Barcode     string           `json:"barcode"`
	Category    string           `json:"cta_category"`
	Conclusion  string           `json:"cta_conclusion"`
	Findings    string           `json:"cta_findings"`
	Files       []string         `json:"cta_files"`
	DefaultFile *string          `json:"default_file"`
	VolumeInfo  *render.Metadata `json:"volume_info"`
	Checked     bool             `json:"checked"`
	UpdatedAt   string           `json:"updated_at"`
}

// SliceKey identifies one rendered slice image.
type SliceKey struct {
	Barcode string
	File    string
	Axis    volview.Axis
	Index   int
	Center  render.Optional
	Width   render.Optional
	Max     int
}

func (k SliceKey) String() string {
	return fmt.Sprintf("%s:%s|%s|%d|%s|%s|%d", k.Barcode, k.File, k.Axis, k.Index, k.Center, k.Width, k.Max)
}

// Query returns the URL query of the slice.
func (k SliceKey) Query() url.Values {
	q := url.Values{}
	q.Set("axis", k.Axis.String())
	q.Set("index", strconv.Itoa(k.Index))
	if k.Center.Set {
		q.Set("wc", k.Center.String())
	}
	if k.Width.Set {
		q.Set("ww", k.Width.String())
	}
	if k.Max > 0 {
		q.Set("max", strconv.Itoa(k.Max))
	}
	return q
}

// Backend is the server as seen by a Controller.
type Backend interface {
	Case(ctx context.Context, barcode string) (CaseInfo, error)
	Metadata(ctx context.Context, barcode, file string) (render.Metadata, error)
	Slice(ctx context.Context, key SliceKey) ([]byte, error)
	SaveLabel(ctx context.Context, barcode string, checked bool) (labels.Record, error)
}

// HTTPBackend talks to a volview server.
type HTTPBackend struct {
	base   string
	client *http.Client
}

// NewHTTPBackend returns a backend for the server at baseURL.  A nil client
// uses one with a 30 second timeout.
func NewHTTPBackend(baseURL string, client *http.Client) *HTTPBackend {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPBackend{base: strings.TrimSuffix(baseURL, "/"), client: client}
}

func volumePath(barcode, file string) string {
	return "/volumes/" + url.PathEscape(barcode+":"+file)
}

func (b *HTTPBackend) do(ctx context.Context, method, path string, query url.Values, body io.Reader) ([]byte, error) {
	u := b.base + path
	if len(query) != 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, volview.WrapError(volview.IOFailure, err, "%s %s", method, path)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, volview.WrapError(volview.IOFailure, err, "reading response of %s %s", method, path)
	}
	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
			Kind  string `json:"kind"`
		}
		if json.Unmarshal(data, &e) != nil || e.Kind == "" {
			e.Kind = string(kindOfStatus(resp.StatusCode))
			e.Error = strings.TrimSpace(string(data))
		}
		return nil, &volview.Error{Kind: volview.ErrorKind(e.Kind), Msg: e.Error}
	}
	return data, nil
}

func kindOfStatus(status int) volview.ErrorKind {
	switch status {
	case http.StatusNotFound:
		return volview.NotFound
	case http.StatusBadRequest:
		return volview.BadRequest
	}
	return volview.IOFailure
}

func (b *HTTPBackend) Case(ctx context.Context, barcode string) (CaseInfo, error) {
	data, err := b.do(ctx, http.MethodGet, "/api/case/"+url.PathEscape(barcode), nil, nil)
	if err != nil {
		return CaseInfo{}, err
	}
	var info CaseInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return CaseInfo{}, fmt.Errorf("bad case response for %s: %v", barcode, err)
	}
	return info, nil
}

func (b *HTTPBackend) Metadata(ctx context.Context, barcode, file string) (render.Metadata, error) {
	data, err := b.do(ctx, http.MethodGet, volumePath(barcode, file)+"/metadata", nil, nil)
	if err != nil {
		return render.Metadata{}, err
	}
	var md render.Metadata
	if err := json.Unmarshal(data, &md); err != nil {
		return render.Metadata{}, fmt.Errorf("bad metadata response for %s:%s: %v", barcode, file, err)
	}
	return md, nil
}

func (b *HTTPBackend) Slice(ctx context.Context, key SliceKey) ([]byte, error) {
	return b.do(ctx, http.MethodGet, volumePath(key.Barcode, key.File)+"/slice", key.Query(), nil)
}

func (b *HTTPBackend) SaveLabel(ctx context.Context, barcode string, checked bool) (labels.Record, error) {
	body, _ := json.Marshal(map[string]bool{"checked": checked})
	data, err := b.do(ctx, http.MethodPost, "/api/case/"+url.PathEscape(barcode)+"/label", nil, bytes.NewReader(body))
	if err != nil {
		return labels.Record{}, err
	}
	var rec labels.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return labels.Record{}, fmt.Errorf("bad label response for %s: %v", barcode, err)
	}
	return rec, nil
}
