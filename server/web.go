package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/zenazn/goji/web"
	"github.com/zenazn/goji/web/middleware"

	"github.com/janelia-flyem/volview/render"
	"github.com/janelia-flyem/volview/volview"
)

const (
	// WebAPIPath is the prefix of the case-oriented API.
	WebAPIPath = "/api/"

	// VolumesPath is the prefix of the volume-oriented API.
	VolumesPath = "/volumes/"

	// Cache-Control of slice images, which are keyed by their full query.
	sliceCacheControl = "private, max-age=3600"
)

var requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "volview_http_requests_total",
	Help: "HTTP requests by status code and method",
}, []string{"code", "method"})

func (s *Server) initRoutes() *web.Mux {
	mux := web.New()
	mux.Use(middleware.RequestID)
	mux.Use(logHTTPPanics)
	mux.Use(recordTiming)
	if len(s.cfg.Server.CorsDomains) != 0 {
		mux.Use(cors.New(cors.Options{
			AllowedOrigins: s.cfg.Server.CorsDomains,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodHead},
		}).Handler)
	}

	mux.Get(WebAPIPath+"meta", s.metaHandler)
	mux.Get(WebAPIPath+"stats", s.statsHandler)
	mux.Get(WebAPIPath+"cases", s.casesHandler)
	mux.Get(WebAPIPath+"case/:barcode", s.caseHandler)
	mux.Get(WebAPIPath+"case/:barcode/volume_info", s.caseVolumeInfoHandler)
	mux.Get(WebAPIPath+"case/:barcode/slice", s.caseSliceHandler)
	mux.Post(WebAPIPath+"case/:barcode/label", s.labelHandler)
	mux.Get(WebAPIPath+"cache", s.cacheStatsHandler)

	mux.Get(VolumesPath+":id/metadata", s.volumeMetadataHandler)
	mux.Get(VolumesPath+":id/slice", s.volumeSliceHandler)

	if s.registry != nil {
		mux.Get("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}
	if dir := s.cfg.Server.WebClient; dir != "" {
		volview.Infof("Serving web client from %s\n", dir)
		mux.Get("/*", noStoreEntryPages(http.FileServer(http.Dir(dir))))
	}
	mux.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, volview.NewError(volview.NotFound, "no handler for %s %s", r.Method, r.URL.Path))
	})
	return mux
}

// ---- middleware ----

// logHTTPPanics turns a panicking handler into a 500 response.
func logHTTPPanics(h http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if e := recover(); e != nil {
				volview.Errorf("Caught panic on HTTP request %s %s: %v\n", r.Method, r.URL, e)
				http.Error(w, fmt.Sprintf("Panic processing request: %v", e), http.StatusInternalServerError)
			}
		}()
		h.ServeHTTP(w, r)
	}
	return http.HandlerFunc(fn)
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// recordTiming logs each request with its duration and counts it by status.
func recordTiming(c *web.C, h http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		timedLog := volview.NewTimeLog()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		h.ServeHTTP(sw, r)
		requestsTotal.WithLabelValues(strconv.Itoa(sw.status), r.Method).Inc()
		reqID := middleware.GetReqID(*c)
		timedLog.Debugf("[%s] %s %s -> %d", reqID, r.Method, r.URL, sw.status)
	}
	return http.HandlerFunc(fn)
}

func noStoreEntryPages(h http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/", "/index.html", "/app.js", "/style.css":
			w.Header().Set("Cache-Control", "no-store")
		}
		h.ServeHTTP(w, r)
	}
	return http.HandlerFunc(fn)
}

// ---- errors ----

// errorResponse is the JSON body of failed requests.
type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// StatusCode maps an error kind onto an HTTP status.
func StatusCode(kind volview.ErrorKind) int {
	switch kind {
	case volview.IndexOutOfRange, volview.InvalidWindow, volview.BadRequest:
		return http.StatusBadRequest
	case volview.NotFound:
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// writeError logs err and sends it as a JSON body with a status given by
// its kind.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := volview.KindOf(err)
	status := StatusCode(kind)
	if kind.ClientError() {
		volview.Debugf("%s %s: %v\n", r.Method, r.URL, err)
	} else {
		volview.Errorf("%s %s: %v\n", r.Method, r.URL, err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Error: err.Error(), Kind: string(kind)})
}

// BadRequest writes a 400 error with a formatted message.
func BadRequest(w http.ResponseWriter, r *http.Request, format string, args ...interface{}) {
	writeError(w, r, volview.NewError(volview.BadRequest, format, args...))
}

func writeJSON(w http.ResponseWriter, r *http.Request, value interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(value); err != nil {
		volview.Errorf("Unable to write JSON response to %s: %v\n", r.URL, err)
	}
}

func writeImage(w http.ResponseWriter, img *render.Image) {
	w.Header().Set("Content-Type", img.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(img.Data)))
	w.Header().Set("Cache-Control", sliceCacheControl)
	w.Write(img.Data)
}

// ---- request parsing ----

// sliceQuery parses axis, index, wc, ww and max.  A missing axis is z and a
// missing index is 0; malformed values are rejected.
func sliceQuery(r *http.Request, name string) (render.SliceQuery, error) {
	q := render.SliceQuery{Name: name, Axis: volview.ZAxis}
	params := r.URL.Query()
	var err error
	if s := params.Get("axis"); s != "" {
		if q.Axis, err = volview.ParseAxis(s); err != nil {
			return q, err
		}
	}
	if s := strings.TrimSpace(params.Get("index")); s != "" {
		if q.Index, err = strconv.Atoi(s); err != nil {
			return q, volview.NewError(volview.BadRequest, "bad index %q", s)
		}
	}
	if q.Center, err = render.ParseOptional("wc", strings.TrimSpace(params.Get("wc"))); err != nil {
		return q, err
	}
	if q.Width, err = render.ParseOptional("ww", strings.TrimSpace(params.Get("ww"))); err != nil {
		return q, err
	}
	if s := strings.TrimSpace(params.Get("max")); s != "" {
		if q.Max, err = strconv.Atoi(s); err != nil {
			return q, volview.NewError(volview.BadRequest, "bad max %q", s)
		}
	}
	return q, nil
}

// caseVolume resolves a barcode and file name to a volume name in the store.
func (s *Server) caseVolume(barcode, file string) (string, error) {
	file = strings.TrimSpace(file)
	if file == "" {
		return "", volview.NewError(volview.BadRequest, "file required")
	}
	if strings.ContainsAny(file, `/\`) {
		return "", volview.NewError(volview.BadRequest, "invalid file %q", file)
	}
	if lower := strings.ToLower(file); !strings.HasSuffix(lower, ".nii.gz") && !strings.HasSuffix(lower, ".nii") {
		return "", volview.NewError(volview.BadRequest, "only .nii.gz and .nii volumes are supported, got %q", file)
	}
	folder, found := s.roster.Folder(barcode)
	if !found {
		return "", volview.NewError(volview.NotFound, "case folder for %q not found", barcode)
	}
	return folder.Path(file), nil
}

// volumeID splits a volume id of the form "<barcode>:<file>".
func (s *Server) volumeID(id string) (string, error) {
	barcode, file, found := strings.Cut(id, ":")
	if !found || strings.TrimSpace(barcode) == "" {
		return "", volview.NewError(volview.BadRequest, "volume id %q must be <barcode>:<file>", id)
	}
	return s.caseVolume(barcode, file)
}

// ---- volume endpoints ----

func (s *Server) volumeMetadataHandler(c web.C, w http.ResponseWriter, r *http.Request) {
	name, err := s.volumeID(c.URLParams["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	md, err := s.volumes.VolumeMetadata(r.Context(), name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, md)
}

func (s *Server) volumeSliceHandler(c web.C, w http.ResponseWriter, r *http.Request) {
	name, err := s.volumeID(c.URLParams["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.serveSlice(w, r, name)
}

func (s *Server) serveSlice(w http.ResponseWriter, r *http.Request, name string) {
	q, err := sliceQuery(r, name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	img, err := s.volumes.SliceImage(r.Context(), q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeImage(w, img)
}

func (s *Server) cacheStatsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, s.volumes.Stats())
}

// ---- case endpoints ----

func (s *Server) checkedSet(r *http.Request) (map[string]bool, error) {
	all, err := s.labels.All(r.Context())
	if err != nil {
		return nil, err
	}
	checked := make(map[string]bool, len(all))
	for barcode, rec := range all {
		if rec.Checked && strings.TrimSpace(barcode) != "" {
			checked[barcode] = true
		}
	}
	return checked, nil
}

func (s *Server) metaHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, map[string]interface{}{
		"total":            s.roster.Len(),
		"categories":       s.roster.Categories(),
		"data_root_exists": s.dataRootExists,
		"version":          volview.Version,
	})
}

func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	checked, err := s.checkedSet(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, s.roster.Stats(func(barcode string) bool { return checked[barcode] }))
}

type caseItem struct {
	Barcode  string  `json:"barcode"`
	Category string  `json:"cta_category"`
	Folder   *string `json:"folder"`
	HasCTA   bool    `json:"has_cta"`
	Checked  bool    `json:"checked"`
}

func (s *Server) casesHandler(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	checked, err := s.checkedSet(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	items := []caseItem{}
	for _, c := range s.roster.Filter(params.Get("category"), params.Get("barcode")) {
		item := caseItem{Barcode: c.Barcode, Category: c.Category, Checked: checked[c.Barcode]}
		if f, found := s.roster.Folder(c.Barcode); found {
			name := f.Name
			item.Folder = &name
			item.HasCTA = len(f.Files) != 0
		}
		items = append(items, item)
	}
	writeJSON(w, r, map[string]interface{}{"items": items})
}

// CaseDetail is the response of GET /api/case/{barcode}.
type CaseDetail struct {
	Barcode     string           `json:"barcode"`
	Category    string           `json:"cta_category"`
	Conclusion  string           `json:"cta_conclusion"`
	Findings    string           `json:"cta_findings"`
	Folder      *string          `json:"folder"`
	Files       []string         `json:"cta_files"`
	DefaultFile *string          `json:"default_file"`
	VolumeInfo  *render.Metadata `json:"volume_info"`
	Checked     bool             `json:"checked"`
	UpdatedAt   string           `json:"updated_at"`
}

// labelKey returns the roster spelling of a barcode, or the trimmed input
// for barcodes outside the roster.
func (s *Server) labelKey(barcode string) string {
	barcode = strings.TrimSpace(barcode)
	if c, found := s.roster.Lookup(barcode); found {
		return c.Barcode
	}
	return barcode
}

func (s *Server) caseHandler(c web.C, w http.ResponseWriter, r *http.Request) {
	barcode := s.labelKey(c.URLParams["barcode"])
	if barcode == "" {
		BadRequest(w, r, "barcode required")
		return
	}
	detail := CaseDetail{Barcode: barcode, Files: []string{}}
	if cs, found := s.roster.Lookup(barcode); found {
		detail.Category = cs.Category
		detail.Conclusion = cs.Conclusion
		detail.Findings = cs.Findings
	}
	if f, found := s.roster.Folder(barcode); found {
		name := f.Name
		detail.Folder = &name
		detail.Files = append(detail.Files, f.Files...)
		if len(f.Files) != 0 {
			first := f.Files[0]
			detail.DefaultFile = &first
			md, err := s.volumes.VolumeMetadata(r.Context(), f.Path(first))
			if err != nil {
				volview.Warningf("No volume info for %s: %v\n", f.Path(first), err)
			} else {
				detail.VolumeInfo = &md
			}
		}
	}
	rec, _, err := s.labels.Get(r.Context(), barcode)
	if err != nil {
		writeError(w, r, err)
		return
	}
	detail.Checked = rec.Checked
	detail.UpdatedAt = rec.UpdatedAt
	writeJSON(w, r, detail)
}

func (s *Server) caseVolumeInfoHandler(c web.C, w http.ResponseWriter, r *http.Request) {
	name, err := s.caseVolume(c.URLParams["barcode"], r.URL.Query().Get("file"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	md, err := s.volumes.VolumeMetadata(r.Context(), name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, md)
}

func (s *Server) caseSliceHandler(c web.C, w http.ResponseWriter, r *http.Request) {
	name, err := s.caseVolume(c.URLParams["barcode"], r.URL.Query().Get("file"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.serveSlice(w, r, name)
}

// LabelResponse is the response of POST /api/case/{barcode}/label.
type LabelResponse struct {
	Barcode   string `json:"barcode"`
	Checked   bool   `json:"checked"`
	UpdatedAt string `json:"updated_at"`
}

func (s *Server) labelHandler(c web.C, w http.ResponseWriter, r *http.Request) {
	barcode := s.labelKey(c.URLParams["barcode"])
	if barcode == "" {
		BadRequest(w, r, "barcode required")
		return
	}
	var body struct {
		Checked bool `json:"checked"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && err != io.EOF {
		BadRequest(w, r, "bad label body: %v", err)
		return
	}
	rec, err := s.labels.Set(r.Context(), barcode, body.Checked)
	if err != nil {
		writeError(w, r, err)
		return
	}
	volview.Infof("Case %s marked checked=%t\n", barcode, rec.Checked)
	writeJSON(w, r, LabelResponse{Barcode: barcode, Checked: rec.Checked, UpdatedAt: rec.UpdatedAt})
}
