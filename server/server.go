/*
Package server binds the rendering service, case roster and label store to
HTTP endpoints and runs the web server of the volview executable.
*/
package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/zenazn/goji/web"

	"github.com/janelia-flyem/volview/cache"
	"github.com/janelia-flyem/volview/labels"
	"github.com/janelia-flyem/volview/render"
	"github.com/janelia-flyem/volview/roster"
	"github.com/janelia-flyem/volview/storage"
	"github.com/janelia-flyem/volview/volview"
)

// Server handles the HTTP API of one data root.
type Server struct {
	cfg     *Config
	store   storage.Store
	roster  *roster.Roster
	labels  labels.Store
	volumes *render.Service

	dataRootExists bool

	registry *prometheus.Registry
	mux      *web.Mux
}

// New opens the data root, roster and label store named by cfg and returns
// a server ready to handle requests.
func New(ctx context.Context, cfg *Config) (*Server, error) {
	renderCfg, err := cfg.RenderConfig()
	if err != nil {
		return nil, err
	}
	dataRoot := cfg.Server.DataRoot
	if dataRoot == "" {
		dataRoot = "."
	}
	store, err := storage.Open(ctx, dataRoot)
	if err != nil {
		return nil, err
	}
	volview.Infof("Serving volumes from %s\n", store)

	var rost *roster.Roster
	if cfg.Roster.File != "" {
		if rost, err = roster.Load(cfg.Roster.File); err != nil {
			return nil, err
		}
		volview.Infof("Loaded %d cases from %s\n", rost.Len(), cfg.Roster.File)
	} else {
		rost = roster.New(nil)
	}
	if err := rost.Scan(ctx, store); err != nil {
		return nil, err
	}
	if cfg.Roster.File == "" {
		rost = rost.WithFolderCases()
		volview.Infof("No roster file given, using %d case folders as cases\n", rost.Len())
	}

	lbls, err := labels.Open(cfg.LabelsConfig())
	if err != nil {
		return nil, err
	}
	return Assemble(cfg, store, rost, lbls, render.NewService(store, renderCfg)), nil
}

// Assemble returns a server over already opened parts.
func Assemble(cfg *Config, store storage.Store, rost *roster.Roster, lbls labels.Store, volumes *render.Service) *Server {
	s := &Server{
		cfg:     cfg,
		store:   store,
		roster:  rost,
		labels:  lbls,
		volumes: volumes,
	}
	if _, err := store.List(context.Background(), ""); err == nil {
		s.dataRootExists = true
	}
	if cfg.Server.Metrics {
		s.registry = prometheus.NewRegistry()
		s.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		s.registry.MustRegister(cache.Collectors()...)
		s.registry.MustRegister(render.Collectors()...)
		s.registry.MustRegister(requestsTotal)
	}
	s.mux = s.initRoutes()
	return s
}

// Service returns the rendering service.
func (s *Server) Service() *render.Service {
	return s.volumes
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Serve listens on the configured address until ctx is done, then waits up
// to the shutdown delay for requests in progress.
func (s *Server) Serve(ctx context.Context) error {
	address := s.cfg.Server.HTTPAddress
	if address == "" {
		address = DefaultWebAddress
	}
	srv := &http.Server{
		Addr:              address,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       time.Hour,
	}
	errc := make(chan error, 1)
	go func() {
		volview.Infof("Web server listening at %s ...\n", address)
		errc <- srv.ListenAndServe()
	}()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	delay := time.Duration(s.cfg.Server.ShutdownDelay) * time.Second
	volview.Infof("Shutting down web server, waiting up to %s for requests in progress\n", delay)
	sctx, cancel := context.WithTimeout(context.Background(), delay)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close releases the label store and any bucket behind the data root.
func (s *Server) Close() error {
	err := s.labels.Close()
	if c, ok := s.store.(io.Closer); ok {
		if cerr := c.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
