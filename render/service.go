/*
Package render extracts windowed slices from decoded volumes and serves them
as PNG images through two bounded caches: decoded volumes keyed by source
identity, and encoded slices keyed by the full request.
*/
package render

import (
	"context"
	"fmt"
	"sync/atomic"

	humanize "github.com/dustin/go-humanize"

	"github.com/janelia-flyem/volview/cache"
	"github.com/janelia-flyem/volview/nifti"
	"github.com/janelia-flyem/volview/storage"
	"github.com/janelia-flyem/volview/volume"
	"github.com/janelia-flyem/volview/volview"
)

const (
	DefaultVolumeCacheSize = 2
	DefaultSliceCacheSize  = 256
)

// Config holds the process-lifetime settings of a Service.
type Config struct {
	// VolumeCacheSize is the number of decoded volumes kept in memory.
	VolumeCacheSize int

	// SliceCacheSize is the number of encoded slices kept in memory.
	SliceCacheSize int

	// AllowDownsample enables preview-quality reduction of slices when a
	// request carries a maximum dimension.  Otherwise that parameter is
	// ignored.
	AllowDownsample bool

	Resample      Resample
	DefaultWindow WindowMode
	FlipRows      bool
}

// DefaultConfig returns the settings used when none are configured.
func DefaultConfig() Config {
	return Config{
		VolumeCacheSize: DefaultVolumeCacheSize,
		SliceCacheSize:  DefaultSliceCacheSize,
		Resample:        AreaResample,
		DefaultWindow:   RangeWindow,
	}
}

// SliceQuery asks for one slice of a named source.
type SliceQuery struct {
	Name   string
	Axis   volview.Axis
	Index  int
	Center Optional
	Width  Optional
	Max    int
}

// SliceRequest is a normalized SliceQuery bound to a particular version of
// its source.  Any difference between two requests is a different image.
type SliceRequest struct {
	Volume volume.Identity
	Axis   volview.Axis
	Index  int
	Center Optional
	Width  Optional
	Max    int
}

func (r SliceRequest) CacheKey() string {
	return fmt.Sprintf("%s|%s|%d|%s|%s|%d", r.Volume.CacheKey(), r.Axis, r.Index, r.Center, r.Width, r.Max)
}

// Metadata describes a volume without its voxels.
type Metadata struct {
	Shape     volview.Shape `json:"shape"`
	Datatype  string        `json:"datatype"`
	Slope     float64       `json:"scl_slope"`
	Intercept float64       `json:"scl_inter"`
	VoxOffset int64         `json:"vox_offset"`
	Spacing   [3]float64    `json:"spacing"`
	ByteOrder string        `json:"byte_order"`
}

// MetadataOf summarizes a header.
func MetadataOf(h volume.Header) Metadata {
	return Metadata{
		Shape:     h.Shape,
		Datatype:  h.Datatype.String(),
		Slope:     h.Slope,
		Intercept: h.Intercept,
		VoxOffset: h.VoxOffset,
		Spacing:   h.Spacing,
		ByteOrder: h.ByteOrderName(),
	}
}

// CacheStats reports both caches of a Service.
type CacheStats struct {
	Volumes cache.Stats `json:"volumes"`
	Slices  cache.Stats `json:"slices"`
}

// Service answers metadata and slice requests for volumes in a Store.  It
// holds no state besides its caches and is safe for concurrent use.
type Service struct {
	store    storage.Store
	cfg      Config
	renderer Renderer

	volumes *cache.Cache[volume.Identity, *volume.Volume]
	slices  *cache.Cache[SliceRequest, *Image]

	decodes atomic.Int64
	renders atomic.Int64

	// OnDecode, if set, is called before each volume decode.
	OnDecode func(volume.Identity)
}

// NewService returns a Service reading volumes from store.
func NewService(store storage.Store, cfg Config) *Service {
	s := &Service{
		store: store,
		cfg:   cfg,
		renderer: Renderer{
			DefaultWindow: cfg.DefaultWindow,
			Resample:      cfg.Resample,
			FlipRows:      cfg.FlipRows,
		},
	}
	s.volumes = cache.New("volumes", cfg.VolumeCacheSize, s.decode)
	s.volumes.OnAdd = func(id volume.Identity, vol *volume.Volume) {
		residentBytes.Add(float64(vol.NumBytes()))
	}
	s.volumes.OnEvict = func(id volume.Identity, vol *volume.Volume) {
		residentBytes.Sub(float64(vol.NumBytes()))
		volview.Debugf("Evicted volume %s, freeing %s\n", id.Name, humanize.Bytes(uint64(vol.NumBytes())))
	}
	s.slices = cache.New("slices", cfg.SliceCacheSize, s.render)
	return s
}

// Identify returns the current identity of a named source.
func (s *Service) Identify(ctx context.Context, name string) (volume.Identity, error) {
	info, err := s.store.Stat(ctx, name)
	if err != nil {
		return volume.Identity{}, volview.WrapError(volview.NotFound, err, "volume %q", name)
	}
	if info.IsDir {
		return volume.Identity{}, volview.NewError(volview.NotFound, "volume %q is a directory", name)
	}
	return volume.NewIdentity(name, info.Size, info.ModTime), nil
}

// VolumeMetadata returns the header summary of a named source.  A cached
// volume answers directly; otherwise only the header is read.
func (s *Service) VolumeMetadata(ctx context.Context, name string) (Metadata, error) {
	id, err := s.Identify(ctx, name)
	if err != nil {
		return Metadata{}, err
	}
	if vol, found := s.volumes.Lookup(id); found {
		return MetadataOf(vol.Header()), nil
	}
	r, err := s.store.Open(ctx, name)
	if err != nil {
		return Metadata{}, volview.WrapError(volview.NotFound, err, "volume %q", name)
	}
	defer r.Close()
	h, err := nifti.ReadHeader(r)
	if err != nil {
		return Metadata{}, err
	}
	return MetadataOf(h), nil
}

// Volume returns the decoded volume for a named source.
func (s *Service) Volume(ctx context.Context, name string) (*volume.Volume, error) {
	id, err := s.Identify(ctx, name)
	if err != nil {
		return nil, err
	}
	return s.volumes.Get(ctx, id)
}

// Request validates a query and binds it to the current version of its source.
func (s *Service) Request(ctx context.Context, q SliceQuery) (SliceRequest, error) {
	if !q.Axis.Valid() {
		return SliceRequest{}, volview.NewError(volview.BadRequest, "invalid axis %s", q.Axis)
	}
	if q.Width.Set {
		w := Window{Center: q.Center.Value, Width: q.Width.Value}
		if !q.Center.Set {
			w.Center = 0
		}
		if err := w.Validate(); err != nil {
			return SliceRequest{}, err
		}
	}
	// A partial window renders with the default, so it shares its cache key.
	if !q.Center.Set || !q.Width.Set {
		q.Center, q.Width = Optional{}, Optional{}
	}
	id, err := s.Identify(ctx, q.Name)
	if err != nil {
		return SliceRequest{}, err
	}
	req := SliceRequest{
		Volume: id,
		Axis:   q.Axis,
		Index:  q.Index,
		Center: q.Center,
		Width:  q.Width,
	}
	if s.cfg.AllowDownsample && q.Max > 0 {
		req.Max = q.Max
	}
	return req, nil
}

// SliceImage returns the encoded slice for a query.
func (s *Service) SliceImage(ctx context.Context, q SliceQuery) (*Image, error) {
	req, err := s.Request(ctx, q)
	if err != nil {
		return nil, err
	}
	return s.slices.Get(ctx, req)
}

// Stats returns counters of both caches.
func (s *Service) Stats() CacheStats {
	return CacheStats{Volumes: s.volumes.Stats(), Slices: s.slices.Stats()}
}

// Decodes returns the number of volume decodes performed.
func (s *Service) Decodes() int64 {
	return s.decodes.Load()
}

// Renders returns the number of slices rendered and encoded.
func (s *Service) Renders() int64 {
	return s.renders.Load()
}

func (s *Service) decode(ctx context.Context, id volume.Identity) (*volume.Volume, error) {
	if s.OnDecode != nil {
		s.OnDecode(id)
	}
	s.decodes.Add(1)
	timedLog := volview.NewTimeLog()
	r, err := s.store.Open(ctx, id.Name)
	if err != nil {
		return nil, volview.WrapError(volview.NotFound, err, "volume %q", id.Name)
	}
	defer r.Close()
	vol, err := nifti.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", id.Name, err)
	}
	timedLog.Infof("Decoded %s (%s %s, %s)", id.Name, vol.Shape(), vol.Datatype(), humanize.Bytes(uint64(vol.NumBytes())))
	return vol, nil
}

func (s *Service) render(ctx context.Context, req SliceRequest) (*Image, error) {
	vol, err := s.volumes.Get(ctx, req.Volume)
	if err != nil {
		return nil, err
	}
	s.renders.Add(1)
	img, err := s.renderer.Render(vol, req.Axis, req.Index, req.Center, req.Width, req.Max)
	if err != nil {
		return nil, err
	}
	out, err := EncodeImage(img)
	if err != nil {
		return nil, volview.WrapError(volview.IOFailure, err, "encoding slice of %s", req.Volume.Name)
	}
	imageBytes.Observe(float64(len(out.Data)))
	return out, nil
}
