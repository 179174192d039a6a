package render

import (
	"bytes"
	"context"
	"errors"
	"image/png"
	"math"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/janelia-flyem/volview/nifti"
	"github.com/janelia-flyem/volview/storage"
	"github.com/janelia-flyem/volview/volume"
	"github.com/janelia-flyem/volview/volview"
)

const testVolume = "CASE1/CTA_test.nii"

func newTestService(t *testing.T, cfg Config) (*Service, *storage.Memory) {
	values := make([]int16, 4*4*2)
	for i := range values {
		values[i] = int16(i)
	}
	var buf bytes.Buffer
	h := volume.Header{Shape: volview.Shape{4, 4, 2}}
	if err := nifti.Encode(&buf, h, values); err != nil {
		t.Fatalf("unable to encode test volume: %v", err)
	}
	store := storage.NewMemory()
	store.Put(testVolume, buf.Bytes())
	return NewService(store, cfg), store
}

func zQuery(index int) SliceQuery {
	return SliceQuery{Name: testVolume, Axis: volview.ZAxis, Index: index, Center: Some(16), Width: Some(32)}
}

func TestSliceImageColdWarm(t *testing.T) {
	s, _ := newTestService(t, DefaultConfig())
	ctx := context.Background()
	cold, err := s.SliceImage(ctx, zQuery(1))
	if err != nil {
		t.Fatal(err)
	}
	warm, err := s.SliceImage(ctx, zQuery(1))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(cold.Data, warm.Data) {
		t.Errorf("cold and warm renders differ")
	}
	if cold.ContentType != "image/png" {
		t.Errorf("bad content type %q", cold.ContentType)
	}
	img, err := png.Decode(bytes.NewReader(cold.Data))
	if err != nil {
		t.Fatalf("bad png: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 4 || b.Dy() != 4 {
		t.Errorf("bad png size %v", b)
	}
	st := s.Stats()
	if st.Slices.Hits != 1 || st.Slices.Loads != 1 || st.Volumes.Loads != 1 {
		t.Errorf("unexpected cache stats %+v", st)
	}
}

func TestSliceImageSingleFlight(t *testing.T) {
	s, _ := newTestService(t, DefaultConfig())
	var mu sync.Mutex
	decoded := make(map[volume.Identity]int)
	s.OnDecode = func(id volume.Identity) {
		mu.Lock()
		decoded[id]++
		mu.Unlock()
	}

	const n = 16
	var wg sync.WaitGroup
	images := make([]*Image, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			images[i], errs[i] = s.SliceImage(context.Background(), zQuery(0))
		}(i)
	}
	wg.Wait()
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("request %d: %v", i, errs[i])
		}
		if !bytes.Equal(images[i].Data, images[0].Data) {
			t.Errorf("request %d got a different image", i)
		}
	}
	if s.Decodes() != 1 || s.Renders() != 1 {
		t.Errorf("expected 1 decode and 1 render, got %d and %d", s.Decodes(), s.Renders())
	}
	if len(decoded) != 1 {
		t.Errorf("decode hook saw %d identities", len(decoded))
	}
}

func TestSliceCacheEviction(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SliceCacheSize = 2
	s, _ := newTestService(t, cfg)
	ctx := context.Background()

	a := zQuery(0)
	b := zQuery(1)
	c := zQuery(0)
	c.Width = Some(64)
	for _, q := range []SliceQuery{a, b, c, a} {
		if _, err := s.SliceImage(ctx, q); err != nil {
			t.Fatal(err)
		}
	}
	st := s.Stats().Slices
	if st.Misses != 4 || st.Hits != 0 || st.Loads != 4 {
		t.Errorf("expected A to be evicted before its repeat, stats %+v", st)
	}
	if st.Evictions != 2 || st.Entries != 2 {
		t.Errorf("expected 2 evictions and 2 entries, stats %+v", st)
	}
	if s.Decodes() != 1 {
		t.Errorf("volume should stay cached, got %d decodes", s.Decodes())
	}
}

func TestSliceImageErrors(t *testing.T) {
	s, store := newTestService(t, DefaultConfig())
	ctx := context.Background()

	q := zQuery(2)
	if _, err := s.SliceImage(ctx, q); !errors.Is(err, volview.ErrIndexOutOfRange) {
		t.Errorf("expected IndexOutOfRange, got %v", err)
	}
	q = zQuery(0)
	q.Width = Some(0)
	if _, err := s.SliceImage(ctx, q); !errors.Is(err, volview.ErrInvalidWindow) {
		t.Errorf("expected InvalidWindow, got %v", err)
	}
	if s.Decodes() != 0 {
		t.Errorf("invalid window should be rejected before decoding")
	}
	q = zQuery(0)
	q.Name = "CASE1/missing.nii"
	if _, err := s.SliceImage(ctx, q); !errors.Is(err, volview.ErrNotFound) {
		t.Errorf("expected NotFound, got %v", err)
	}

	store.Put("CASE2/bad.nii", []byte("definitely not a volume"))
	q.Name = "CASE2/bad.nii"
	_, err := s.SliceImage(ctx, q)
	if kind := volview.KindOf(err); kind != volview.CorruptHeader && kind != volview.CorruptStream {
		t.Errorf("expected a corrupt-data error, got %v", err)
	}

	store.Delete(testVolume)
	if _, err := s.SliceImage(ctx, zQuery(0)); !errors.Is(err, volview.ErrNotFound) {
		t.Errorf("expected NotFound after the source was removed, got %v", err)
	}
}

func TestPartialWindowSharesDefaultKey(t *testing.T) {
	s, _ := newTestService(t, DefaultConfig())
	ctx := context.Background()

	def := SliceQuery{Name: testVolume, Axis: volview.ZAxis, Index: 1}
	want, err := s.Request(ctx, def)
	if err != nil {
		t.Fatal(err)
	}
	for _, q := range []SliceQuery{
		{Name: testVolume, Axis: volview.ZAxis, Index: 1, Center: Some(math.NaN())},
		{Name: testVolume, Axis: volview.ZAxis, Index: 1, Center: Some(math.Inf(1))},
		{Name: testVolume, Axis: volview.ZAxis, Index: 1, Width: Some(40)},
	} {
		req, err := s.Request(ctx, q)
		if err != nil {
			t.Fatal(err)
		}
		if req != want {
			t.Errorf("query %+v gave key %+v, want the default %+v", q, req, want)
		}
		if _, err := s.SliceImage(ctx, q); err != nil {
			t.Fatal(err)
		}
	}
	if st := s.Stats().Slices; st.Entries != 1 || st.Loads != 1 {
		t.Errorf("partial windows should reuse one cached slice, stats %+v", st)
	}
}

func TestResidentBytesCountsStoredVolumes(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.VolumeCacheSize = 0
	s, _ := newTestService(t, cfg)
	before := testutil.ToFloat64(residentBytes)
	for i := 0; i < 3; i++ {
		if _, err := s.Volume(ctx, testVolume); err != nil {
			t.Fatal(err)
		}
	}
	if s.Decodes() != 3 {
		t.Errorf("uncached volume should decode every time, got %d decodes", s.Decodes())
	}
	if got := testutil.ToFloat64(residentBytes); got != before {
		t.Errorf("volumes not retained must not be counted: gauge went from %g to %g", before, got)
	}

	s, _ = newTestService(t, DefaultConfig())
	vol, err := s.Volume(ctx, testVolume)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Volume(ctx, testVolume); err != nil {
		t.Fatal(err)
	}
	if got := testutil.ToFloat64(residentBytes); got != before+float64(vol.NumBytes()) {
		t.Errorf("expected gauge %g after caching one volume, got %g", before+float64(vol.NumBytes()), got)
	}
}

func TestDownsampleOptIn(t *testing.T) {
	ctx := context.Background()
	q := zQuery(0)
	q.Max = 2

	s, _ := newTestService(t, DefaultConfig())
	req, err := s.Request(ctx, q)
	if err != nil {
		t.Fatal(err)
	}
	if req.Max != 0 {
		t.Errorf("max should be dropped when downsampling is disabled")
	}
	full, err := s.SliceImage(ctx, q)
	if err != nil {
		t.Fatal(err)
	}
	if full.Width != 4 || full.Height != 4 {
		t.Errorf("expected full resolution, got %d x %d", full.Width, full.Height)
	}

	cfg := DefaultConfig()
	cfg.AllowDownsample = true
	s, _ = newTestService(t, cfg)
	small, err := s.SliceImage(ctx, q)
	if err != nil {
		t.Fatal(err)
	}
	if small.Width != 2 || small.Height != 2 {
		t.Errorf("expected 2 x 2 preview, got %d x %d", small.Width, small.Height)
	}
}

func TestVolumeMetadata(t *testing.T) {
	s, _ := newTestService(t, DefaultConfig())
	ctx := context.Background()
	md, err := s.VolumeMetadata(ctx, testVolume)
	if err != nil {
		t.Fatal(err)
	}
	if md.Shape != (volview.Shape{4, 4, 2}) || md.Datatype != "int16" {
		t.Errorf("bad metadata %+v", md)
	}
	if s.Decodes() != 0 {
		t.Errorf("metadata should not decode the volume")
	}
	if _, err := s.Volume(ctx, testVolume); err != nil {
		t.Fatal(err)
	}
	cached, err := s.VolumeMetadata(ctx, testVolume)
	if err != nil {
		t.Fatal(err)
	}
	if cached != md {
		t.Errorf("cached metadata %+v differs from header metadata %+v", cached, md)
	}
	if _, err := s.VolumeMetadata(ctx, "nope.nii"); !errors.Is(err, volview.ErrNotFound) {
		t.Errorf("expected NotFound, got %v", err)
	}
}
