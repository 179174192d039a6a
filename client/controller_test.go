package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/janelia-flyem/volview/labels"
	"github.com/janelia-flyem/volview/render"
	"github.com/janelia-flyem/volview/volview"
)

const testFile = "CTA_1.nii.gz"

type saveCall struct {
	barcode string
	checked bool
}

// fakeBackend serves cases of a fixed shape.  Slices hold their key as
// content.  Saves and chosen slices can be held back with gates.
type fakeBackend struct {
	shape volview.Shape

	mu         sync.Mutex
	labels     map[string]bool
	saves      []saveCall
	saveGate   chan struct{}
	saveErrs   []error
	slices     []SliceKey
	sliceGates map[string]chan struct{}
	failSlices bool
}

func newFakeBackend(shape volview.Shape) *fakeBackend {
	return &fakeBackend{
		shape:      shape,
		labels:     make(map[string]bool),
		sliceGates: make(map[string]chan struct{}),
	}
}

func (f *fakeBackend) Case(ctx context.Context, barcode string) (CaseInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	file := testFile
	return CaseInfo{
		Barcode:     barcode,
		Files:       []string{testFile},
		DefaultFile: &file,
		VolumeInfo:  &render.Metadata{Shape: f.shape},
		Checked:     f.labels[barcode],
	}, nil
}

func (f *fakeBackend) Metadata(ctx context.Context, barcode, file string) (render.Metadata, error) {
	return render.Metadata{Shape: f.shape}, nil
}

func (f *fakeBackend) gate(key SliceKey) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, found := f.sliceGates[key.String()]
	if !found {
		g = make(chan struct{})
		f.sliceGates[key.String()] = g
	}
	return g
}

func (f *fakeBackend) Slice(ctx context.Context, key SliceKey) ([]byte, error) {
	f.mu.Lock()
	f.slices = append(f.slices, key)
	g := f.sliceGates[key.String()]
	fail := f.failSlices
	f.mu.Unlock()
	if fail {
		return nil, volview.NewError(volview.IndexOutOfRange, "slice %d", key.Index)
	}
	if g != nil {
		select {
		case <-g:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return []byte(key.String()), nil
}

func (f *fakeBackend) SaveLabel(ctx context.Context, barcode string, checked bool) (labels.Record, error) {
	f.mu.Lock()
	f.saves = append(f.saves, saveCall{barcode, checked})
	g := f.saveGate
	f.mu.Unlock()
	if g != nil {
		select {
		case <-g:
		case <-ctx.Done():
			return labels.Record{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.saveErrs) != 0 {
		err := f.saveErrs[0]
		f.saveErrs = f.saveErrs[1:]
		return labels.Record{}, err
	}
	f.labels[barcode] = checked
	return labels.Record{Checked: checked, UpdatedAt: "2024-03-05 14:07:09"}, nil
}

func (f *fakeBackend) saveCalls() []saveCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]saveCall(nil), f.saves...)
}

func (f *fakeBackend) sliceCalls() []SliceKey {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SliceKey(nil), f.slices...)
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.QuietPeriod = time.Hour
	opts.PrefetchDelay = time.Hour
	opts.PrefetchRadius = 0
	opts.CacheBytes = 4 * volview.Mega
	return opts
}

var testCases = []string{"A0", "A1", "A2", "A3", "A4"}

func newTestController(t *testing.T, backend Backend, opts Options) *Controller {
	c := New(backend, opts)
	t.Cleanup(c.Close)
	c.SetCases(testCases)
	return c
}

// waitFor polls the controller until cond holds for a snapshot.
func waitFor(t *testing.T, c *Controller, msg string, cond func(View) bool) View {
	t.Helper()
	var v View
	require.Eventually(t, func() bool {
		v = c.Snapshot()
		return cond(v)
	}, 2*time.Second, time.Millisecond, msg)
	return v
}

func waitShown(t *testing.T, c *Controller, barcode string) View {
	t.Helper()
	return waitFor(t, c, "case "+barcode+" shown", func(v View) bool {
		return v.State == Ready && v.Case.Barcode == barcode && v.Image != nil && v.ImageKey.Max == 0
	})
}

func TestCaseLoadShowsMiddleSlice(t *testing.T) {
	b := newFakeBackend(volview.Shape{4, 6, 10})
	c := newTestController(t, b, testOptions())
	c.Select("A2")
	v := waitShown(t, c, "A2")

	assert.Equal(t, 2, v.Position)
	assert.Equal(t, testFile, v.File)
	assert.Equal(t, volview.ZAxis, v.Axis)
	assert.Equal(t, 10, v.Extent)
	assert.Equal(t, 5, v.Index)
	assert.Equal(t, Size{4, 6}, v.PlaneSize)
	assert.Equal(t, v.ImageKey.String(), string(v.Image))

	c.SetAxis(volview.XAxis)
	v = waitFor(t, c, "x axis shown", func(v View) bool { return v.ImageKey.Axis == volview.XAxis })
	assert.Equal(t, 2, v.Index)
	assert.Equal(t, Size{6, 10}, v.PlaneSize)

	c.Select("Z9")
	v = c.Snapshot()
	assert.Equal(t, 2, v.Position)
	assert.Contains(t, v.Status, "not in the list")
}

func TestSaveBarrierCoalescesNavigation(t *testing.T) {
	b := newFakeBackend(volview.Shape{4, 4, 4})
	c := newTestController(t, b, testOptions())
	c.Select("A0")
	waitShown(t, c, "A0")

	gate := make(chan struct{})
	b.mu.Lock()
	b.saveGate = gate
	b.mu.Unlock()

	c.SetChecked(true)
	c.Next()
	c.Next()
	c.Next()

	v := c.Snapshot()
	assert.Equal(t, 0, v.Position, "navigation must wait for the save")
	assert.Equal(t, 3, v.Pending)
	assert.True(t, v.Checked)
	assert.False(t, v.Acked)

	close(gate)
	v = waitShown(t, c, "A3")
	assert.Equal(t, 3, v.Position)
	assert.Equal(t, -1, v.Pending)
	assert.Equal(t, []saveCall{{"A0", true}}, b.saveCalls())
	assert.Equal(t, 1, v.Stats.Saves)
}

func TestSaveQueueOrder(t *testing.T) {
	b := newFakeBackend(volview.Shape{4, 4, 4})
	c := newTestController(t, b, testOptions())
	c.Select("A1")
	waitShown(t, c, "A1")

	gate := make(chan struct{})
	b.mu.Lock()
	b.saveGate = gate
	b.mu.Unlock()

	c.SetChecked(true)
	c.SetChecked(true)
	c.SetChecked(false)
	c.SetChecked(true)
	v := c.Snapshot()
	assert.True(t, v.SaveInFlight)
	assert.Equal(t, 2, v.QueuedSaves)

	close(gate)
	v = waitFor(t, c, "saves drained", func(v View) bool { return !v.SaveInFlight && v.QueuedSaves == 0 })
	assert.Equal(t, []saveCall{{"A1", true}, {"A1", false}, {"A1", true}}, b.saveCalls())
	assert.True(t, v.Checked)
	assert.True(t, v.Acked)
	assert.Equal(t, "2024-03-05 14:07:09", v.UpdatedAt)
}

func TestFailedSaveIsReissuedBeforeNavigation(t *testing.T) {
	b := newFakeBackend(volview.Shape{4, 4, 4})
	b.saveErrs = []error{errors.New("disk full")}
	c := newTestController(t, b, testOptions())
	c.Select("A0")
	waitShown(t, c, "A0")

	c.SetChecked(true)
	v := waitFor(t, c, "save failure", func(v View) bool { return v.Stats.SaveFailures == 1 })
	assert.True(t, v.Checked, "a failed save keeps the local flag")
	assert.False(t, v.Acked)
	assert.Contains(t, v.Status, "disk full")

	c.Next()
	waitShown(t, c, "A1")
	assert.Equal(t, []saveCall{{"A0", true}, {"A0", true}}, b.saveCalls())

	b.mu.Lock()
	assert.True(t, b.labels["A0"])
	b.mu.Unlock()
}

func TestFailedBarrierSaveCancelsNavigation(t *testing.T) {
	b := newFakeBackend(volview.Shape{4, 4, 4})
	b.saveErrs = []error{errors.New("offline"), errors.New("offline")}
	c := newTestController(t, b, testOptions())
	c.Select("A0")
	waitShown(t, c, "A0")

	c.SetChecked(true)
	waitFor(t, c, "first failure", func(v View) bool { return v.Stats.SaveFailures == 1 })
	c.Next()
	v := waitFor(t, c, "barrier failure", func(v View) bool { return v.Stats.SaveFailures == 2 })
	assert.Equal(t, 0, v.Position)
	assert.Equal(t, -1, v.Pending)
	assert.Contains(t, v.Status, "navigation cancelled")

	// Once the server recovers, navigation proceeds.
	c.Next()
	waitShown(t, c, "A1")
}

func TestStaleRenderDiscarded(t *testing.T) {
	b := newFakeBackend(volview.Shape{4, 4, 10})
	c := newTestController(t, b, testOptions())
	c.Select("A0")
	v := waitShown(t, c, "A0")

	low := func(i int) SliceKey {
		k := v.ImageKey
		k.Index = i
		k.Max = DefaultOptions().LowMax
		return k
	}
	gate2, gate3 := b.gate(low(2)), b.gate(low(3))

	c.Scrub(2)
	c.Scrub(3)
	assert.Equal(t, 3, c.Snapshot().Index, "index label updates before any image")

	close(gate3)
	v = waitFor(t, c, "slice 3 shown", func(v View) bool { return v.ImageKey == low(3) })
	close(gate2)
	v = waitFor(t, c, "slice 2 discarded", func(v View) bool { return v.Stats.Discarded == 1 })
	assert.Equal(t, low(3), v.ImageKey)
	assert.Equal(t, low(3).String(), string(v.Image))

	c.Commit()
	v = waitFor(t, c, "full render", func(v View) bool { return v.ImageKey.Max == 0 })
	assert.Equal(t, 3, v.ImageKey.Index)
}

func TestQuietPeriodCommits(t *testing.T) {
	b := newFakeBackend(volview.Shape{4, 4, 10})
	opts := testOptions()
	opts.QuietPeriod = 20 * time.Millisecond
	c := newTestController(t, b, opts)
	c.Select("A0")
	waitShown(t, c, "A0")

	c.Scrub(100)
	v := waitFor(t, c, "settled render", func(v View) bool {
		return v.ImageKey.Index == 9 && v.ImageKey.Max == 0
	})
	assert.Equal(t, 9, v.Index)

	var lows int
	for _, k := range b.sliceCalls() {
		if k.Max == opts.LowMax {
			lows++
			assert.Equal(t, 9, k.Index)
		}
	}
	assert.Equal(t, 1, lows)
}

func TestWindowChangeRerenders(t *testing.T) {
	b := newFakeBackend(volview.Shape{4, 4, 4})
	c := newTestController(t, b, testOptions())
	c.Select("A0")
	waitShown(t, c, "A0")

	c.SetWindow(render.Some(40), render.Some(400))
	v := waitFor(t, c, "windowed render", func(v View) bool { return v.ImageKey.Width.Set })
	assert.Equal(t, render.Some(40), v.ImageKey.Center)
	assert.Contains(t, string(v.Image), "|40|400|")
}

func TestPrefetchNeighbors(t *testing.T) {
	b := newFakeBackend(volview.Shape{4, 4, 10})
	opts := testOptions()
	opts.PrefetchRadius = 2
	opts.PrefetchDelay = 5 * time.Millisecond
	c := newTestController(t, b, opts)
	c.Select("A0")
	waitShown(t, c, "A0")

	v := waitFor(t, c, "prefetch", func(v View) bool { return v.Stats.Prefetched == 4 })
	assert.Equal(t, 1, v.Stats.Renders)

	var indexes []int
	for _, k := range b.sliceCalls() {
		if k.Max == opts.LowMax {
			indexes = append(indexes, k.Index)
		}
	}
	assert.ElementsMatch(t, []int{3, 4, 6, 7}, indexes)

	// Scrubbing onto a prefetched slice needs no request.
	c.Scrub(6)
	v = c.Snapshot()
	assert.Equal(t, 1, v.Stats.CacheHits)
	assert.Equal(t, 1, v.Stats.Renders)
	assert.Equal(t, 6, v.ImageKey.Index)
}

func TestStalePrefetchAborts(t *testing.T) {
	b := newFakeBackend(volview.Shape{4, 4, 10})
	opts := testOptions()
	opts.PrefetchRadius = 2
	opts.PrefetchDelay = 200 * time.Millisecond
	c := newTestController(t, b, opts)
	c.Select("A0")
	waitShown(t, c, "A0")

	c.Scrub(1)
	v := waitFor(t, c, "prefetch aborted", func(v View) bool { return v.Stats.PrefetchAborted == 1 })
	assert.Equal(t, 0, v.Stats.Prefetched)
	for _, k := range b.sliceCalls() {
		if k.Max == opts.LowMax {
			assert.Equal(t, 1, k.Index, "unexpected prefetch of %s", k)
		}
	}
}

func TestRenderFailureKeepsImage(t *testing.T) {
	b := newFakeBackend(volview.Shape{4, 4, 4})
	c := newTestController(t, b, testOptions())
	c.Select("A0")
	before := waitShown(t, c, "A0")

	b.mu.Lock()
	b.failSlices = true
	b.mu.Unlock()
	c.Scrub(0)
	v := waitFor(t, c, "render failure", func(v View) bool { return v.Stats.RenderFailures == 1 })
	assert.Equal(t, before.ImageKey, v.ImageKey)
	assert.Equal(t, before.Image, v.Image)
	assert.Contains(t, v.ImageErr, "IndexOutOfRange")
	assert.Equal(t, 0, v.Index)
	assert.Equal(t, Ready, v.State)
}

func TestZoomDisablesAutoFitUntilNextCase(t *testing.T) {
	b := newFakeBackend(volview.Shape{200, 100, 4})
	c := newTestController(t, b, testOptions())
	c.Resize(400, 400)
	c.Select("A0")
	v := waitShown(t, c, "A0")
	bounds := DefaultOptions().Bounds
	assert.True(t, v.AutoFit)
	assert.Equal(t, Transform{Scale: 2, TX: 0, TY: 100}, v.Transform)

	c.Zoom(2, 0, 0)
	v = c.Snapshot()
	assert.False(t, v.AutoFit)
	assert.Equal(t, Transform{Scale: 4, TX: 0, TY: 200}, v.Transform)

	c.Resize(800, 800)
	assert.Equal(t, Transform{Scale: 4, TX: 0, TY: 200}, c.Snapshot().Transform)

	c.Pan(-50, 0)
	assert.Equal(t, -50.0, c.Snapshot().Transform.TX)

	c.Next()
	v = waitShown(t, c, "A1")
	assert.True(t, v.AutoFit)
	assert.Equal(t, Fit(Size{200, 100}, Size{800, 800}, bounds), v.Transform)
}

func TestSliceKeyQuery(t *testing.T) {
	k := SliceKey{Barcode: "A1", File: testFile, Axis: volview.YAxis, Index: 7, Width: render.Some(80), Max: 256}
	q := k.Query()
	assert.Equal(t, "y", q.Get("axis"))
	assert.Equal(t, "7", q.Get("index"))
	assert.Equal(t, "80", q.Get("ww"))
	assert.Equal(t, "256", q.Get("max"))
	assert.False(t, q.Has("wc"))
	assert.Equal(t, fmt.Sprintf("A1:%s|y|7|-|80|256", testFile), k.String())
}
