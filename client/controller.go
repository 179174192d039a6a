/*
	Package client implements the view controller of the case viewer.  A
	Controller owns all view state in a single event-loop goroutine; its
	exported methods post events to that loop and return immediately.
	Network calls run in their own goroutines and post their results back,
	where render epochs and the current request key decide if they still
	apply.
*/
package client

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coocood/freecache"
	"golang.org/x/sync/semaphore"

	"github.com/janelia-flyem/volview/render"
	"github.com/janelia-flyem/volview/volview"
)

// State is the coarse state of a Controller.
type State int

const (
	Idle State = iota
	Loading
	Ready
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Options configure a Controller.
type Options struct {
	// LowMax is the longest side of images rendered while scrubbing and
	// prefetching.
	LowMax int

	// HighMax bounds settled renders.  Zero requests full resolution.
	HighMax int

	QuietPeriod   time.Duration
	PrefetchDelay time.Duration

	// PrefetchRadius is how many slices on each side of the current one are
	// prefetched.  Zero disables prefetch.
	PrefetchRadius      int
	PrefetchConcurrency int64

	// CacheBytes bounds the client image cache.  Entries larger than
	// 1/1024 of it are not cached.
	CacheBytes int

	Bounds Bounds
}

// DefaultOptions returns the options used by the web client.
func DefaultOptions() Options {
	return Options{
		LowMax:              256,
		QuietPeriod:         150 * time.Millisecond,
		PrefetchDelay:       120 * time.Millisecond,
		PrefetchRadius:      6,
		PrefetchConcurrency: 3,
		CacheBytes:          64 * volview.Mega,
		Bounds:              Bounds{MinScale: 0.1, MaxScale: 20, Margin: 64},
	}
}

// Stats count events of a Controller.
type Stats struct {
	Renders         int // slice requests of the primary render path
	CacheHits       int // primary renders served from the image cache
	RenderFailures  int
	Discarded       int // late responses that no longer matched the view
	Prefetched      int
	PrefetchAborted int
	Saves           int
	SaveFailures    int
}

// View is a snapshot of a Controller's state.
type View struct {
	State    State
	Cases    []string
	Position int // index into Cases of the shown case, -1 if none
	Pending  int // target of a navigation waiting on saves, -1 if none

	Case    CaseInfo
	File    string
	Axis    volview.Axis
	Index   int
	Extent  int // number of slices along Axis
	Center  render.Optional
	Width   render.Optional
	Checked bool // local flag
	Acked   bool // last value acknowledged by the server

	UpdatedAt    string
	QueuedSaves  int
	SaveInFlight bool
	Status       string

	Image     []byte
	ImageKey  SliceKey
	ImageErr  string
	PlaneSize Size
	ViewSize  Size
	Transform Transform
	AutoFit   bool

	Stats Stats
}

type saveOp struct {
	barcode string
	checked bool
	barrier bool
}

// Controller drives the viewer.  All unexported fields below the loop
// marker are owned by the event loop.
type Controller struct {
	backend Backend
	opts    Options
	cache   *freecache.Cache
	sem     *semaphore.Weighted

	ctx    context.Context
	cancel context.CancelFunc
	events chan func()
	done   chan struct{}
	once   sync.Once

	// prefetchGen mirrors the loop's prefetch generation for prefetch
	// goroutines.
	prefetchGen atomic.Uint64

	// loop
	state     State
	cases     []string
	position  int
	pending   int
	barrier   bool
	caseEpoch uint64
	loaded    bool
	info      CaseInfo
	meta      render.Metadata
	file      string
	axis      volview.Axis
	index     int
	center    render.Optional
	width     render.Optional
	checked   bool
	acked     bool
	updatedAt string
	status    string

	saves  []saveOp
	saving bool

	renderEpoch uint64
	shownEpoch  uint64
	wantKey     SliceKey
	image       []byte
	imageKey    SliceKey
	imageErr    string
	quietGen    uint64

	view      Size
	transform Transform
	autoFit   bool

	stats Stats
}

// New returns a running Controller.  Close stops it.
func New(backend Backend, opts Options) *Controller {
	def := DefaultOptions()
	if opts.LowMax <= 0 {
		opts.LowMax = def.LowMax
	}
	if opts.PrefetchConcurrency <= 0 {
		opts.PrefetchConcurrency = def.PrefetchConcurrency
	}
	if opts.CacheBytes <= 0 {
		opts.CacheBytes = def.CacheBytes
	}
	if opts.Bounds.MaxScale <= 0 {
		opts.Bounds = def.Bounds
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		backend:  backend,
		opts:     opts,
		cache:    freecache.NewCache(opts.CacheBytes),
		sem:      semaphore.NewWeighted(opts.PrefetchConcurrency),
		ctx:      ctx,
		cancel:   cancel,
		events:   make(chan func(), 64),
		done:     make(chan struct{}),
		position: -1,
		pending:  -1,
		axis:     volview.ZAxis,
		autoFit:  true,
	}
	c.transform = Transform{Scale: 1}
	go c.loop()
	return c
}

// Close stops the event loop.  Responses still in flight are dropped.
func (c *Controller) Close() {
	c.once.Do(func() {
		c.cancel()
		close(c.done)
	})
}

func (c *Controller) loop() {
	for {
		select {
		case fn := <-c.events:
			fn()
		case <-c.done:
			return
		}
	}
}

func (c *Controller) post(fn func()) bool {
	select {
	case c.events <- fn:
		return true
	case <-c.done:
		return false
	}
}

// Snapshot returns the state after all previously posted events.
func (c *Controller) Snapshot() View {
	reply := make(chan View, 1)
	if !c.post(func() { reply <- c.snapshot() }) {
		return View{Position: -1, Pending: -1}
	}
	select {
	case v := <-reply:
		return v
	case <-c.done:
		return View{Position: -1, Pending: -1}
	}
}

func (c *Controller) snapshot() View {
	return View{
		State:        c.state,
		Cases:        append([]string(nil), c.cases...),
		Position:     c.position,
		Pending:      c.pending,
		Case:         c.info,
		File:         c.file,
		Axis:         c.axis,
		Index:        c.index,
		Extent:       c.extent(),
		Center:       c.center,
		Width:        c.width,
		Checked:      c.checked,
		Acked:        c.acked,
		UpdatedAt:    c.updatedAt,
		QueuedSaves:  len(c.saves),
		SaveInFlight: c.saving,
		Status:       c.status,
		Image:        c.image,
		ImageKey:     c.imageKey,
		ImageErr:     c.imageErr,
		PlaneSize:    c.planeSize(),
		ViewSize:     c.view,
		Transform:    c.transform,
		AutoFit:      c.autoFit,
		Stats:        c.stats,
	}
}

// SetCases replaces the navigable case list.  The shown case is kept if it
// is still listed.
func (c *Controller) SetCases(barcodes []string) {
	list := append([]string(nil), barcodes...)
	c.post(func() {
		current := ""
		if c.position >= 0 && c.position < len(c.cases) {
			current = c.cases[c.position]
		}
		c.cases = list
		c.position = -1
		for i, b := range list {
			if b == current {
				c.position = i
				break
			}
		}
		if c.pending >= len(list) {
			c.pending = len(list) - 1
		}
	})
}

// Select navigates to the case with the given barcode.
func (c *Controller) Select(barcode string) {
	c.post(func() {
		for i, b := range c.cases {
			if b == barcode {
				c.navigate(i)
				return
			}
		}
		c.status = fmt.Sprintf("case %s is not in the list", barcode)
	})
}

// Next navigates to the case after the current or pending one.
func (c *Controller) Next() {
	c.post(func() { c.step(1) })
}

// Prev navigates to the case before the current or pending one.
func (c *Controller) Prev() {
	c.post(func() { c.step(-1) })
}

func (c *Controller) step(delta int) {
	base := c.position
	if c.pending >= 0 {
		base = c.pending
	}
	target := base + delta
	if target < 0 || target >= len(c.cases) {
		return
	}
	c.navigate(target)
}

// navigate records target and starts the save barrier.  The case loads once
// all queued saves of the current case are acknowledged.
func (c *Controller) navigate(target int) {
	c.pending = target
	if !c.barrier {
		c.barrier = true
	}
	c.advanceBarrier()
}

func (c *Controller) advanceBarrier() {
	if !c.barrier || c.saving || len(c.saves) != 0 {
		return
	}
	if c.loaded && c.checked != c.acked {
		c.enqueueSave(saveOp{barcode: c.info.Barcode, checked: c.checked, barrier: true})
		return
	}
	target := c.pending
	c.barrier = false
	c.pending = -1
	if target == c.position && c.loaded {
		return
	}
	c.loadCase(target)
}

// SetChecked sets the local flag of the shown case and queues a save.
func (c *Controller) SetChecked(checked bool) {
	c.post(func() {
		if !c.loaded || checked == c.checked {
			return
		}
		c.checked = checked
		c.enqueueSave(saveOp{barcode: c.info.Barcode, checked: checked})
	})
}

func (c *Controller) enqueueSave(op saveOp) {
	c.saves = append(c.saves, op)
	c.pumpSaves()
}

func (c *Controller) pumpSaves() {
	if c.saving || len(c.saves) == 0 {
		return
	}
	op := c.saves[0]
	c.saves = c.saves[1:]
	c.saving = true
	c.stats.Saves++
	go func() {
		rec, err := c.backend.SaveLabel(c.ctx, op.barcode, op.checked)
		c.post(func() { c.saveDone(op, rec.Checked, rec.UpdatedAt, err) })
	}()
}

func (c *Controller) queuedFor(barcode string) bool {
	for _, op := range c.saves {
		if op.barcode == barcode {
			return true
		}
	}
	return false
}

func (c *Controller) saveDone(op saveOp, checked bool, updatedAt string, err error) {
	c.saving = false
	switch {
	case err != nil:
		c.stats.SaveFailures++
		c.status = fmt.Sprintf("saving %s failed: %v", op.barcode, err)
		volview.Errorf("Label save of %s failed: %v\n", op.barcode, err)
		if op.barrier {
			c.barrier = false
			c.pending = -1
			c.status += "; navigation cancelled"
		}
	case c.loaded && op.barcode == c.info.Barcode:
		c.acked = checked
		c.updatedAt = updatedAt
		if !c.queuedFor(op.barcode) {
			c.checked = checked
		}
		c.status = "saved " + op.barcode
	}
	c.pumpSaves()
	c.advanceBarrier()
}

func (c *Controller) loadCase(pos int) {
	c.caseEpoch++
	epoch := c.caseEpoch
	barcode := c.cases[pos]
	c.position = pos
	c.state = Loading
	c.loaded = false
	c.info = CaseInfo{Barcode: barcode}
	c.meta = render.Metadata{}
	c.file = ""
	c.checked, c.acked = false, false
	c.updatedAt = ""
	c.autoFit = true
	c.clearImage()
	c.prefetchGen.Add(1)
	go func() {
		info, err := c.backend.Case(c.ctx, barcode)
		c.post(func() { c.caseLoaded(epoch, info, err) })
	}()
}

func (c *Controller) caseLoaded(epoch uint64, info CaseInfo, err error) {
	if epoch != c.caseEpoch {
		c.stats.Discarded++
		return
	}
	if err != nil {
		c.state = Idle
		c.status = fmt.Sprintf("loading %s failed: %v", c.info.Barcode, err)
		volview.Errorf("Case %s load failed: %v\n", c.info.Barcode, err)
		return
	}
	c.info = info
	c.loaded = true
	c.checked, c.acked = info.Checked, info.Checked
	c.updatedAt = info.UpdatedAt
	c.status = ""
	if info.DefaultFile == nil {
		c.state = Ready
		return
	}
	c.file = *info.DefaultFile
	if info.VolumeInfo != nil {
		c.metadataLoaded(epoch, c.file, *info.VolumeInfo, nil)
		return
	}
	c.fetchMetadata(epoch, c.file)
}

// SetFile switches the shown case to another of its volume files.
func (c *Controller) SetFile(file string) {
	c.post(func() {
		if !c.loaded || file == c.file {
			return
		}
		c.file = file
		c.state = Loading
		c.meta = render.Metadata{}
		c.clearImage()
		c.prefetchGen.Add(1)
		c.fetchMetadata(c.caseEpoch, file)
	})
}

func (c *Controller) fetchMetadata(epoch uint64, file string) {
	barcode := c.info.Barcode
	go func() {
		md, err := c.backend.Metadata(c.ctx, barcode, file)
		c.post(func() { c.metadataLoaded(epoch, file, md, err) })
	}()
}

func (c *Controller) metadataLoaded(epoch uint64, file string, md render.Metadata, err error) {
	if epoch != c.caseEpoch || file != c.file {
		c.stats.Discarded++
		return
	}
	c.state = Ready
	if err != nil {
		c.imageErr = err.Error()
		volview.Errorf("Metadata of %s:%s failed: %v\n", c.info.Barcode, file, err)
		return
	}
	c.meta = md
	c.index = c.extent() / 2
	c.refit()
	c.requestRender(c.key(c.opts.HighMax))
}

// SetAxis shows the middle slice along another axis.
func (c *Controller) SetAxis(axis volview.Axis) {
	c.post(func() {
		if !axis.Valid() || axis == c.axis {
			return
		}
		c.axis = axis
		if !c.hasVolume() {
			return
		}
		c.index = c.extent() / 2
		c.refit()
		c.requestRender(c.key(c.opts.HighMax))
	})
}

// SetWindow sets the window used for renders.  Absent values let the server
// derive them.
func (c *Controller) SetWindow(center, width render.Optional) {
	c.post(func() {
		if center == c.center && width == c.width {
			return
		}
		c.center, c.width = center, width
		if c.hasVolume() {
			c.requestRender(c.key(c.opts.HighMax))
		}
	})
}

// Scrub moves to a slice during continuous input.  A low quality render is
// requested at once and a full one when input settles.
func (c *Controller) Scrub(index int) {
	c.post(func() {
		if !c.hasVolume() {
			return
		}
		c.index = c.clampIndex(index)
		c.requestRender(c.key(c.opts.LowMax))
		c.quietGen++
		gen := c.quietGen
		time.AfterFunc(c.opts.QuietPeriod, func() {
			c.post(func() {
				if gen == c.quietGen {
					c.commit()
				}
			})
		})
	})
}

// Commit requests the full quality render of the current slice.
func (c *Controller) Commit() {
	c.post(c.commit)
}

func (c *Controller) commit() {
	c.quietGen++
	if !c.hasVolume() {
		return
	}
	c.requestRender(c.key(c.opts.HighMax))
}

// Pan moves the image by (dx, dy) viewport pixels.
func (c *Controller) Pan(dx, dy float64) {
	c.post(func() {
		c.autoFit = false
		c.transform = c.transform.Pan(dx, dy, c.planeSize(), c.view, c.opts.Bounds)
	})
}

// Zoom scales the image by factor around the viewport point (fx, fy).
func (c *Controller) Zoom(factor, fx, fy float64) {
	c.post(func() {
		c.autoFit = false
		c.transform = c.transform.Zoom(factor, fx, fy, c.planeSize(), c.view, c.opts.Bounds)
	})
}

// Resize sets the viewport size.
func (c *Controller) Resize(w, h float64) {
	c.post(func() {
		c.view = Size{W: w, H: h}
		c.refit()
	})
}

func (c *Controller) refit() {
	if c.autoFit {
		c.transform = Fit(c.planeSize(), c.view, c.opts.Bounds)
	} else {
		c.transform = c.transform.Clamp(c.planeSize(), c.view, c.opts.Bounds)
	}
}

func (c *Controller) hasVolume() bool {
	return c.loaded && c.file != "" && c.meta.Shape.Valid()
}

func (c *Controller) extent() int {
	if !c.meta.Shape.Valid() {
		return 0
	}
	return c.meta.Shape.Extent(c.axis)
}

func (c *Controller) clampIndex(i int) int {
	n := c.extent()
	switch {
	case i < 0:
		return 0
	case i >= n:
		return n - 1
	}
	return i
}

func (c *Controller) planeSize() Size {
	if !c.meta.Shape.Valid() {
		return Size{}
	}
	ca, ra := c.axis.PlaneAxes()
	return Size{W: float64(c.meta.Shape.Extent(ca)), H: float64(c.meta.Shape.Extent(ra))}
}

func (c *Controller) key(max int) SliceKey {
	return c.keyAt(c.index, max)
}

func (c *Controller) keyAt(index, max int) SliceKey {
	return SliceKey{
		Barcode: c.info.Barcode,
		File:    c.file,
		Axis:    c.axis,
		Index:   index,
		Center:  c.center,
		Width:   c.width,
		Max:     max,
	}
}

func (c *Controller) clearImage() {
	c.renderEpoch++
	c.shownEpoch = c.renderEpoch
	c.wantKey = SliceKey{}
	c.image = nil
	c.imageKey = SliceKey{}
	c.imageErr = ""
}

// requestRender makes key the wanted image.  Any response for another key,
// or older than the image shown, is discarded.
func (c *Controller) requestRender(key SliceKey) {
	if key == c.wantKey && c.imageErr == "" {
		return
	}
	c.prefetchGen.Add(1)
	c.renderEpoch++
	epoch := c.renderEpoch
	c.wantKey = key
	if data, err := c.cache.Get([]byte(key.String())); err == nil {
		c.stats.CacheHits++
		c.applyImage(epoch, key, data)
		return
	}
	c.stats.Renders++
	go func() {
		data, err := c.backend.Slice(c.ctx, key)
		if err == nil {
			c.cache.Set([]byte(key.String()), data, 0)
		}
		c.post(func() { c.rendered(epoch, key, data, err) })
	}()
}

func (c *Controller) rendered(epoch uint64, key SliceKey, data []byte, err error) {
	if key != c.wantKey || epoch < c.shownEpoch {
		c.stats.Discarded++
		return
	}
	if err != nil {
		c.stats.RenderFailures++
		c.imageErr = err.Error()
		volview.Errorf("Render of %s failed: %v\n", key, err)
		return
	}
	c.applyImage(epoch, key, data)
}

func (c *Controller) applyImage(epoch uint64, key SliceKey, data []byte) {
	c.shownEpoch = epoch
	c.image = data
	c.imageKey = key
	c.imageErr = ""
	if key.Max == c.opts.HighMax {
		c.schedulePrefetch()
	}
}

// schedulePrefetch starts a new prefetch generation whose pass runs after
// the prefetch delay unless a newer generation supersedes it.
func (c *Controller) schedulePrefetch() {
	if c.opts.PrefetchRadius <= 0 {
		return
	}
	gen := c.prefetchGen.Add(1)
	time.AfterFunc(c.opts.PrefetchDelay, func() {
		c.post(func() { c.prefetch(gen) })
	})
}

func (c *Controller) prefetch(gen uint64) {
	if gen != c.prefetchGen.Load() || !c.hasVolume() {
		c.stats.PrefetchAborted++
		return
	}
	var keys []SliceKey
	for d := 1; d <= c.opts.PrefetchRadius; d++ {
		for _, i := range []int{c.index + d, c.index - d} {
			if i < 0 || i >= c.extent() {
				continue
			}
			k := c.keyAt(i, c.opts.LowMax)
			if _, err := c.cache.Get([]byte(k.String())); err == nil {
				continue
			}
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return
	}
	go c.runPrefetch(gen, keys)
}

func (c *Controller) runPrefetch(gen uint64, keys []SliceKey) {
	var (
		wg      sync.WaitGroup
		aborted atomic.Bool
	)
	for _, k := range keys {
		if gen != c.prefetchGen.Load() {
			aborted.Store(true)
			break
		}
		if err := c.sem.Acquire(c.ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer c.sem.Release(1)
			if gen != c.prefetchGen.Load() {
				aborted.Store(true)
				return
			}
			data, err := c.backend.Slice(c.ctx, k)
			if err != nil {
				volview.Debugf("Prefetch of %s failed: %v\n", k, err)
				return
			}
			if err := c.cache.Set([]byte(k.String()), data, 0); err != nil {
				return
			}
			c.post(func() { c.stats.Prefetched++ })
		}()
	}
	wg.Wait()
	if aborted.Load() {
		c.post(func() { c.stats.PrefetchAborted++ })
	}
}
