package pointq

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/golang/geo/r3"
	"github.com/google/uuid"

	"github.com/hupe1980/pointq/condition"
	"github.com/hupe1980/pointq/density"
	"github.com/hupe1980/pointq/geom"
	"github.com/hupe1980/pointq/index"
	"github.com/hupe1980/pointq/knn"
	"github.com/hupe1980/pointq/octree"
	"github.com/hupe1980/pointq/query"
)

// Handle identifies a query or a user channel registered with an Engine.
type Handle = uuid.UUID

// Query names accepted by CreateQuery.
const (
	QueryVisible       = "visible"
	QuerySelected      = "selected"
	QueryAll           = "all"
	QueryBox           = "box"
	QueryOrientedBox   = "oriented-box"
	QuerySphere        = "sphere"
	QueryFrustum       = "frustum"
	QueryChannelRange  = "channel-range"
	QueryAnalyticalBox = "analytical-box"
)

const kindKNN = "knn"

// QueryArgs are the shape arguments of CreateQuery. Each query name reads
// only the fields it needs.
type QueryArgs struct {
	// Box is the region of "box" and "analytical-box".
	Box geom.Box
	// OrientedBox is the region of "oriented-box".
	OrientedBox geom.OrientedBox
	// Center and Radius describe "sphere".
	Center r3.Vector
	Radius float64
	// Frustum is the view of "frustum".
	Frustum *geom.Frustum
	// Channel, Min and Max select the points of "channel-range" whose
	// channel value lies in [Min, Max].
	Channel Handle
	Min     float64
	Max     float64
}

type knnQuery struct {
	mu       sync.Mutex
	vertices []r3.Vector
	k        int
	lod      float64
	layers   uint8
	scope    []uint32
	done     bool
	last     *knn.Result
}

// Engine owns the queries and user channels of a scene and addresses them by
// handle. It is safe for concurrent use.
type Engine struct {
	scene index.Scene
	opts  options

	mu       sync.RWMutex
	queries  map[Handle]*query.Query
	knns     map[Handle]*knnQuery
	channels map[Handle]index.UserChannel
	closed   bool
}

// New creates an engine over scene.
func New(scene index.Scene, optFns ...Option) *Engine {
	opts := applyOptions(optFns)
	return &Engine{
		scene:    scene,
		opts:     opts,
		queries:  make(map[Handle]*query.Query),
		knns:     make(map[Handle]*knnQuery),
		channels: make(map[Handle]index.UserChannel),
	}
}

// Scene returns the scene the engine queries.
func (e *Engine) Scene() index.Scene { return e.scene }

func (e *Engine) queryOptions() []query.Option {
	return []query.Option{
		query.WithLogger(e.opts.logger.Logger),
		query.WithStream(e.opts.stream),
		query.WithPager(e.opts.pager),
		query.WithResourceController(e.opts.rc),
		query.WithHighlight(e.opts.highlight),
		query.WithCoordSpace(e.opts.space),
	}
}

// CreateQuery creates a query by name and returns its handle. See the Query
// constants for the accepted names.
func (e *Engine) CreateQuery(name string, args QueryArgs) (Handle, error) {
	var q *query.Query
	opts := e.queryOptions()
	switch name {
	case QueryVisible:
		q = query.New(e.scene, condition.Visible{}, opts...)
	case QuerySelected:
		q = query.New(e.scene, condition.Selected{}, opts...)
	case QueryAll:
		q = query.NewAll(e.scene, opts...)
	case QueryBox:
		if args.Box.IsEmpty() {
			return uuid.Nil, &ParameterError{Name: "box", Reason: "empty box"}
		}
		q = query.New(e.scene, condition.Box(args.Box), opts...)
	case QueryOrientedBox:
		q = query.New(e.scene, condition.OrientedBox(args.OrientedBox), opts...)
	case QuerySphere:
		if args.Radius < 0 || math.IsNaN(args.Radius) {
			return uuid.Nil, &ParameterError{Name: "radius", Reason: "must not be negative"}
		}
		q = query.New(e.scene, condition.Sphere(args.Center, args.Radius), opts...)
	case QueryFrustum:
		if args.Frustum == nil {
			return uuid.Nil, &ParameterError{Name: "frustum", Reason: "missing"}
		}
		q = query.NewFrustum(e.scene, args.Frustum, opts...)
	case QueryChannelRange:
		ch, err := e.channel(args.Channel)
		if err != nil {
			return uuid.Nil, err
		}
		if args.Min > args.Max {
			return uuid.Nil, &ParameterError{Name: "range", Reason: fmt.Sprintf("min %v above max %v", args.Min, args.Max)}
		}
		q = query.New(e.scene, condition.InRange(ch, args.Min, args.Max), opts...)
	case QueryAnalyticalBox:
		if args.Box.IsEmpty() {
			return uuid.Nil, &ParameterError{Name: "box", Reason: "empty box"}
		}
		q = query.NewAnalytical(e.scene, condition.Box(args.Box), opts...)
	default:
		return uuid.Nil, &ParameterError{Name: "name", Reason: fmt.Sprintf("unknown query %q", name)}
	}

	h := uuid.New()
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return uuid.Nil, ErrClosed
	}
	e.queries[h] = q
	e.opts.logger.WithQuery(h, name).Debug("query created")
	return h, nil
}

// CreateKNNQuery creates a query for the k nearest points of each vertex.
// It is run with RunKNNQuery.
func (e *Engine) CreateKNNQuery(vertices []r3.Vector, k int) (Handle, error) {
	if k <= 0 {
		return uuid.Nil, translateError(knn.ErrInvalidK)
	}
	kq := &knnQuery{
		vertices: append([]r3.Vector(nil), vertices...),
		k:        k,
		lod:      1,
		layers:   index.LayerBits,
	}

	h := uuid.New()
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return uuid.Nil, ErrClosed
	}
	e.knns[h] = kq
	e.opts.logger.WithQuery(h, kindKNN).Debug("query created", "vertices", len(vertices), "k", k)
	return h, nil
}

func (e *Engine) query(h Handle) (*query.Query, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, ErrClosed
	}
	q, ok := e.queries[h]
	if !ok {
		return nil, &HandleError{Kind: "query", Handle: h}
	}
	return q, nil
}

func (e *Engine) knnQuery(h Handle) (*knnQuery, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, ErrClosed
	}
	kq, ok := e.knns[h]
	if !ok {
		return nil, &HandleError{Kind: "knn query", Handle: h}
	}
	return kq, nil
}

// lookup resolves h to a query or a nearest neighbour query.
func (e *Engine) lookup(h Handle) (*query.Query, *knnQuery, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, nil, ErrClosed
	}
	if q, ok := e.queries[h]; ok {
		return q, nil, nil
	}
	if kq, ok := e.knns[h]; ok {
		return nil, kq, nil
	}
	return nil, nil, &HandleError{Kind: "query", Handle: h}
}

// DeleteQuery releases the query h.
func (e *Engine) DeleteQuery(h Handle) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	q, ok := e.queries[h]
	delete(e.queries, h)
	_, isKNN := e.knns[h]
	delete(e.knns, h)
	e.mu.Unlock()

	if q != nil {
		return q.Close()
	}
	if !ok && !isKNN {
		return &HandleError{Kind: "query", Handle: h}
	}
	return nil
}

// SetDensity sets the density of query h and resets it. Nearest neighbour
// queries accept density.Full only, with coeff the LOD amount they search.
func (e *Engine) SetDensity(h Handle, t density.Type, coeff float64) error {
	q, kq, err := e.lookup(h)
	if err != nil {
		return err
	}
	if kq != nil {
		if t != density.Full || !(coeff > 0 && coeff <= 1) {
			return &ParameterError{Name: "density", Reason: fmt.Sprintf("knn queries need full density in (0, 1], got %s %v", t, coeff)}
		}
		kq.mu.Lock()
		kq.lod, kq.done, kq.last = coeff, false, nil
		kq.mu.Unlock()
		return nil
	}
	return translateError(q.SetDensity(t, coeff))
}

// SetScope restricts query h to the given clouds and resets it. No IDs means
// every cloud. An ID that is not in the scene leaves the query unchanged and
// returns a *ScopeError.
func (e *Engine) SetScope(h Handle, clouds ...uint32) error {
	q, kq, err := e.lookup(h)
	if err != nil {
		return err
	}
	if err := e.checkScope(clouds); err != nil {
		return err
	}
	if kq != nil {
		kq.mu.Lock()
		kq.scope, kq.done, kq.last = append([]uint32(nil), clouds...), false, nil
		kq.mu.Unlock()
		return nil
	}
	q.SetScope(clouds...)
	return nil
}

func (e *Engine) checkScope(clouds []uint32) error {
	if len(clouds) == 0 {
		return nil
	}
	known := roaring.New()
	for _, r := range e.scene.Roots() {
		known.Add(r.CloudID())
	}
	for _, id := range clouds {
		if !known.Contains(id) {
			return &ScopeError{Cloud: id}
		}
	}
	return nil
}

// SetLayers restricts query h to the layers of mask and resets it. Zero
// means every layer.
func (e *Engine) SetLayers(h Handle, mask uint8) error {
	q, kq, err := e.lookup(h)
	if err != nil {
		return err
	}
	if kq != nil {
		if mask == 0 {
			mask = index.LayerBits
		}
		kq.mu.Lock()
		kq.layers, kq.done, kq.last = mask, false, nil
		kq.mu.Unlock()
		return nil
	}
	q.SetLayers(mask)
	return nil
}

// SetRGBMode sets the colour query h writes to the RGB buffer.
func (e *Engine) SetRGBMode(h Handle, m query.RGBMode) error {
	q, err := e.query(h)
	if err != nil {
		return err
	}
	q.SetRGBMode(m)
	return nil
}

// ResetQuery restarts query h from its first point.
func (e *Engine) ResetQuery(h Handle) error {
	q, kq, err := e.lookup(h)
	if err != nil {
		return err
	}
	if kq != nil {
		kq.mu.Lock()
		kq.done, kq.last = false, nil
		kq.mu.Unlock()
		return nil
	}
	q.Reset()
	return nil
}

// RunQuery copies up to size points of query h into buf. It returns zero
// once the query is exhausted and -1 when the spatial sampling grid cannot
// be allocated.
func (e *Engine) RunQuery(ctx context.Context, h Handle, size int, buf *query.Buffers) (int, error) {
	return e.run(ctx, h, func(q *query.Query) (int, error) {
		return q.Run(ctx, size, buf)
	})
}

// RunDetailedQuery is RunQuery that also copies user channels. channels and
// data pair each channel handle with its destination, Stride() bytes per
// point.
func (e *Engine) RunDetailedQuery(ctx context.Context, h Handle, size int, buf *query.Buffers, channels []Handle, data [][]byte) (int, error) {
	if len(channels) != len(data) {
		return 0, &ParameterError{Name: "channels", Reason: fmt.Sprintf("%d handles for %d buffers", len(channels), len(data))}
	}
	cbs := make([]query.ChannelBuffer, len(channels))
	for i, ch := range channels {
		uc, err := e.channel(ch)
		if err != nil {
			return 0, err
		}
		cbs[i] = query.ChannelBuffer{Channel: uc, Data: data[i]}
	}
	return e.run(ctx, h, func(q *query.Query) (int, error) {
		return q.RunDetailed(ctx, size, buf, cbs)
	})
}

func (e *Engine) run(ctx context.Context, h Handle, fn func(*query.Query) (int, error)) (int, error) {
	q, err := e.query(h)
	if err != nil {
		return 0, err
	}

	start := time.Now()
	n, err := fn(q)
	err = translateError(err)
	e.opts.metricsCollector.RecordQuery(q.Kind().String(), n, time.Since(start), err)
	e.opts.logger.LogRun(ctx, h, n, err)
	if err == nil {
		if last := q.Last(); last.Deferred > 0 || last.Failed > 0 {
			e.opts.metricsCollector.RecordFetch(last.Deferred, last.Failed)
		}
	}
	return n, err
}

// RunKNNQuery writes the neighbours of every vertex of query h, nearest
// first. geometry holds one buffer per vertex with room for bufferSize
// points; resultSizes receives the number written to each. It returns the
// number of result sets, zero once the query has run.
func (e *Engine) RunKNNQuery(ctx context.Context, h Handle, bufferSize int, resultSizes []int, geometry [][]float64) (int, error) {
	bufs := make([]*query.Buffers, len(geometry))
	for i, g := range geometry {
		bufs[i] = &query.Buffers{Geometry: g}
	}
	return e.RunDetailedKNNQuery(ctx, h, bufferSize, resultSizes, bufs)
}

// RunDetailedKNNQuery is RunKNNQuery with one set of buffers per vertex.
// Besides geometry it fills RGB (the stored colour), intensity,
// classification, layers and user channels.
func (e *Engine) RunDetailedKNNQuery(ctx context.Context, h Handle, bufferSize int, resultSizes []int, bufs []*query.Buffers) (int, error) {
	kq, err := e.knnQuery(h)
	if err != nil {
		return 0, err
	}
	if bufferSize <= 0 {
		return 0, &ParameterError{Name: "bufferSize", Reason: "must be positive"}
	}
	n := len(kq.vertices)
	if len(resultSizes) < n || len(bufs) < n {
		return 0, &ParameterError{Name: "buffers", Reason: fmt.Sprintf("need %d result sets", n)}
	}
	for i := 0; i < n; i++ {
		if err := bufs[i].Validate(bufferSize); err != nil {
			return 0, &ParameterError{Name: "buffers", Reason: fmt.Sprintf("result set %d: %v", i, err), cause: err}
		}
	}

	kq.mu.Lock()
	defer kq.mu.Unlock()
	if kq.done {
		return 0, nil
	}

	knnOpts := []knn.Option{
		knn.WithLOD(kq.lod),
		knn.WithLayers(kq.layers),
		knn.WithScope(kq.scope...),
		knn.WithCoordSpace(e.opts.space),
		knn.WithStream(e.opts.stream),
		knn.WithPager(e.opts.pager),
		knn.WithLogger(e.opts.logger.Logger),
	}
	if e.opts.coherence >= 0 {
		knnOpts = append(knnOpts, knn.WithCoherence(e.opts.coherence))
	}
	s := knn.New(e.scene, knnOpts...)

	start := time.Now()
	res, err := s.Search(ctx, kq.vertices, kq.k)
	err = translateError(err)
	e.opts.metricsCollector.RecordKNN(n, kq.k, time.Since(start), err)
	e.opts.logger.LogKNN(ctx, h, n, kq.k, err)
	if err != nil {
		return 0, err
	}
	if res.Failed > 0 {
		e.opts.metricsCollector.RecordFetch(res.Volumes, res.Failed)
	}

	for i, found := range res.Neighbours {
		m := min(len(found), bufferSize)
		for j, nb := range found[:m] {
			var v index.Voxel
			if len(bufs[i].Channels) > 0 {
				v, _ = e.scene.Voxel(nb.Voxel)
			}
			bufs[i].Put(j, query.Point{
				Pos:            nb.Pos,
				RGB:            nb.RGB,
				Intensity:      nb.Intensity,
				Classification: nb.Classification,
				Filter:         nb.Filter,
			}, v, nb.Index)
		}
		resultSizes[i] = m
	}
	kq.done, kq.last = true, res
	return n, nil
}

// SelectQueryPoints sets (on) or clears the selection of every point query h
// accepts and returns their number.
func (e *Engine) SelectQueryPoints(ctx context.Context, h Handle, on bool) (int, error) {
	q, err := e.query(h)
	if err != nil {
		return 0, err
	}

	start := time.Now()
	n, err := q.Select(ctx, on)
	err = translateError(err)
	e.opts.metricsCollector.RecordSelect(n, time.Since(start), err)
	e.opts.logger.LogSelect(ctx, h, on, n, err)
	return n, err
}

// ComputeNumPointsInQuery returns the number of points query h accepts at
// full density.
func (e *Engine) ComputeNumPointsInQuery(ctx context.Context, h Handle) (int64, error) {
	q, err := e.query(h)
	if err != nil {
		return 0, err
	}
	n, err := q.ComputeNumPoints(ctx)
	return n, translateError(err)
}

// SubmitChannelUpdate writes data into channel ch for the points the last
// RunQuery of query h returned, in order.
func (e *Engine) SubmitChannelUpdate(h Handle, ch Handle, data []byte) (int, error) {
	q, err := e.query(h)
	if err != nil {
		return 0, err
	}
	uc, err := e.channel(ch)
	if err != nil {
		return 0, err
	}
	n, err := q.SubmitChannelUpdate(uc, data)
	return n, translateError(err)
}

// CreateUserChannel creates an empty user channel with stride bytes per
// point and returns its handle.
func (e *Engine) CreateUserChannel(name string, stride int) (Handle, error) {
	if stride <= 0 {
		return uuid.Nil, &ParameterError{Name: "stride", Reason: "must be positive"}
	}
	return e.RegisterChannel(octree.NewUserChannel(name, stride))
}

// RegisterChannel adds an existing user channel and returns its handle.
func (e *Engine) RegisterChannel(ch index.UserChannel) (Handle, error) {
	if ch == nil {
		return uuid.Nil, &ParameterError{Name: "channel", Reason: "missing"}
	}
	h := uuid.New()
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return uuid.Nil, ErrClosed
	}
	e.channels[h] = ch
	return h, nil
}

// Channel returns the user channel registered under h.
func (e *Engine) Channel(h Handle) (index.UserChannel, error) {
	return e.channel(h)
}

func (e *Engine) channel(h Handle) (index.UserChannel, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, ErrClosed
	}
	ch, ok := e.channels[h]
	if !ok {
		return nil, &HandleError{Kind: "channel", Handle: h}
	}
	return ch, nil
}

// DeleteChannel forgets the user channel h. Queries created from it keep
// working.
func (e *Engine) DeleteChannel(h Handle) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	if _, ok := e.channels[h]; !ok {
		return &HandleError{Kind: "channel", Handle: h}
	}
	delete(e.channels, h)
	return nil
}

// Pick is the point found by PickNearest.
type Pick struct {
	Pos r3.Vector
	// T is the distance along the ray, Dist2 the squared distance to it.
	T     float64
	Dist2 float64
}

const pickBatch = 1024

// PickNearest returns the first point along ray within tolerance of it,
// among the points currently resident. Busy voxels are skipped so the call
// never waits for a concurrent load. ok is false when nothing is hit.
func (e *Engine) PickNearest(ctx context.Context, ray geom.Ray, tolerance float64) (pick Pick, ok bool, err error) {
	if tolerance < 0 || math.IsNaN(tolerance) {
		return Pick{}, false, &ParameterError{Name: "tolerance", Reason: "must not be negative"}
	}
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return Pick{}, false, ErrClosed
	}

	q := query.New(e.scene, condition.NearRay(ray, tolerance), append(e.queryOptions(), query.WithTryLock(true))...)
	defer q.Close()
	if err := q.SetDensity(density.View, 1); err != nil {
		return Pick{}, false, translateError(err)
	}

	buf := &query.Buffers{Geometry: make([]float64, 3*pickBatch)}
	for {
		n, err := q.Run(ctx, pickBatch, buf)
		if err != nil {
			return Pick{}, false, translateError(err)
		}
		if n == 0 {
			break
		}
		for i := 0; i < n; i++ {
			p := r3.Vector{X: buf.Geometry[3*i], Y: buf.Geometry[3*i+1], Z: buf.Geometry[3*i+2]}
			t, d2 := ray.Project(p)
			if !ok || t < pick.T {
				pick, ok = Pick{Pos: p, T: t, Dist2: d2}, true
			}
		}
	}
	return pick, ok, nil
}

// Close deletes every query and channel. Further calls return ErrClosed.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	queries := e.queries
	e.queries = nil
	e.knns = nil
	e.channels = nil
	e.mu.Unlock()

	for _, q := range queries {
		_ = q.Close()
	}
	return nil
}
