package traverse

import (
	"context"

	"github.com/golang/geo/r3"

	"github.com/hupe1980/pointq/density"
	"github.com/hupe1980/pointq/index"
	"github.com/hupe1980/pointq/pager"
)

type deferredVoxel struct {
	v      index.Voxel
	amount float64
	start  int
	seq    int
}

// reader is the state of one ReadPoints call.
type reader struct {
	ctx  context.Context
	p    Params
	buf  *Buffers
	size int

	in    State
	out   State
	begun bool

	counter   int
	potential int
	deferred  []deferredVoxel

	// seq numbers voxel visits in traversal order; lastSeq is the visit the
	// resumption point belongs to.
	seq     int
	lastSeq int

	stopped bool
	err     error

	trace   []PointID
	nDefer  int
	nFailed int
	nBusy   int
}

// ReadPoints copies up to size points accepted by p.Condition into buf,
// continuing after st. A call that returns fewer than size points is not
// necessarily the last; the scene is exhausted when Result.State.Done is set,
// after which calls return zero points.
//
// A spatial grid failure aborts the call with ErrGridAllocation and returns
// st unchanged, so the call can be retried.
func ReadPoints(ctx context.Context, p Params, buf *Buffers, size int, st State) (Result, error) {
	if err := buf.Validate(size); err != nil {
		return Result{State: st}, err
	}
	if st.Done {
		return Result{State: st}, nil
	}

	r := &reader{
		ctx:   ctx,
		p:     p.withDefaults(),
		buf:   buf,
		size:  size,
		in:    st,
		out:   st,
		begun: !st.Resume,
		trace: make([]PointID, 0, size),
	}
	if r.p.Grid != nil {
		r.p.Grid.mark()
	}

	r.p.Stream.Begin()
	defer r.p.Stream.End()

	for _, root := range r.p.Roots {
		if !r.visitNode(root) {
			break
		}
	}
	if !r.stopped && r.err == nil {
		r.flush()
		if r.err == nil {
			r.out.Done = true
		}
	}

	if r.err != nil {
		if r.p.Grid != nil {
			r.p.Grid.rollback()
		}
		// The resumption point is rewound; the pin may already be released.
		st.Partial, st.PartialLOD = r.out.Partial, r.out.PartialLOD
		r.p.Logger.Error("read points aborted", "points", r.counter, "error", r.err)
		return Result{State: st, Deferred: r.nDefer, Failed: r.nFailed, Busy: r.nBusy}, r.err
	}

	r.p.Logger.Debug("read points", "points", r.counter, "deferred", r.nDefer, "failed", r.nFailed, "done", r.out.Done)
	return Result{
		N:        r.counter,
		State:    r.out,
		Trace:    r.trace,
		Deferred: r.nDefer,
		Failed:   r.nFailed,
		Busy:     r.nBusy,
	}, nil
}

func (r *reader) visitNode(n index.Node) bool {
	whole, ok := check(r.p.Condition, n, r.p.Space)
	if !ok {
		return true
	}
	if n.IsLeaf() {
		if v, ok := n.(index.Voxel); ok {
			return r.visitVoxel(v, whole)
		}
		return true
	}
	for _, i := range r.p.Order(n) {
		if c := n.Child(i); c != nil && !r.visitNode(c) {
			return false
		}
	}
	return true
}

func (r *reader) visitVoxel(v index.Voxel, whole bool) bool {
	if r.counter >= r.size {
		r.stopped = true
		return false
	}

	start := 0
	if !r.begun {
		if v.ID() != r.in.Voxel {
			return true
		}
		r.begun = true
		start = r.in.Point
	}

	if !r.p.lock(v) {
		r.nBusy++
		return true
	}
	r.seq++
	seq := r.seq

	amount, load := density.Prepare(r.p.Density, r.p.Coeff, v)
	pot := max(v.NumPointsAtLOD(amount)-start, 0)
	if pot == 0 {
		r.clearPartial(v)
		v.Unlock()
		return true
	}
	final := r.counter+r.potential+pot >= r.size

	if load && v.Remote() {
		v.Unlock()
		r.deferred = append(r.deferred, deferredVoxel{v: v, amount: amount, start: start, seq: seq})
		r.p.Stream.AddReadVoxel(v, amount)
		r.potential += pot
		if !final {
			return true
		}
		r.flush()
		return r.afterFinal(true)
	}

	flushed := final && len(r.deferred) > 0
	if flushed {
		v.Unlock()
		r.flush()
		if r.err != nil {
			return false
		}
		if !r.p.lock(v) {
			r.nBusy++
			return r.afterFinal(true)
		}
		amount, load = density.Prepare(r.p.Density, r.p.Coeff, v)
	}

	l := pager.NewVoxelLoader(r.ctx, v, amount, load)
	r.emit(v, l, amount, start, whole, seq)
	v.Unlock()

	if final {
		return r.afterFinal(flushed)
	}
	return r.err == nil && !r.stopped
}

// afterFinal decides whether the call ends after its final voxel. A full
// buffer ends it. After a deferred flush it also ends once anything has been
// written, even if the batch fell short of its estimate; a zero count still
// means the scene is exhausted.
func (r *reader) afterFinal(flushed bool) bool {
	if r.err != nil || r.stopped || r.counter >= r.size || (flushed && r.counter > 0) {
		r.stopped = true
		return false
	}
	return true
}

// flush fetches the deferred voxels in one batch and reads them in the order
// they were collected.
func (r *reader) flush() {
	if len(r.deferred) == 0 {
		return
	}
	pending := r.deferred
	r.deferred, r.potential = nil, 0

	failed, err := r.p.Stream.ProcessReads(r.ctx)
	if err != nil {
		r.p.Logger.Warn("deferred voxels failed to load", "voxels", failed.GetCardinality(), "error", err)
	}

	for _, d := range pending {
		r.nDefer++
		if failed.Contains(d.v.ID()) {
			r.nFailed++
			continue
		}
		if r.err != nil {
			continue
		}
		if !r.p.lock(d.v) {
			r.nBusy++
			continue
		}

		whole, ok := check(r.p.Condition, d.v, r.p.Space)
		if !ok {
			pager.Adopt(d.v).Release()
			d.v.Unlock()
			continue
		}

		amount, load := density.Prepare(r.p.Density, r.p.Coeff, d.v)
		l := pager.Adopt(d.v)
		if load {
			l = pager.NewVoxelLoader(r.ctx, d.v, amount, true)
		}
		r.emit(d.v, l, amount, d.start, whole, d.seq)
		d.v.Unlock()
	}
}

// emit copies the accepted points of v from start on. The caller holds the lock.
func (r *reader) emit(v index.Voxel, l *pager.VoxelLoader, amount float64, start int, whole bool, seq int) {
	defer l.Release()

	if err := l.Err(); err != nil {
		r.nFailed++
		r.p.Logger.Warn("voxel load failed", "voxel", v.ID(), "error", err)
		return
	}

	track := seq >= r.lastSeq
	if track {
		r.lastSeq = seq
	}

	partial := false
	v.IteratePoints(r.p.Space, r.p.LayerMask, amount, start, func(i int, pos r3.Vector, f *uint8) bool {
		if r.counter == r.size {
			partial = true
			return false
		}
		pt := index.PointRef{Voxel: v, Index: i, Pos: pos, Filter: f}
		if whole || r.p.Condition.ValidPoint(pt) {
			keep := true
			if r.p.Grid != nil {
				var err error
				if keep, err = r.p.Grid.Insert(pos); err != nil {
					r.err = err
					return false
				}
			}
			if keep {
				r.write(pt)
				r.counter++
			}
		}
		if track {
			r.out.Resume, r.out.Voxel, r.out.Point = true, v.ID(), i+1
		}
		return true
	})
	if r.err != nil {
		return
	}

	if partial {
		r.stopped = true
		l.KeepResident()
		if r.out.Partial != v.ID() {
			r.out = r.out.Release(r.p.Scene)
			lod := v.CurrentLOD()
			if l.Elevated() {
				lod = v.PreviousLOD()
			}
			v.Pin()
			r.out.Partial, r.out.PartialLOD = v.ID(), lod
		}
		return
	}

	if track {
		r.out.Resume, r.out.Voxel, r.out.Point = true, v.ID(), max(v.NumPointsAtLOD(amount), start)
	}
	r.clearPartial(v)
}

// clearPartial unpins v if it is the partially read voxel and restores its
// LOD. The caller holds the lock.
func (r *reader) clearPartial(v index.Voxel) {
	if r.out.Partial != v.ID() {
		return
	}
	v.Unpin()
	if !v.Pinned() && v.Flag(index.FlagOutOfCore) {
		v.UnloadLOD(r.out.PartialLOD)
	}
	r.out.Partial, r.out.PartialLOD = 0, 0
}
