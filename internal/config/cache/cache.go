// Package cache provides time-boxed memoization cells for derived
// configuration state.
//
// A Cell holds one value together with the time it was computed. Whether
// the value may be reused is decided by a Policy:
//
//   - caching disabled, or TTL == 0: never reuse, always recompute;
//   - TTL < 0: reuse until explicitly invalidated;
//   - TTL > 0: reuse while now - computedAt < TTL.
//
// Cells are safe for concurrent use. Loads run outside any lock and the
// result is published by swapping an immutable entry pointer. Concurrent
// misses on the same cell collapse into a single load.
package cache

import (
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// Forever is a TTL that keeps values until the cell is invalidated.
const Forever time.Duration = -1

// Policy controls value reuse.
type Policy struct {
	// Enabled turns caching on. When false every Get recomputes.
	Enabled bool

	// TTL is the time to live of a computed value. Negative values mean
	// forever, zero means never reuse.
	TTL time.Duration
}

// Reuses reports whether the policy ever serves a stored value.
func (p Policy) Reuses() bool {
	return p.Enabled && p.TTL != 0
}

// Clock returns the current time.
type Clock func() time.Time

// Option configures a Cell.
type Option func(*options)

type options struct {
	clock   Clock
	maxKeys int
}

// WithClock sets the time source, for tests.
func WithClock(clock Clock) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithMaxKeys bounds the number of cells a Keyed cache creates. Keys
// beyond the bound are loaded on every Get. Cells ignore it.
func WithMaxKeys(n int) Option {
	return func(o *options) {
		o.maxKeys = n
	}
}

func buildOptions(opts []Option) options {
	o := options{clock: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// entry is an immutable computed value.
type entry[T any] struct {
	value      T
	computedAt time.Time
	generation uint64
}

// Cell memoizes a single value.
type Cell[T any] struct {
	policy Policy
	clock  Clock

	current    atomic.Pointer[entry[T]]
	generation atomic.Uint64
	group      singleflight.Group
}

// New creates an empty cell.
func New[T any](policy Policy, opts ...Option) *Cell[T] {
	o := buildOptions(opts)
	return &Cell[T]{policy: policy, clock: o.clock}
}

// Policy returns the cell's policy.
func (c *Cell[T]) Policy() Policy {
	return c.policy
}

// Peek returns the stored value if it is fresh.
func (c *Cell[T]) Peek() (T, bool) {
	e := c.current.Load()
	if e == nil || !c.fresh(e) {
		var zero T
		return zero, false
	}
	return e.value, true
}

// computedAt returns when the stored value was computed, or the zero time.
func (c *Cell[T]) computedAt() time.Time {
	if e := c.current.Load(); e != nil {
		return e.computedAt
	}
	return time.Time{}
}

// Get returns the fresh stored value or calls load to compute a new one.
// A successful load is stored and its timestamp reset. A failed load
// leaves the previous entry untouched.
//
// When the policy never reuses values, load is called on every Get and
// concurrent callers are not collapsed.
func (c *Cell[T]) Get(load func() (T, error)) (T, error) {
	if v, ok := c.Peek(); ok {
		return v, nil
	}

	if !c.policy.Reuses() {
		v, err := load()
		if err == nil {
			c.Store(v)
		}
		return v, err
	}

	gen := c.generation.Load()
	key := strconv.FormatUint(gen, 10)
	v, err, _ := c.group.Do(key, func() (any, error) {
		// Another flight may have finished while this one was queued.
		if e := c.current.Load(); e != nil && e.generation == gen && c.fresh(e) {
			return e.value, nil
		}
		v, err := load()
		if err != nil {
			return v, err
		}
		c.publish(v, gen)
		return v, nil
	})
	if v == nil {
		var zero T
		return zero, err
	}
	return v.(T), err
}

// Store records v as freshly computed.
func (c *Cell[T]) Store(v T) {
	c.publish(v, c.generation.Load())
}

// Invalidate drops the stored value. Loads that started before the call
// do not publish their result.
func (c *Cell[T]) Invalidate() {
	c.generation.Add(1)
	c.current.Store(nil)
}

// publish stores v unless the cell was invalidated after gen was read.
func (c *Cell[T]) publish(v T, gen uint64) {
	e := &entry[T]{value: v, computedAt: c.clock(), generation: gen}
	for {
		if c.generation.Load() != gen {
			return
		}
		old := c.current.Load()
		if c.current.CompareAndSwap(old, e) {
			// An Invalidate may have cleared the pointer between the
			// generation check and the swap; undo if so.
			if c.generation.Load() != gen {
				c.current.CompareAndSwap(e, nil)
			}
			return
		}
	}
}

func (c *Cell[T]) fresh(e *entry[T]) bool {
	if !c.policy.Reuses() {
		return false
	}
	if e.generation != c.generation.Load() {
		return false
	}
	if c.policy.TTL < 0 {
		return true
	}
	return c.clock().Sub(e.computedAt) < c.policy.TTL
}
