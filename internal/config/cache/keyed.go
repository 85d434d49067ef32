package cache

import "sync"

// Keyed is a family of cells sharing one policy and clock, addressed by
// key. Cells are created on first use, up to the WithMaxKeys bound.
type Keyed[T any] struct {
	policy  Policy
	opts    []Option
	maxKeys int

	mu    sync.Mutex
	cells map[string]*Cell[T]
}

// NewKeyed creates an empty keyed cache.
func NewKeyed[T any](policy Policy, opts ...Option) *Keyed[T] {
	return &Keyed[T]{
		policy:  policy,
		opts:    opts,
		maxKeys: buildOptions(opts).maxKeys,
		cells:   make(map[string]*Cell[T]),
	}
}

// Cell returns the cell for key, creating it if needed. It returns nil
// when key is new and the cache is full.
func (k *Keyed[T]) Cell(key string) *Cell[T] {
	k.mu.Lock()
	defer k.mu.Unlock()

	c, ok := k.cells[key]
	if !ok {
		if k.maxKeys > 0 && len(k.cells) >= k.maxKeys {
			return nil
		}
		c = New[T](k.policy, k.opts...)
		k.cells[key] = c
	}
	return c
}

// Get returns the value cached under key, loading it if needed. Keys
// that do not fit in a full cache are loaded without caching.
func (k *Keyed[T]) Get(key string, load func() (T, error)) (T, error) {
	c := k.Cell(key)
	if c == nil {
		return load()
	}
	return c.Get(load)
}

// Len returns the number of cells created so far.
func (k *Keyed[T]) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.cells)
}

// Invalidate drops every stored value. Existing cells are invalidated
// rather than discarded so in-flight loads cannot publish.
func (k *Keyed[T]) Invalidate() {
	k.mu.Lock()
	cells := make([]*Cell[T], 0, len(k.cells))
	for _, c := range k.cells {
		cells = append(cells, c)
	}
	k.mu.Unlock()

	for _, c := range cells {
		c.Invalidate()
	}
}
