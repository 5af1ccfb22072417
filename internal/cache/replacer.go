// Package cache implements the tri-queue admission/eviction policy shared
// by the segment descriptor cache and the page buffer cache. It holds no
// values of its own: callers pass in the key they want to admit, and
// Reclaim hands back the key it chose to evict so the caller can drop
// whatever resource that key was backing.
package cache

import "container/list"

// Replacer is a fast/slow/graveyard admission policy for a bounded cache of
// size length, keyed by any comparable K.
//
//   - fast is a FIFO of recently-admitted, unproven keys. A key only earns a
//     place in the LRU-managed slow queue after it is accessed a second time.
//   - graveyard holds keys evicted from fast; it grants them one more chance
//     to prove themselves hot before they're forgotten for good.
//   - slow is an LRU list of keys that have proven themselves worth keeping.
//
// A Replacer is not safe for concurrent use; callers serialize access with
// their own lock (see internal/pstore and internal/engine).
type Replacer[K comparable] struct {
	fastCap      int
	graveyardCap int

	fast      *list.List
	slow      *list.List
	graveyard *list.List

	fastElems      map[K]*list.Element
	slowElems      map[K]*list.Element
	graveyardElems map[K]*list.Element
}

// New creates a Replacer sized for length keys: fastCap = length/4,
// graveyardCap = length/2, as specified for the tri-queue policy.
func New[K comparable](length int) *Replacer[K] {
	return &Replacer[K]{
		fastCap:      length / 4,
		graveyardCap: length / 2,

		fast:      list.New(),
		slow:      list.New(),
		graveyard: list.New(),

		fastElems:      make(map[K]*list.Element),
		slowElems:      make(map[K]*list.Element),
		graveyardElems: make(map[K]*list.Element),
	}
}

// Access records that key was touched. It implements the four admission
// rules: a hit in fast is a no-op, a hit in slow moves the key to the front
// (LRU touch), a hit in graveyard resurrects the key into slow, and
// anything else is admitted fresh into fast.
func (r *Replacer[K]) Access(key K) {
	if _, ok := r.fastElems[key]; ok {
		return
	}

	if elem, ok := r.slowElems[key]; ok {
		r.slow.MoveToFront(elem)
		return
	}

	if _, ok := r.graveyardElems[key]; ok {
		r.slowElems[key] = r.slow.PushFront(key)
		return
	}

	r.fastElems[key] = r.fast.PushFront(key)
}

// Reclaim evicts and returns one key. If fast has grown past its cap, the
// tail of fast is evicted into graveyard (trimming graveyard's own tail if
// that pushes it over cap) and that key is returned. Otherwise the tail of
// slow is popped. Reclaim returns the zero value and false if there is
// nothing left to evict.
func (r *Replacer[K]) Reclaim() (key K, ok bool) {
	if r.fast.Len() > r.fastCap {
		elem := r.fast.Back()
		r.fast.Remove(elem)
		evicted := elem.Value.(K)
		delete(r.fastElems, evicted)

		r.graveyardElems[evicted] = r.graveyard.PushFront(evicted)
		if r.graveyard.Len() > r.graveyardCap {
			tail := r.graveyard.Back()
			r.graveyard.Remove(tail)
			delete(r.graveyardElems, tail.Value.(K))
		}

		return evicted, true
	}

	tail := r.slow.Back()
	if tail == nil {
		var zero K
		return zero, false
	}
	r.slow.Remove(tail)
	evicted := tail.Value.(K)
	delete(r.slowElems, evicted)
	return evicted, true
}
