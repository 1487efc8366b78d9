package streamsplit

import "iter"

type slot[K comparable, V any] struct {
	key  K
	val  V
	used bool
}

// slotTable is a fixed-capacity map that keeps insertion slots stable, so
// iteration order is the slot order. It never grows.
type slotTable[K comparable, V any] struct {
	slots []slot[K, V]
	n     int
}

func newSlotTable[K comparable, V any](capacity int) *slotTable[K, V] {
	return &slotTable[K, V]{slots: make([]slot[K, V], capacity)}
}

func (t *slotTable[K, V]) Len() int { return t.n }
func (t *slotTable[K, V]) Cap() int { return len(t.slots) }

func (t *slotTable[K, V]) Full() bool { return t.n == len(t.slots) }

// Get returns the value stored under key.
func (t *slotTable[K, V]) Get(key K) (V, bool) {
	if i := t.index(key); i >= 0 {
		return t.slots[i].val, true
	}
	var zero V
	return zero, false
}

// Insert stores val under key, replacing any existing value. It returns
// ErrCapacityExceeded when key is new and every slot is taken.
func (t *slotTable[K, V]) Insert(key K, val V) error {
	if i := t.index(key); i >= 0 {
		t.slots[i].val = val
		return nil
	}
	for i := range t.slots {
		if !t.slots[i].used {
			t.slots[i] = slot[K, V]{key: key, val: val, used: true}
			t.n++
			return nil
		}
	}
	return ErrCapacityExceeded
}

// Remove deletes key and returns its value.
func (t *slotTable[K, V]) Remove(key K) (V, bool) {
	i := t.index(key)
	if i < 0 {
		var zero V
		return zero, false
	}
	val := t.slots[i].val
	t.slots[i] = slot[K, V]{}
	t.n--
	return val, true
}

// All yields the stored entries in slot order.
func (t *slotTable[K, V]) All() iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		for i := range t.slots {
			if t.slots[i].used && !yield(t.slots[i].key, t.slots[i].val) {
				return
			}
		}
	}
}

// Clear empties the table, keeping its capacity.
func (t *slotTable[K, V]) Clear() {
	clear(t.slots)
	t.n = 0
}

func (t *slotTable[K, V]) index(key K) int {
	for i := range t.slots {
		if t.slots[i].used && t.slots[i].key == key {
			return i
		}
	}
	return -1
}
