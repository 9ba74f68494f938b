// File: pool/slab.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package pool

import (
	"fmt"

	"github.com/momentics/hioload-rpc/api"
)

// Slab is a dense table of values addressed by small integer slots.
// Freed slots are reused LIFO; each slot carries a generation counter that is
// bumped on removal so stale handles can be detected.
// Not safe for concurrent use: a Slab belongs to one worker.
type Slab[T any] struct {
	entries []slabEntry[T]
	free    []int
	live    int
}

type slabEntry[T any] struct {
	value T
	gen   uint32
	used  bool
}

// NewSlab preallocates room for capacity entries.
func NewSlab[T any](capacity int) *Slab[T] {
	return &Slab[T]{entries: make([]slabEntry[T], 0, capacity)}
}

// Insert stores v and returns its slot and generation.
func (s *Slab[T]) Insert(v T) (slot int, gen uint32) {
	if n := len(s.free); n > 0 {
		slot = s.free[n-1]
		s.free = s.free[:n-1]
	} else {
		slot = len(s.entries)
		s.entries = append(s.entries, slabEntry[T]{})
	}
	e := &s.entries[slot]
	e.value = v
	e.used = true
	s.live++
	return slot, e.gen
}

// Get returns the value at slot. Out-of-range and vacant slots are errors.
func (s *Slab[T]) Get(slot int) (T, error) {
	var zero T
	if slot < 0 || slot >= len(s.entries) {
		return zero, fmt.Errorf("slab slot %d out of range [0,%d): %w", slot, len(s.entries), api.ErrInvalidArgument)
	}
	e := &s.entries[slot]
	if !e.used {
		return zero, fmt.Errorf("slab slot %d vacant: %w", slot, api.ErrNotFound)
	}
	return e.value, nil
}

// GetGen is Get plus a generation check.
func (s *Slab[T]) GetGen(slot int, gen uint32) (T, error) {
	v, err := s.Get(slot)
	if err != nil {
		return v, err
	}
	if s.entries[slot].gen != gen {
		var zero T
		return zero, fmt.Errorf("slab slot %d generation %d is stale: %w", slot, gen, api.ErrNotFound)
	}
	return v, nil
}

// Gen returns the current generation of slot, or false if it is vacant.
func (s *Slab[T]) Gen(slot int) (uint32, bool) {
	if slot < 0 || slot >= len(s.entries) || !s.entries[slot].used {
		return 0, false
	}
	return s.entries[slot].gen, true
}

// Remove vacates slot and returns the value it held.
func (s *Slab[T]) Remove(slot int) (T, error) {
	v, err := s.Get(slot)
	if err != nil {
		return v, err
	}
	e := &s.entries[slot]
	var zero T
	e.value = zero
	e.used = false
	e.gen++
	s.free = append(s.free, slot)
	s.live--
	return v, nil
}

// Len is the number of occupied slots.
func (s *Slab[T]) Len() int { return s.live }

// Range calls fn for each occupied slot until fn returns false.
func (s *Slab[T]) Range(fn func(slot int, v T) bool) {
	for i := range s.entries {
		if s.entries[i].used && !fn(i, s.entries[i].value) {
			return
		}
	}
}
