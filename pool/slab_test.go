package pool_test

import (
	"errors"
	"testing"

	"github.com/momentics/hioload-rpc/api"
	"github.com/momentics/hioload-rpc/pool"
)

func TestSlabInsertGetRemove(t *testing.T) {
	s := pool.NewSlab[string](4)
	a, _ := s.Insert("a")
	b, _ := s.Insert("b")
	if a == b {
		t.Fatalf("distinct inserts share slot %d", a)
	}
	if v, err := s.Get(b); err != nil || v != "b" {
		t.Fatalf("Get(%d) = %q, %v", b, v, err)
	}
	if _, err := s.Remove(a); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if s.Len() != 1 {
		t.Fatalf("Len = %d, want 1", s.Len())
	}
	c, _ := s.Insert("c")
	if c != a {
		t.Errorf("freed slot not reused: got %d, want %d", c, a)
	}
}

func TestSlabBoundsChecked(t *testing.T) {
	s := pool.NewSlab[int](0)
	if _, err := s.Get(-1); !errors.Is(err, api.ErrInvalidArgument) {
		t.Errorf("Get(-1) err = %v", err)
	}
	if _, err := s.Get(10); !errors.Is(err, api.ErrInvalidArgument) {
		t.Errorf("Get(10) err = %v", err)
	}
	slot, _ := s.Insert(1)
	s.Remove(slot)
	if _, err := s.Get(slot); !errors.Is(err, api.ErrNotFound) {
		t.Errorf("Get(vacant) err = %v", err)
	}
	if _, err := s.Remove(slot); err == nil {
		t.Error("double Remove succeeded")
	}
}

func TestSlabGenerations(t *testing.T) {
	s := pool.NewSlab[int](1)
	slot, gen := s.Insert(7)
	if _, err := s.GetGen(slot, gen); err != nil {
		t.Fatalf("GetGen: %v", err)
	}
	s.Remove(slot)
	slot2, gen2 := s.Insert(8)
	if slot2 != slot || gen2 == gen {
		t.Fatalf("reuse slot=%d gen=%d, old gen=%d", slot2, gen2, gen)
	}
	if _, err := s.GetGen(slot, gen); err == nil {
		t.Error("stale generation accepted")
	}
}
