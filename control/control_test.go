package control_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/momentics/hioload-rpc/api"
	"github.com/momentics/hioload-rpc/control"
)

func TestCountersConcurrent(t *testing.T) {
	mr := control.NewMetricsRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := mr.Counter("accepted")
			for j := 0; j < 1000; j++ {
				c.Inc()
			}
		}()
	}
	wg.Wait()
	mr.Counter("closed").Add(3)
	snap := mr.Snapshot()
	if snap["accepted"] != 8000 || snap["closed"] != 3 {
		t.Fatalf("snapshot = %v", snap)
	}
	if names := mr.Names(); len(names) != 2 || names[0] != "accepted" {
		t.Fatalf("names = %v", names)
	}
}

func TestProbes(t *testing.T) {
	dp := control.NewDebugProbes()
	control.RegisterPlatformProbes(dp)
	dp.RegisterProbe("workers", func() any { return 4 })
	state := dp.DumpState()
	if state["workers"] != 4 {
		t.Fatalf("workers probe = %v", state["workers"])
	}
	if n, ok := state["platform.cpus"].(int); !ok || n < 1 {
		t.Fatalf("cpus probe = %v", state["platform.cpus"])
	}
}

func TestProbeRegistration(t *testing.T) {
	dp := control.NewDebugProbes()
	if err := dp.AddProbe("b", func() any { return 1 }); err != nil {
		t.Fatalf("AddProbe: %v", err)
	}
	if err := dp.AddProbe("b", func() any { return 2 }); !errors.Is(err, api.ErrAlreadyExists) {
		t.Fatalf("duplicate AddProbe err = %v", err)
	}
	dp.RegisterProbe("a", func() any { panic("boom") })
	// a probe may register others while the state is dumped
	dp.RegisterProbe("c", func() any {
		dp.RegisterProbe("late", func() any { return 0 })
		return "ok"
	})
	state := dp.DumpState()
	if state["b"] != 1 || state["c"] != "ok" {
		t.Fatalf("state = %v", state)
	}
	if s, ok := state["a"].(string); !ok || s != "probe failed: boom" {
		t.Fatalf("panicking probe = %v", state["a"])
	}
	if names := dp.Names(); len(names) != 4 || names[0] != "a" || names[3] != "late" {
		t.Fatalf("names = %v", names)
	}
}
