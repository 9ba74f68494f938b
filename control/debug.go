// File: control/debug.go
// Author: momentics <momentics@gmail.com>
//
// Named probes reporting live server state: worker count, bound address,
// procedure table shape and platform limits.

package control

import (
	"fmt"
	"sort"
	"sync"

	"github.com/momentics/hioload-rpc/api"
)

// Probe reports one value. It may run on any goroutine.
type Probe func() any

// DebugProbes is a registry of named probes.
type DebugProbes struct {
	mu     sync.RWMutex
	probes map[string]Probe
}

// NewDebugProbes creates an empty registry.
func NewDebugProbes() *DebugProbes {
	return &DebugProbes{probes: make(map[string]Probe)}
}

// RegisterProbe inserts or replaces the probe called name.
func (dp *DebugProbes) RegisterProbe(name string, fn Probe) {
	dp.mu.Lock()
	dp.probes[name] = fn
	dp.mu.Unlock()
}

// AddProbe is RegisterProbe that refuses to replace an existing probe.
func (dp *DebugProbes) AddProbe(name string, fn Probe) error {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	if _, ok := dp.probes[name]; ok {
		return api.NewError(api.ErrCodeAlreadyExists, "probe already registered").WithContext("probe", name)
	}
	dp.probes[name] = fn
	return nil
}

// Names lists registered probes in sorted order.
func (dp *DebugProbes) Names() []string {
	dp.mu.RLock()
	names := make([]string, 0, len(dp.probes))
	for k := range dp.probes {
		names = append(names, k)
	}
	dp.mu.RUnlock()
	sort.Strings(names)
	return names
}

// DumpState evaluates every probe. Probes run without the registry lock
// held; a probe that panics reports the panic as its value.
func (dp *DebugProbes) DumpState() map[string]any {
	dp.mu.RLock()
	snap := make(map[string]Probe, len(dp.probes))
	for k, fn := range dp.probes {
		snap[k] = fn
	}
	dp.mu.RUnlock()

	out := make(map[string]any, len(snap))
	for k, fn := range snap {
		out[k] = evaluate(fn)
	}
	return out
}

func evaluate(fn Probe) (v any) {
	defer func() {
		if r := recover(); r != nil {
			v = fmt.Sprintf("probe failed: %v", r)
		}
	}()
	return fn()
}
