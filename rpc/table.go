// File: rpc/table.go
// Author: momentics <momentics@gmail.com>
//
// Immutable procedure registry. Built once at startup and then shared
// read-only by every worker.

package rpc

import (
	"fmt"

	"github.com/momentics/hioload-rpc/api"
)

// ProcedureEntry binds a procedure id to its implementation.
type ProcedureEntry struct {
	Name string
	Proc Procedure
	// Streaming procedures are invoked on the first packet of a stream and
	// fed the rest; others see the whole request at once.
	Streaming bool
}

// Interface is an ordered table of procedures.
type Interface struct {
	Name       string
	Procedures []ProcedureEntry
}

// Procedure returns entry id, bounds-checked.
func (i *Interface) Procedure(id uint16) (*ProcedureEntry, error) {
	if int(id) >= len(i.Procedures) {
		return nil, fmt.Errorf("procedure %d of interface %q: %w", id, i.Name, ErrOutOfRange)
	}
	return &i.Procedures[id], nil
}

// Environment maps local interface handles to global interface indexes.
type Environment struct {
	Name       string
	Interfaces []uint32
}

// Interface returns the global index of local handle h, bounds-checked.
func (e *Environment) Interface(h uint16) (uint32, error) {
	if int(h) >= len(e.Interfaces) {
		return 0, fmt.Errorf("interface %d of environment %q: %w", h, e.Name, ErrOutOfRange)
	}
	return e.Interfaces[h], nil
}

// ProcedureTable is the global registry of interfaces and environments.
type ProcedureTable struct {
	interfaces   []Interface
	environments []Environment
}

// NewProcedureTable copies ifaces and envs into a table and validates every
// cross reference.
func NewProcedureTable(ifaces []Interface, envs []Environment) (*ProcedureTable, error) {
	t := &ProcedureTable{
		interfaces:   make([]Interface, len(ifaces)),
		environments: make([]Environment, len(envs)),
	}
	for i, in := range ifaces {
		procs := append([]ProcedureEntry(nil), in.Procedures...)
		for j, p := range procs {
			if p.Proc == nil {
				return nil, api.NewError(api.ErrCodeInvalidArgument, "nil procedure").
					WithContext("interface", in.Name).WithContext("procedure", j)
			}
		}
		t.interfaces[i] = Interface{Name: in.Name, Procedures: procs}
	}
	for i, e := range envs {
		refs := append([]uint32(nil), e.Interfaces...)
		for _, r := range refs {
			if int(r) >= len(ifaces) {
				return nil, api.NewError(api.ErrCodeInvalidArgument, "environment references unknown interface").
					WithContext("environment", e.Name).WithContext("interface", r)
			}
		}
		t.environments[i] = Environment{Name: e.Name, Interfaces: refs}
	}
	return t, nil
}

func (t *ProcedureTable) NumInterfaces() int   { return len(t.interfaces) }
func (t *ProcedureTable) NumEnvironments() int { return len(t.environments) }

// Interface returns global interface i, bounds-checked.
func (t *ProcedureTable) Interface(i uint32) (*Interface, error) {
	if uint64(i) >= uint64(len(t.interfaces)) {
		return nil, fmt.Errorf("interface index %d: %w", i, ErrOutOfRange)
	}
	return &t.interfaces[i], nil
}

// Environment returns global environment i, bounds-checked.
func (t *ProcedureTable) Environment(i uint32) (*Environment, error) {
	if uint64(i) >= uint64(len(t.environments)) {
		return nil, fmt.Errorf("environment index %d: %w", i, ErrOutOfRange)
	}
	return &t.environments[i], nil
}

// Resolve walks permitted[h.Env] -> environment -> interface -> procedure.
// Only procedures reachable from the caller's own environments resolve.
func (t *ProcedureTable) Resolve(permitted []uint32, h Header) (*Environment, *ProcedureEntry, error) {
	if int(h.Env) >= len(permitted) {
		return nil, nil, fmt.Errorf("environment handle %d: %w", h.Env, ErrOutOfRange)
	}
	env, err := t.Environment(permitted[h.Env])
	if err != nil {
		return nil, nil, err
	}
	gi, err := env.Interface(h.Iface)
	if err != nil {
		return nil, nil, err
	}
	iface, err := t.Interface(gi)
	if err != nil {
		return nil, nil, err
	}
	entry, err := iface.Procedure(h.Proc)
	if err != nil {
		return nil, nil, err
	}
	return env, entry, nil
}
