// File: procs/table.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package procs

import "github.com/momentics/hioload-rpc/rpc"

// Global interface indexes of the default table.
const (
	IfaceCore uint32 = iota
	IfaceBlob
	IfaceTxn
)

// Procedure ids inside their interfaces.
const (
	ProcEcho uint16 = iota
	ProcNop
	ProcSum
)

const (
	ProcBlobPut uint16 = iota
	ProcBlobGet
	ProcBlobDelete
)

const ProcTxnAdd uint16 = 0

// Global environment indexes of the default table.
const (
	EnvFull uint32 = iota
	EnvPublic
)

// DefaultTable builds the table served by rpcserver. The full environment
// exposes every interface; the public one only core.
func DefaultTable() (*rpc.ProcedureTable, error) {
	ifaces := []rpc.Interface{
		IfaceCore: {Name: "core", Procedures: []rpc.ProcedureEntry{
			ProcEcho: {Name: "echo", Proc: Echo},
			ProcNop:  {Name: "nop", Proc: Nop},
			ProcSum:  {Name: "sum", Proc: Sum, Streaming: true},
		}},
		IfaceBlob: {Name: "blob", Procedures: []rpc.ProcedureEntry{
			ProcBlobPut:    {Name: "put", Proc: BlobPut},
			ProcBlobGet:    {Name: "get", Proc: BlobGet},
			ProcBlobDelete: {Name: "delete", Proc: BlobDelete},
		}},
		IfaceTxn: {Name: "txn", Procedures: []rpc.ProcedureEntry{
			ProcTxnAdd: {Name: "add", Proc: TxnAdd},
		}},
	}
	envs := []rpc.Environment{
		EnvFull:   {Name: "full", Interfaces: []uint32{IfaceCore, IfaceBlob, IfaceTxn}},
		EnvPublic: {Name: "public", Interfaces: []uint32{IfaceCore}},
	}
	return rpc.NewProcedureTable(ifaces, envs)
}
