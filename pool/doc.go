// Package pool
// Author: momentics <momentics@gmail.com>
//
// Memory layer for hioload-rpc: the slot table workers index connections and
// tasks by, and recycled byte buffers for transport reads.
package pool
