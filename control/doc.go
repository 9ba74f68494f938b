// Package control
// Author: momentics <momentics@gmail.com>
//
// Runtime counters and debug probes shared by the server workers.
// Counters are lock-free; probes are evaluated on demand.
package control
