// File: affinity/affinity.go
// Author: momentics <momentics@gmail.com>
//
// CPU pinning for worker threads. Callers must hold runtime.LockOSThread.

package affinity

import "runtime"

// SetAffinity pins the calling OS thread to logical CPU cpuID.
func SetAffinity(cpuID int) error {
	return setAffinityPlatform(cpuID)
}

// CPUForWorker spreads workers round-robin over the available CPUs.
func CPUForWorker(worker int) int {
	n := runtime.NumCPU()
	if n <= 0 {
		return 0
	}
	return worker % n
}
