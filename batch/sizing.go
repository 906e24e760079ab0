package batch

import (
	"runtime"
	"strings"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

// hostProbe reports logical CPUs and total memory in bytes. Zero means
// unknown.
type hostProbe func() (cpus int, totalMem uint64)

func gopsutilProbe() (int, uint64) {
	cpus, err := cpu.Counts(true)
	if err != nil || cpus <= 0 {
		cpus = runtime.NumCPU()
	}
	var total uint64
	if vm, err := mem.VirtualMemory(); err == nil {
		total = vm.Total
	}
	return cpus, total
}

// PoolSize picks the worker count. An explicit concurrency wins;
// otherwise the host parallelism is scaled by the nice level and capped
// on small-memory hosts, since every worker holds a compiler process.
func PoolSize(concurrency int, niceLevel string) int {
	return poolSize(concurrency, niceLevel, gopsutilProbe)
}

func poolSize(concurrency int, niceLevel string, probe hostProbe) int {
	if concurrency > 0 {
		return concurrency
	}
	cpus, totalMem := probe()
	if cpus <= 0 {
		cpus = 1
	}
	size := cpus
	switch strings.ToLower(niceLevel) {
	case "low":
		size = 1
	case "medium":
		size = max(1, cpus/2)
	}
	const gib = 1024 * 1024 * 1024
	switch {
	case totalMem == 0:
	case totalMem <= 4*gib:
		size = min(size, 2)
	case totalMem <= 8*gib:
		size = min(size, 4)
	}
	return size
}
