// Package systeminfo describes the host a batch ran on, for the report
// header.
package systeminfo

import (
	"context"
	"runtime"

	"flatbatch/logger"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
)

// Host omits the hostname and host ID so reports can be shared.
type Host struct {
	OS              string `json:"os"`
	Platform        string `json:"platform,omitempty"`
	PlatformVersion string `json:"platform_version,omitempty"`
	KernelVersion   string `json:"kernel_version,omitempty"`
	Arch            string `json:"arch"`
	CPUs            int    `json:"cpus"`
	TotalMemory     uint64 `json:"total_memory,omitempty"`
}

var (
	hostInfo      = host.InfoWithContext
	cpuCounts     = cpu.CountsWithContext
	virtualMemory = mem.VirtualMemoryWithContext
)

// Gather never fails: fields that cannot be probed keep the values the Go
// runtime reports.
func Gather(ctx context.Context) Host {
	h := Host{OS: runtime.GOOS, Arch: runtime.GOARCH, CPUs: runtime.NumCPU()}

	if info, err := hostInfo(ctx); err != nil {
		logger.Debugf("Failed to gather host info: %v", err)
	} else {
		if info.OS != "" {
			h.OS = info.OS
		}
		h.Platform = info.Platform
		h.PlatformVersion = info.PlatformVersion
		h.KernelVersion = info.KernelVersion
		if info.KernelArch != "" {
			h.Arch = info.KernelArch
		}
	}

	if n, err := cpuCounts(ctx, true); err != nil {
		logger.Debugf("Failed to count CPUs: %v", err)
	} else if n > 0 {
		h.CPUs = n
	}

	if vm, err := virtualMemory(ctx); err != nil {
		logger.Debugf("Failed to read memory size: %v", err)
	} else {
		h.TotalMemory = vm.Total
	}
	return h
}
