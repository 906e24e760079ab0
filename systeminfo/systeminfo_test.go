package systeminfo

import (
	"context"
	"errors"
	"runtime"
	"testing"

	"flatbatch/logger"

	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
)

func init() {
	logger.Init("error")
}

func TestGather(t *testing.T) {
	h := Gather(context.Background())
	if h.OS == "" || h.Arch == "" {
		t.Fatalf("expected os and arch, got %+v", h)
	}
	if h.CPUs <= 0 {
		t.Fatalf("expected a positive CPU count, got %d", h.CPUs)
	}
}

func TestGatherFallsBackToRuntime(t *testing.T) {
	oldHost, oldCPU, oldMem := hostInfo, cpuCounts, virtualMemory
	t.Cleanup(func() { hostInfo, cpuCounts, virtualMemory = oldHost, oldCPU, oldMem })

	probeErr := errors.New("probe failed")
	hostInfo = func(context.Context) (*host.InfoStat, error) { return nil, probeErr }
	cpuCounts = func(context.Context, bool) (int, error) { return 0, probeErr }
	virtualMemory = func(context.Context) (*mem.VirtualMemoryStat, error) { return nil, probeErr }

	h := Gather(context.Background())
	want := Host{OS: runtime.GOOS, Arch: runtime.GOARCH, CPUs: runtime.NumCPU()}
	if h != want {
		t.Fatalf("expected runtime fallback %+v, got %+v", want, h)
	}
}

func TestGatherUsesProbes(t *testing.T) {
	oldHost, oldCPU, oldMem := hostInfo, cpuCounts, virtualMemory
	t.Cleanup(func() { hostInfo, cpuCounts, virtualMemory = oldHost, oldCPU, oldMem })

	hostInfo = func(context.Context) (*host.InfoStat, error) {
		return &host.InfoStat{OS: "linux", Platform: "debian", PlatformVersion: "12", KernelVersion: "6.1.0", KernelArch: "x86_64"}, nil
	}
	cpuCounts = func(context.Context, bool) (int, error) { return 6, nil }
	virtualMemory = func(context.Context) (*mem.VirtualMemoryStat, error) {
		return &mem.VirtualMemoryStat{Total: 8 << 30}, nil
	}

	h := Gather(context.Background())
	want := Host{
		OS:              "linux",
		Platform:        "debian",
		PlatformVersion: "12",
		KernelVersion:   "6.1.0",
		Arch:            "x86_64",
		CPUs:            6,
		TotalMemory:     8 << 30,
	}
	if h != want {
		t.Fatalf("unexpected host %+v", h)
	}
}
