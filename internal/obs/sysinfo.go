package obs

import (
	"fmt"
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
)

// SystemInfo is the metadata attached to every outgoing telemetry message
// so the broker's consumers can tell which gateway process emitted it.
type SystemInfo struct {
	Hostname string
	OS       string
	Arch     string
}

// GetSystemInfo gathers the host identity used to tag telemetry.
func GetSystemInfo() SystemInfo {
	info := SystemInfo{Arch: runtime.GOARCH}
	if hostname, err := os.Hostname(); err == nil {
		info.Hostname = hostname
	}
	if hostInfo, err := host.Info(); err == nil {
		info.OS = fmt.Sprintf("%s %s", hostInfo.Platform, hostInfo.PlatformVersion)
	}
	return info
}

// DiskUsage is the result of a disk space check against a path.
type DiskUsage struct {
	TotalGB     uint64
	FreeGB      uint64
	UsedPercent float64
}

// GetDiskUsage reports disk usage for path, used both at boot and
// periodically by the health Manager. A full disk is reported through
// threshold alerts; it does not stop the gateway from starting.
func GetDiskUsage(path string) (DiskUsage, error) {
	usage, err := disk.Usage(path)
	if err != nil {
		return DiskUsage{}, fmt.Errorf("obs: disk usage for %s: %w", path, err)
	}
	return DiskUsage{
		TotalGB:     usage.Total / (1024 * 1024 * 1024),
		FreeGB:      usage.Free / (1024 * 1024 * 1024),
		UsedPercent: usage.UsedPercent,
	}, nil
}
