package ffmpeg

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// Thresholds are the minimum free resources required to start an ffmpeg job.
type Thresholds struct {
	// IdleCPU is the percentage of CPU that must be idle.
	IdleCPU  float64
	FreeMem  int64
	FreeDisk int64
	// DiskPath is the filesystem checked for FreeDisk.
	DiskPath string
}

// resourceProbe reads host usage. Tests substitute it.
type resourceProbe struct {
	cpuPercent func() (float64, error)
	availMem   func() (uint64, error)
	freeDisk   func(path string) (uint64, error)
}

var hostProbe = resourceProbe{
	cpuPercent: func() (float64, error) {
		p, err := cpu.Percent(time.Second, false)
		if err != nil {
			return 0, err
		}
		if len(p) == 0 {
			return 0, fmt.Errorf("no cpu samples")
		}
		return p[0], nil
	},
	availMem: func() (uint64, error) {
		vm, err := mem.VirtualMemory()
		if err != nil {
			return 0, err
		}
		return vm.Available, nil
	},
	freeDisk: func(path string) (uint64, error) {
		d, err := disk.Usage(path)
		if err != nil {
			return 0, err
		}
		return d.Free, nil
	},
}

// CheckResources verifies that the system has enough free resources to start a new job.
// Probe failures are logged and do not block the job.
func CheckResources(th Thresholds, log *slog.Logger) error {
	return hostProbe.check(th, log)
}

func (p resourceProbe) check(th Thresholds, log *slog.Logger) error {
	if th.IdleCPU > 0 {
		used, err := p.cpuPercent()
		if err != nil {
			log.Warn("could not get CPU usage", "error", err)
		} else if used > (100.0 - th.IdleCPU) {
			return fmt.Errorf("not enough idle CPU. Current usage: %.2f%%, Idle threshold: %.2f%%", used, th.IdleCPU)
		}
	}

	if th.FreeMem > 0 {
		avail, err := p.availMem()
		if err != nil {
			log.Warn("could not get memory usage", "error", err)
		} else if avail < uint64(th.FreeMem) {
			return fmt.Errorf("not enough free memory. Available: %d, Required: %d", avail, th.FreeMem)
		}
	}

	if th.FreeDisk > 0 && th.DiskPath != "" {
		free, err := p.freeDisk(th.DiskPath)
		if err != nil {
			log.Warn("could not get disk usage", "path", th.DiskPath, "error", err)
		} else if free < uint64(th.FreeDisk) {
			return fmt.Errorf("not enough free disk space. Available: %d, Required: %d", free, th.FreeDisk)
		}
	}
	return nil
}
