package daemon

import (
	"context"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"cadence/internal/api"
)

// hostSnapshot reads instantaneous CPU and memory usage. It returns nil when
// the host does not expose either figure.
func hostSnapshot(ctx context.Context) *api.HostStats {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil
	}
	stats := &api.HostStats{MemoryPercent: vm.UsedPercent}
	if percents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percents) > 0 {
		stats.CPUPercent = percents[0]
	}
	return stats
}
