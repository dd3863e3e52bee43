package sink

import (
	"fmt"

	"github.com/shirou/gopsutil/v4/disk"
)

// VolumeUsage describes the storage volume holding a path.
type VolumeUsage struct {
	Path        string  `json:"path"`
	Fstype      string  `json:"fstype"`
	Total       uint64  `json:"total"`
	Free        uint64  `json:"free"`
	Used        uint64  `json:"used"`
	UsedPercent float64 `json:"used_percent"`
}

// Usage reports capacity and free space of the volume containing path.
func Usage(path string) (VolumeUsage, error) {
	stat, err := disk.Usage(path)
	if err != nil {
		return VolumeUsage{}, fmt.Errorf("failed to read volume usage for %s: %w", path, err)
	}

	return VolumeUsage{
		Path:        stat.Path,
		Fstype:      stat.Fstype,
		Total:       stat.Total,
		Free:        stat.Free,
		Used:        stat.Used,
		UsedPercent: stat.UsedPercent,
	}, nil
}

// FormatBytes formats byte count in human readable format
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
