package fsutil

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// AvailableMemoryMB returns available memory in MB.
func AvailableMemoryMB() (int64, error) {
	content, err := os.ReadFile("/proc/meminfo")
	if err == nil {
		for _, line := range strings.Split(string(content), "\n") {
			if strings.HasPrefix(line, "MemAvailable:") {
				fields := strings.Fields(line)
				if len(fields) >= 2 {
					if kb, err := strconv.ParseInt(fields[1], 10, 64); err == nil {
						return kb / 1024, nil
					}
				}
			}
		}
	}

	var sysinfo syscall.Sysinfo_t
	if err := syscall.Sysinfo(&sysinfo); err != nil {
		return 0, err
	}
	return int64(sysinfo.Freeram) * int64(sysinfo.Unit) / (1024 * 1024), nil
}

// ShouldPreload reports whether a decoded movie of the given size fits in
// memory: under half of what is available while leaving 512MB free.
func ShouldPreload(frames, width, height int, logger *slog.Logger) bool {
	if frames == 0 {
		return false
	}
	available, err := AvailableMemoryMB()
	if err != nil {
		if logger != nil {
			logger.Debug("failed to get system memory info", "error", err)
		}
		return false
	}
	needMB := int64(frames) * int64(width) * int64(height) * 8 / (1024 * 1024)
	ok := needMB < available/2 && available-needMB > 512
	if logger != nil {
		logger.Debug("frame preload check",
			"available_ram_mb", available,
			"required_mb", needMB,
			"preload", ok,
		)
	}
	return ok
}
