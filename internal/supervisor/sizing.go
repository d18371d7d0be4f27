package supervisor

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/eventboard/server/internal/config"
)

const meminfoPath = "/proc/meminfo"

// PoolSize returns how many workers to run: the available parallelism
// capped by how many per-worker memory budgets fit in total memory, and
// never less than one. An explicit count replaces the parallelism but is
// still capped by memory.
func PoolSize(count, parallelism, totalMemoryMB, perWorkerMB int) int {
	size := parallelism
	if count > 0 {
		size = count
	}
	if perWorkerMB > 0 && totalMemoryMB > 0 {
		if byMemory := totalMemoryMB / perWorkerMB; byMemory < size {
			size = byMemory
		}
	}
	if size < 1 {
		size = 1
	}
	return size
}

// PoolSizeFromConfig applies PoolSize to the host. When total memory is
// neither configured nor readable the memory cap is skipped.
func PoolSizeFromConfig(cfg config.WorkersConfig) int {
	total := cfg.MemoryTotalMB
	if total <= 0 {
		if detected, err := TotalMemoryMB(); err == nil {
			total = detected
		}
	}
	return PoolSize(cfg.Count, runtime.GOMAXPROCS(0), total, cfg.MemoryPerWorkerMB)
}

// TotalMemoryMB reads MemTotal from /proc/meminfo.
func TotalMemoryMB() (int, error) {
	f, err := os.Open(meminfoPath)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return parseMemTotal(f)
}

func parseMemTotal(r io.Reader) (int, error) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 || fields[0] != "MemTotal:" {
			continue
		}
		kb, err := strconv.Atoi(fields[1])
		if err != nil {
			return 0, fmt.Errorf("parse MemTotal %q: %w", fields[1], err)
		}
		return kb / 1024, nil
	}
	if err := scanner.Err(); err != nil {
		return 0, err
	}
	return 0, fmt.Errorf("MemTotal not found in %s", meminfoPath)
}
