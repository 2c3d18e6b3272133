package metrics

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

var (
	systemCPU = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "footprints_system_cpu_percent",
		Help: "System-wide CPU usage sampled by the collector",
	})
	processCPU = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "footprints_process_cpu_percent",
		Help: "CPU usage of this process, per core",
	})
	processRSS = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "footprints_process_rss_bytes",
		Help: "Resident set size of this process",
	})
	memoryUsed = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "footprints_memory_used_percent",
		Help: "System memory in use",
	})
)

func init() {
	prometheus.MustRegister(systemCPU, processCPU, processRSS, memoryUsed)
}

// SystemMetrics holds one sample
type SystemMetrics struct {
	CPUPercent        float64
	ProcessCPUPercent float64 // per core, can exceed 100 on multi-core hosts
	ProcessRSSBytes   uint64
	IOWaitPercent     float64
	MemoryUsedGB      float64
	MemoryPercent     float64
	DiskReadMBps      float64
	DiskWriteMBps     float64
	Timestamp         time.Time
}

// ProgressFunc returns fields describing work done so far, appended to
// every sample log line
type ProgressFunc func() []zap.Field

// Collector periodically samples and logs system metrics
type Collector struct {
	interval time.Duration
	logger   *zap.Logger
	proc     *process.Process
	progress ProgressFunc

	lastDisk     map[string]disk.IOCountersStat
	lastDiskTime time.Time
	lastCPU      cpu.TimesStat
	hasCPU       bool

	mu   sync.RWMutex
	last *SystemMetrics
}

// NewCollector creates a collector. Intervals under a second fall back
// to 30s.
func NewCollector(interval time.Duration, logger *zap.Logger) *Collector {
	if interval < time.Second {
		interval = 30 * time.Second
	}
	proc, _ := process.NewProcess(int32(os.Getpid()))
	return &Collector{
		interval: interval,
		logger:   logger,
		proc:     proc,
	}
}

// WithProgress attaches a progress reporter
func (c *Collector) WithProgress(fn ProgressFunc) *Collector {
	c.progress = fn
	return c
}

// Start samples until the context is cancelled
func (c *Collector) Start(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	// first sample sets the disk and cpu baselines
	c.collect()

	for {
		select {
		case <-ctx.Done():
			c.logger.Debug("Metrics collection stopped")
			return
		case <-ticker.C:
			c.collect()
		}
	}
}

// Last returns the most recent sample, or nil before the first one
func (c *Collector) Last() *SystemMetrics {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last
}

func (c *Collector) collect() {
	m := &SystemMetrics{Timestamp: time.Now()}

	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		m.CPUPercent = pct[0]
	}
	if c.proc != nil {
		if pct, err := c.proc.Percent(0); err == nil {
			m.ProcessCPUPercent = pct
		}
		if info, err := c.proc.MemoryInfo(); err == nil && info != nil {
			m.ProcessRSSBytes = info.RSS
		}
	}
	m.IOWaitPercent = c.ioWait()

	if vmem, err := mem.VirtualMemory(); err == nil {
		m.MemoryPercent = vmem.UsedPercent
		m.MemoryUsedGB = float64(vmem.Used) / (1 << 30)
	}
	m.DiskReadMBps, m.DiskWriteMBps = c.diskRates()

	c.mu.Lock()
	c.last = m
	c.mu.Unlock()

	systemCPU.Set(m.CPUPercent)
	processCPU.Set(m.ProcessCPUPercent)
	processRSS.Set(float64(m.ProcessRSSBytes))
	memoryUsed.Set(m.MemoryPercent)

	fields := []zap.Field{
		zap.Float64("sys_cpu", m.CPUPercent),
		zap.Float64("proc_cpu", m.ProcessCPUPercent),
		zap.String("proc_rss", fmt.Sprintf("%.1f MB", float64(m.ProcessRSSBytes)/(1<<20))),
		zap.Float64("iowait", m.IOWaitPercent),
		zap.Float64("mem_pct", m.MemoryPercent),
		zap.String("mem_used", fmt.Sprintf("%.1f GB", m.MemoryUsedGB)),
		zap.String("disk_r", fmt.Sprintf("%.1f MB/s", m.DiskReadMBps)),
		zap.String("disk_w", fmt.Sprintf("%.1f MB/s", m.DiskWriteMBps)),
	}
	if c.progress != nil {
		fields = append(fields, c.progress()...)
	}
	c.logger.Info("System metrics", fields...)
}

// ioWait returns the share of CPU time spent waiting on I/O since the
// previous sample
func (c *Collector) ioWait() float64 {
	times, err := cpu.Times(false)
	if err != nil || len(times) == 0 {
		return 0
	}
	cur := times[0]
	if !c.hasCPU {
		c.lastCPU = cur
		c.hasCPU = true
		return 0
	}

	last := c.lastCPU
	total := (cur.User - last.User) + (cur.System - last.System) + (cur.Idle - last.Idle) +
		(cur.Iowait - last.Iowait) + (cur.Irq - last.Irq) + (cur.Softirq - last.Softirq) +
		(cur.Steal - last.Steal)
	wait := cur.Iowait - last.Iowait
	c.lastCPU = cur

	if total <= 0 {
		return 0
	}
	return wait / total * 100
}

// diskRates returns read and write throughput since the previous sample
func (c *Collector) diskRates() (readMBps, writeMBps float64) {
	counters, err := disk.IOCounters()
	if err != nil {
		return 0, 0
	}
	now := time.Now()

	if c.lastDisk == nil {
		c.lastDisk = counters
		c.lastDiskTime = now
		return 0, 0
	}

	elapsed := now.Sub(c.lastDiskTime).Seconds()
	if elapsed < 0.1 {
		return 0, 0
	}

	var read, write uint64
	for name, cur := range counters {
		last, ok := c.lastDisk[name]
		if !ok {
			continue
		}
		// counters can wrap
		if cur.ReadBytes >= last.ReadBytes {
			read += cur.ReadBytes - last.ReadBytes
		}
		if cur.WriteBytes >= last.WriteBytes {
			write += cur.WriteBytes - last.WriteBytes
		}
	}
	c.lastDisk = counters
	c.lastDiskTime = now

	return float64(read) / elapsed / (1 << 20), float64(write) / elapsed / (1 << 20)
}
