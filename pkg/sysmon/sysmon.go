// Package sysmon samples host CPU and memory load on a timer and keeps
// the most recent sample available through Monitor.Last.
package sysmon

import (
	"context"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Sample is one host load reading.
type Sample struct {
	At           time.Time
	CPUPercent   float64
	MemUsedBytes uint64
	MemTotal     uint64
}

// Monitor periodically samples host load and keeps the most recent
// reading available without blocking callers on the syscalls
// gopsutil issues.
type Monitor struct {
	interval time.Duration

	mu   sync.RWMutex
	last Sample
}

// New builds a Monitor sampling at interval.
func New(interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = time.Second
	}
	return &Monitor{interval: interval}
}

// Run samples until ctx is cancelled. Meant to be run in its own
// goroutine alongside the encoder/renderer drivers.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	m.sampleOnce()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sampleOnce()
		}
	}
}

func (m *Monitor) sampleOnce() {
	s := Sample{At: time.Now()}

	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		s.CPUPercent = pct[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		s.MemUsedBytes = vm.Used
		s.MemTotal = vm.Total
	}

	m.mu.Lock()
	m.last = s
	m.mu.Unlock()
}

// Last returns the most recent sample taken.
func (m *Monitor) Last() Sample {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}
