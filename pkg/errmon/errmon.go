// Package errmon is an explicit context object standing in for the
// source's process-wide error-monitor singleton (spec.md §9's "Global
// mutable state" redesign note): callers hold a *Monitor rather than
// reaching for a package-level global, so a server process hosting
// multiple peer sessions can keep each session's error accounting
// separate.
package errmon

import (
	"sync"

	"github.com/streamcore/streamcore/pkg/errkind"
	"github.com/streamcore/streamcore/pkg/logging"
)

// Report is one classified error observation.
type Report struct {
	Kind errkind.Kind
	Err  error
}

// Monitor accumulates per-kind error counts and forwards fatal-class
// reports to a shutdown callback, matching spec.md §7's "forward to
// error monitor if configured" policy for OS-fatal conditions.
type Monitor struct {
	mu     sync.Mutex
	counts map[errkind.Kind]uint64
	log    *logging.Logger
	onFatal func(Report)
}

// New creates a Monitor that logs every report through log and invokes
// onFatal (if non-nil) for any report whose Kind is Fatal().
func New(log *logging.Logger, onFatal func(Report)) *Monitor {
	return &Monitor{
		counts:  make(map[errkind.Kind]uint64),
		log:     log,
		onFatal: onFatal,
	}
}

// ReportError records one error observation, logging it at a severity
// matched to its kind and escalating fatal kinds to onFatal.
func (m *Monitor) ReportError(kind errkind.Kind, err error) {
	m.mu.Lock()
	m.counts[kind]++
	m.mu.Unlock()

	if m.log != nil {
		if kind.Fatal() {
			m.log.Errorf("%s: %v", kind, err)
		} else {
			m.log.Warnf("%s: %v", kind, err)
		}
	}

	if kind.Fatal() && m.onFatal != nil {
		m.onFatal(Report{Kind: kind, Err: err})
	}
}

// Count returns how many reports of kind have been recorded.
func (m *Monitor) Count(kind errkind.Kind) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[kind]
}

// Snapshot returns a copy of all counts recorded so far, for metrics
// export.
func (m *Monitor) Snapshot() map[errkind.Kind]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[errkind.Kind]uint64, len(m.counts))
	for k, v := range m.counts {
		out[k] = v
	}
	return out
}
