package authgate

import "sync/atomic"

// MetricID indexes one engine counter.
type MetricID uint16

const (
	MetricRegisterSuccess MetricID = iota
	MetricRegisterConflict
	MetricRegisterRateLimited
	MetricLoginSuccess
	MetricLoginFailure
	MetricLoginRateLimited
	MetricRefreshSuccess
	MetricRefreshFailure
	MetricRefreshReuseDetected
	MetricLogout
	MetricPasswordChanged

	metricCount
)

// MetricsSnapshot is a point-in-time copy of all engine counters.
type MetricsSnapshot struct {
	RegisterSuccess      uint64
	RegisterConflict     uint64
	RegisterRateLimited  uint64
	LoginSuccess         uint64
	LoginFailure         uint64
	LoginRateLimited     uint64
	RefreshSuccess       uint64
	RefreshFailure       uint64
	RefreshReuseDetected uint64
	Logout               uint64
	PasswordChanged      uint64
}

// metrics is a fixed array of lock-free counters. Increment is a single
// atomic add on the hot path.
type metrics struct {
	counters [metricCount]atomic.Uint64
}

func (m *metrics) inc(id MetricID) {
	if m == nil || id >= metricCount {
		return
	}
	m.counters[id].Add(1)
}

func (m *metrics) snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	return MetricsSnapshot{
		RegisterSuccess:      m.counters[MetricRegisterSuccess].Load(),
		RegisterConflict:     m.counters[MetricRegisterConflict].Load(),
		RegisterRateLimited:  m.counters[MetricRegisterRateLimited].Load(),
		LoginSuccess:         m.counters[MetricLoginSuccess].Load(),
		LoginFailure:         m.counters[MetricLoginFailure].Load(),
		LoginRateLimited:     m.counters[MetricLoginRateLimited].Load(),
		RefreshSuccess:       m.counters[MetricRefreshSuccess].Load(),
		RefreshFailure:       m.counters[MetricRefreshFailure].Load(),
		RefreshReuseDetected: m.counters[MetricRefreshReuseDetected].Load(),
		Logout:               m.counters[MetricLogout].Load(),
		PasswordChanged:      m.counters[MetricPasswordChanged].Load(),
	}
}
