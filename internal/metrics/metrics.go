package metrics

import "sync"

// Counter names. These track protocol events for observability only; they
// never feed back into routing decisions (silent drops stay silent on the
// wire).
const (
	DashboardConnected    = "dashboard_connected"
	DashboardDisconnected = "dashboard_disconnected"
	CustomerConnected     = "customer_connected"
	CustomerDisconnected  = "customer_disconnected"
	CustomerReplaced      = "customer_replaced"

	UnauthorizedRejected = "unauthorized_rejected"
	MalformedFrame       = "malformed_frame"
	RateLimited          = "rate_limited"

	RelayTargetMissing   = "relay_target_missing"
	SessionTargetMissing = "session_target_missing"

	BroadcastFrames = "broadcast_frames"
)

// Metrics is a minimal, concurrency-safe counter registry.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, delta uint64) {
	m.mu.Lock()
	if m.m == nil {
		m.m = make(map[string]uint64)
	}
	m.m[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
