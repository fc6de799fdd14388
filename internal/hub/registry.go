package hub

import (
	"sync"
	"time"

	"github.com/repairhub/signalhub/internal/protocol"
)

type customerRecord struct {
	conn          *Conn
	connectedAt   time.Time
	permissions   map[string]struct{}
	screenSharing bool
}

// Registry tracks connected dashboards and customers. It guards membership
// only; callers must never hold its lock across a network write, so every
// accessor returns a snapshot or a single connection.
type Registry struct {
	mu         sync.Mutex
	dashboards map[*Conn]struct{}
	customers  map[string]*customerRecord
}

func NewRegistry() *Registry {
	return &Registry{
		dashboards: make(map[*Conn]struct{}),
		customers:  make(map[string]*customerRecord),
	}
}

func (r *Registry) AddDashboard(c *Conn) {
	r.mu.Lock()
	r.dashboards[c] = struct{}{}
	r.mu.Unlock()
}

func (r *Registry) RemoveDashboard(c *Conn) {
	r.mu.Lock()
	delete(r.dashboards, c)
	r.mu.Unlock()
}

// EvictCustomer removes an existing record for sessionID and returns its
// connection, or nil if the session was not registered. The caller closes the
// returned connection and announces the disconnect outside the lock.
func (r *Registry) EvictCustomer(sessionID string) *Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.customers[sessionID]
	if !ok {
		return nil
	}
	delete(r.customers, sessionID)
	return rec.conn
}

// AddCustomer registers a fresh record: no permissions, not screen sharing.
func (r *Registry) AddCustomer(sessionID string, c *Conn) {
	r.mu.Lock()
	r.customers[sessionID] = &customerRecord{
		conn:        c,
		connectedAt: time.Now(),
		permissions: make(map[string]struct{}),
	}
	r.mu.Unlock()
}

// RemoveCustomer deletes the record for sessionID only if it still belongs to
// c. This keeps a replaced connection's teardown from deleting the record of
// the connection that replaced it; ok tells the caller whether a disconnect
// should be announced, and connectedAt reports when the removed record was
// registered.
func (r *Registry) RemoveCustomer(sessionID string, c *Conn) (connectedAt time.Time, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, found := r.customers[sessionID]
	if !found || rec.conn != c {
		return time.Time{}, false
	}
	delete(r.customers, sessionID)
	return rec.connectedAt, true
}

// GrantPermission records a granted permission. Re-grants are idempotent.
// Returns false if the session is not registered.
func (r *Registry) GrantPermission(sessionID, permission string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.customers[sessionID]
	if !ok {
		return false
	}
	rec.permissions[permission] = struct{}{}
	return true
}

func (r *Registry) SetScreenSharing(sessionID string, sharing bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.customers[sessionID]
	if !ok {
		return false
	}
	rec.screenSharing = sharing
	return true
}

// CustomerConn returns the live connection for sessionID, or nil.
func (r *Registry) CustomerConn(sessionID string) *Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.customers[sessionID]
	if !ok {
		return nil
	}
	return rec.conn
}

// DashboardConns returns a snapshot of the dashboard set.
func (r *Registry) DashboardConns() []*Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns := make([]*Conn, 0, len(r.dashboards))
	for c := range r.dashboards {
		conns = append(conns, c)
	}
	return conns
}

// DeviceList builds the devices_list snapshot for a newly connected
// dashboard.
func (r *Registry) DeviceList() []protocol.DeviceListEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	devices := make([]protocol.DeviceListEntry, 0, len(r.customers))
	for id, rec := range r.customers {
		devices = append(devices, protocol.DeviceListEntry{
			ID:            id,
			Name:          protocol.DisplayName(id),
			Status:        "online",
			ScreenSharing: rec.screenSharing,
		})
	}
	return devices
}

// Counts reports the live connection totals for the status endpoint.
func (r *Registry) Counts() (dashboards, customers int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.dashboards), len(r.customers)
}
