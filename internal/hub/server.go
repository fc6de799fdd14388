// Package hub implements the signaling core: connection classification, the
// dashboard/customer registry, message dispatch, and fan-out to dashboards.
package hub

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/repairhub/signalhub/internal/config"
	"github.com/repairhub/signalhub/internal/metrics"
	"github.com/repairhub/signalhub/internal/protocol"
	"github.com/repairhub/signalhub/internal/ratelimit"
)

// Server terminates the signaling WebSocket. A single upgrade endpoint serves
// both roles; query parameters on the upgrade request decide which side of
// the hub a connection lands on.
type Server struct {
	cfg      config.Config
	log      *slog.Logger
	metrics  *metrics.Metrics
	registry *Registry
	upgrader websocket.Upgrader

	now func() time.Time
}

func NewServer(cfg config.Config, m *metrics.Metrics, logger *slog.Logger) *Server {
	if m == nil {
		m = metrics.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:      cfg,
		log:      logger,
		metrics:  m,
		registry: NewRegistry(),
		now:      time.Now,
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return cfg.OriginAllowed(r.Header.Get("Origin"))
		},
	}
	return s
}

// Registry exposes live connection counts to the status endpoint.
func (s *Server) Registry() *Registry { return s.registry }

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	conn := newConn(ws, s.log)
	defer ws.Close()

	ws.SetReadLimit(s.cfg.MaxMessageBytes)

	query := r.URL.Query()

	// Customers are identified by sessionId alone and are checked first; a
	// customer upgrade never consults the token.
	if query.Get("type") == "customer" && query.Get("sessionId") != "" {
		s.serveCustomer(conn, query.Get("sessionId"))
		return
	}

	if tokenEqual(query.Get("token"), s.cfg.DashboardToken) {
		s.serveDashboard(conn)
		return
	}

	s.metrics.Inc(metrics.UnauthorizedRejected)
	s.log.Warn("unauthorized_rejected", "remote_addr", r.RemoteAddr)
	conn.Close(websocket.ClosePolicyViolation, "Unauthorized")
}

func tokenEqual(got, want string) bool {
	if want == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func (s *Server) serveCustomer(conn *Conn, sessionID string) {
	log := conn.log.With("session_id", sessionID)

	if old := s.registry.EvictCustomer(sessionID); old != nil {
		s.metrics.Inc(metrics.CustomerReplaced)
		log.Info("customer_replaced", "old_conn_id", old.ID())
		old.Close(websocket.CloseNormalClosure, "replaced by new connection")
		s.broadcastDashboards(protocol.NewDeviceDisconnected(sessionID))
	}

	s.registry.AddCustomer(sessionID, conn)
	s.metrics.Inc(metrics.CustomerConnected)
	log.Info("customer_connected")

	s.broadcastDashboards(protocol.NewDeviceConnected(sessionID))

	if err := conn.SendJSON(protocol.NewWelcome(sessionID)); err != nil {
		log.Warn("welcome_send_failed", "err", err)
	}

	defer func() {
		if connectedAt, ok := s.registry.RemoveCustomer(sessionID, conn); ok {
			s.metrics.Inc(metrics.CustomerDisconnected)
			log.Info("customer_disconnected", "connected_for", time.Since(connectedAt))
			s.broadcastDashboards(protocol.NewDeviceDisconnected(sessionID))
		}
	}()

	s.readLoop(conn, log, func(data []byte) {
		s.dispatchCustomer(log, sessionID, data)
	})
}

func (s *Server) serveDashboard(conn *Conn) {
	log := conn.log.With("role", "dashboard")

	s.registry.AddDashboard(conn)
	s.metrics.Inc(metrics.DashboardConnected)
	log.Info("dashboard_connected")

	// Initial sync goes to the new dashboard only.
	if err := conn.SendJSON(protocol.NewDevicesList(s.registry.DeviceList())); err != nil {
		log.Warn("devices_list_send_failed", "err", err)
	}

	defer func() {
		s.registry.RemoveDashboard(conn)
		s.metrics.Inc(metrics.DashboardDisconnected)
		log.Info("dashboard_disconnected")
	}()

	s.readLoop(conn, log, func(data []byte) {
		s.dispatchDashboard(log, conn, data)
	})
}

// readLoop pumps inbound frames through handle until the transport dies or
// the connection exceeds its message budget. Closing the transport is the
// only cancellation signal.
func (s *Server) readLoop(conn *Conn, log *slog.Logger, handle func(data []byte)) {
	rate := int64(s.cfg.MaxMessagesPerSecond)
	bucket := ratelimit.NewTokenBucket(nil, rate, rate)

	for {
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			return
		}

		if !bucket.Allow(1) {
			s.metrics.Inc(metrics.RateLimited)
			log.Warn("rate_limited")
			conn.Close(websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}

		handle(data)
	}
}

func (s *Server) dispatchCustomer(log *slog.Logger, sessionID string, data []byte) {
	msg, err := protocol.ParseCustomerMessage(data)
	if err != nil {
		s.metrics.Inc(metrics.MalformedFrame)
		log.Warn("malformed_frame", "err", err)
		return
	}

	log.Debug("customer_message", "type", msg.Type)

	switch msg.Type {
	case protocol.CustomerPermissionGranted:
		s.registry.GrantPermission(sessionID, msg.Permission)
		s.broadcastDashboards(protocol.NewPermissionGranted(sessionID, msg.Permission))

	case protocol.CustomerConsentSigned:
		s.broadcastDashboards(protocol.NewConsentSigned(sessionID, s.now()))

	case protocol.CustomerConsentResponse:
		s.broadcastDashboards(protocol.NewConsentResponse(sessionID, msg))

	case protocol.CustomerReactionTime:
		s.broadcastDashboards(protocol.NewReactionTime(sessionID, msg))

	case protocol.CustomerScreenShareStarted:
		s.registry.SetScreenSharing(sessionID, true)
		s.broadcastDashboards(protocol.NewScreenShareStarted(sessionID, msg.Timestamp))

	case protocol.CustomerScreenShareEnded:
		s.registry.SetScreenSharing(sessionID, false)
		s.broadcastDashboards(protocol.NewScreenShareEnded(sessionID, msg.Timestamp))

	case protocol.CustomerWebRTCReady:
		s.broadcastDashboards(protocol.NewWebRTCReady(sessionID))

	case protocol.CustomerWebRTCAnswer:
		answer, err := msg.Answer.ToPion()
		if err != nil {
			s.metrics.Inc(metrics.MalformedFrame)
			log.Warn("malformed_frame", "err", err)
			return
		}
		s.broadcastDashboards(protocol.NewWebRTCAnswer(sessionID, answer))

	case protocol.CustomerICECandidate:
		s.broadcastDashboards(protocol.NewCustomerCandidate(sessionID, msg.Candidate.ToPion()))

	default:
		log.Debug("customer_message_dropped", "type", msg.Type)
	}
}

func (s *Server) dispatchDashboard(log *slog.Logger, conn *Conn, data []byte) {
	msg, kind, err := protocol.ParseDashboardMessage(data)
	if err != nil {
		s.metrics.Inc(metrics.MalformedFrame)
		log.Warn("malformed_frame", "err", err)
		return
	}

	log.Debug("dashboard_message", "kind", kind.String())

	switch kind {
	case protocol.DashboardKindStartSession:
		s.startSession(log, conn, msg)

	case protocol.DashboardKindStopSession:
		s.stopSession(log, conn, msg)

	case protocol.DashboardKindPermission:
		s.broadcastDashboards(protocol.NewPermissionToggled(msg.Permission, msg.Enabled))

	case protocol.DashboardKindWebRTCOffer:
		offer, err := msg.Offer.ToPion()
		if err != nil {
			s.metrics.Inc(metrics.MalformedFrame)
			log.Warn("malformed_frame", "err", err)
			return
		}
		s.relayToCustomer(log, msg.DeviceID, protocol.NewWebRTCOffer(offer))

	case protocol.DashboardKindICECandidate:
		s.relayToCustomer(log, msg.DeviceID, protocol.NewICECandidate(msg.Candidate.ToPion()))

	case protocol.DashboardKindCommand:
		s.broadcastDashboards(protocol.NewCommandReceived(msg.Command, s.now()))

	default:
		log.Debug("dashboard_message_dropped")
	}
}

// startSession notifies the customer and confirms to the originating
// dashboard. An absent customer makes the whole command a silent no-op; the
// dashboard gets no confirmation either.
func (s *Server) startSession(log *slog.Logger, conn *Conn, msg protocol.DashboardMessage) {
	target := s.registry.CustomerConn(msg.Device)
	if target == nil {
		s.metrics.Inc(metrics.SessionTargetMissing)
		log.Debug("session_target_missing", "device", msg.Device)
		return
	}

	if err := target.SendJSON(protocol.NewSessionStarted(msg.Permissions)); err != nil {
		log.Warn("session_started_send_failed", "device", msg.Device, "err", err)
		return
	}
	_ = conn.SendJSON(protocol.NewSessionUpdate("Active", msg.Device))
}

func (s *Server) stopSession(log *slog.Logger, conn *Conn, msg protocol.DashboardMessage) {
	target := s.registry.CustomerConn(msg.Device)
	if target == nil {
		s.metrics.Inc(metrics.SessionTargetMissing)
		log.Debug("session_target_missing", "device", msg.Device)
		return
	}

	if err := target.SendJSON(protocol.NewSessionStopped()); err != nil {
		log.Warn("session_stopped_send_failed", "device", msg.Device, "err", err)
		return
	}
	_ = conn.SendJSON(protocol.NewSessionUpdate("Stopped", msg.Device))
}

// relayToCustomer unicasts a signaling payload to one customer. Absent
// targets drop the frame without any error on the wire.
func (s *Server) relayToCustomer(log *slog.Logger, deviceID string, payload any) {
	target := s.registry.CustomerConn(deviceID)
	if target == nil {
		s.metrics.Inc(metrics.RelayTargetMissing)
		log.Debug("relay_target_missing", "device_id", deviceID)
		return
	}
	if err := target.SendJSON(payload); err != nil {
		log.Warn("relay_send_failed", "device_id", deviceID, "err", err)
	}
}

// broadcastDashboards serializes once and writes to every open dashboard.
// Closed connections are skipped; write failures are left for each
// connection's own read loop to clean up.
func (s *Server) broadcastDashboards(payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Error("broadcast_marshal_failed", "err", err)
		return
	}

	s.metrics.Inc(metrics.BroadcastFrames)
	for _, c := range s.registry.DashboardConns() {
		if err := c.send(data); err != nil {
			c.log.Debug("broadcast_skipped", "err", err)
		}
	}
}
