package protocol

import (
	"time"

	"github.com/pion/webrtc/v4"
)

// Device display name: "Customer-" plus the first six characters of the
// session id. External dashboards render this label verbatim.
const deviceNamePrefix = "Customer-"

func DisplayName(sessionID string) string {
	short := sessionID
	if len(short) > 6 {
		short = short[:6]
	}
	return deviceNamePrefix + short
}

// Timestamp renders a server-side timestamp the way the dashboards expect it
// (ISO 8601 / RFC 3339 in UTC).
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// Device describes a customer in connect events.
type Device struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

// DeviceListEntry describes a customer in the devices_list snapshot, which
// additionally reports the live screen-sharing flag.
type DeviceListEntry struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Status        string `json:"status"`
	ScreenSharing bool   `json:"screenSharing"`
}

// Events broadcast to dashboards.

type DeviceConnectedEvent struct {
	Type   string `json:"type"`
	Device Device `json:"device"`
}

func NewDeviceConnected(sessionID string) DeviceConnectedEvent {
	return DeviceConnectedEvent{
		Type: "device_connected",
		Device: Device{
			ID:     sessionID,
			Name:   DisplayName(sessionID),
			Status: "online",
		},
	}
}

type DeviceDisconnectedEvent struct {
	Type     string `json:"type"`
	DeviceID string `json:"deviceId"`
}

func NewDeviceDisconnected(sessionID string) DeviceDisconnectedEvent {
	return DeviceDisconnectedEvent{Type: "device_disconnected", DeviceID: sessionID}
}

type DevicesListEvent struct {
	Type    string            `json:"type"`
	Devices []DeviceListEntry `json:"devices"`
}

func NewDevicesList(devices []DeviceListEntry) DevicesListEvent {
	if devices == nil {
		devices = []DeviceListEntry{}
	}
	return DevicesListEvent{Type: "devices_list", Devices: devices}
}

type PermissionGrantedEvent struct {
	Type       string `json:"type"`
	DeviceID   string `json:"deviceId"`
	Permission string `json:"permission"`
}

func NewPermissionGranted(sessionID, permission string) PermissionGrantedEvent {
	return PermissionGrantedEvent{Type: "permission_granted", DeviceID: sessionID, Permission: permission}
}

type ConsentSignedEvent struct {
	Type      string `json:"type"`
	DeviceID  string `json:"deviceId"`
	Timestamp string `json:"timestamp"`
}

func NewConsentSigned(sessionID string, at time.Time) ConsentSignedEvent {
	return ConsentSignedEvent{Type: "consent_signed", DeviceID: sessionID, Timestamp: Timestamp(at)}
}

type ConsentResponseEvent struct {
	Type         string  `json:"type"`
	DeviceID     string  `json:"deviceId"`
	Accepted     bool    `json:"accepted"`
	ReactionTime float64 `json:"reactionTime"`
	Timestamp    string  `json:"timestamp"`
}

func NewConsentResponse(sessionID string, msg CustomerMessage) ConsentResponseEvent {
	return ConsentResponseEvent{
		Type:         "consent_response",
		DeviceID:     sessionID,
		Accepted:     msg.Accepted,
		ReactionTime: msg.ReactionTime,
		Timestamp:    msg.Timestamp,
	}
}

type ReactionTimeEvent struct {
	Type         string  `json:"type"`
	DeviceID     string  `json:"deviceId"`
	ReactionTime float64 `json:"reactionTime"`
	Timestamp    string  `json:"timestamp"`
}

func NewReactionTime(sessionID string, msg CustomerMessage) ReactionTimeEvent {
	return ReactionTimeEvent{
		Type:         "reaction_time",
		DeviceID:     sessionID,
		ReactionTime: msg.ReactionTime,
		Timestamp:    msg.Timestamp,
	}
}

type ScreenShareEvent struct {
	Type      string `json:"type"`
	DeviceID  string `json:"deviceId"`
	Timestamp string `json:"timestamp"`
}

func NewScreenShareStarted(sessionID, timestamp string) ScreenShareEvent {
	return ScreenShareEvent{Type: "screen_share_started", DeviceID: sessionID, Timestamp: timestamp}
}

func NewScreenShareEnded(sessionID, timestamp string) ScreenShareEvent {
	return ScreenShareEvent{Type: "screen_share_ended", DeviceID: sessionID, Timestamp: timestamp}
}

type WebRTCReadyEvent struct {
	Type     string `json:"type"`
	DeviceID string `json:"deviceId"`
}

func NewWebRTCReady(sessionID string) WebRTCReadyEvent {
	return WebRTCReadyEvent{Type: "webrtc_ready", DeviceID: sessionID}
}

type WebRTCAnswerEvent struct {
	Type     string `json:"type"`
	DeviceID string `json:"deviceId"`
	Answer   SDP    `json:"answer"`
}

func NewWebRTCAnswer(sessionID string, answer webrtc.SessionDescription) WebRTCAnswerEvent {
	return WebRTCAnswerEvent{Type: "webrtc_answer", DeviceID: sessionID, Answer: SDPFromPion(answer)}
}

// CustomerCandidateEvent relays a customer's ICE candidate to dashboards. The
// wire type is renamed to ice_candidate_customer so dashboards can tell the
// direction apart from their own outbound candidates.
type CustomerCandidateEvent struct {
	Type      string    `json:"type"`
	DeviceID  string    `json:"deviceId"`
	Candidate Candidate `json:"candidate"`
}

func NewCustomerCandidate(sessionID string, cand webrtc.ICECandidateInit) CustomerCandidateEvent {
	return CustomerCandidateEvent{Type: "ice_candidate_customer", DeviceID: sessionID, Candidate: CandidateFromPion(cand)}
}

type PermissionToggledEvent struct {
	Type       string `json:"type"`
	Permission string `json:"permission"`
	Enabled    bool   `json:"enabled"`
}

func NewPermissionToggled(permission string, enabled bool) PermissionToggledEvent {
	return PermissionToggledEvent{Type: "permission_toggled", Permission: permission, Enabled: enabled}
}

type CommandReceivedEvent struct {
	Type      string `json:"type"`
	Command   string `json:"command"`
	Timestamp string `json:"timestamp"`
}

func NewCommandReceived(command string, at time.Time) CommandReceivedEvent {
	return CommandReceivedEvent{Type: "command_received", Command: command, Timestamp: Timestamp(at)}
}

// SessionUpdateEvent confirms a session command to the originating dashboard.
type SessionUpdateEvent struct {
	Type     string `json:"type"`
	Status   string `json:"status"`
	DeviceID string `json:"deviceId"`
}

func NewSessionUpdate(status, sessionID string) SessionUpdateEvent {
	return SessionUpdateEvent{Type: "session_update", Status: status, DeviceID: sessionID}
}

// Frames sent to customers.

type WelcomeMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

func NewWelcome(sessionID string) WelcomeMessage {
	return WelcomeMessage{
		Type:      "connected",
		SessionID: sessionID,
		Message:   "Connected to repair service",
	}
}

type SessionStartedMessage struct {
	Type        string   `json:"type"`
	Permissions []string `json:"permissions"`
	Message     string   `json:"message"`
}

func NewSessionStarted(permissions []string) SessionStartedMessage {
	if permissions == nil {
		permissions = []string{}
	}
	return SessionStartedMessage{
		Type:        "session_started",
		Permissions: permissions,
		Message:     "Technician has started the repair session",
	}
}

type SessionStoppedMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func NewSessionStopped() SessionStoppedMessage {
	return SessionStoppedMessage{
		Type:    "session_stopped",
		Message: "Technician has ended the repair session",
	}
}

type WebRTCOfferMessage struct {
	Type  string `json:"type"`
	Offer SDP    `json:"offer"`
}

func NewWebRTCOffer(offer webrtc.SessionDescription) WebRTCOfferMessage {
	return WebRTCOfferMessage{Type: "webrtc_offer", Offer: SDPFromPion(offer)}
}

type ICECandidateMessage struct {
	Type      string    `json:"type"`
	Candidate Candidate `json:"candidate"`
}

func NewICECandidate(cand webrtc.ICECandidateInit) ICECandidateMessage {
	return ICECandidateMessage{Type: "ice_candidate", Candidate: CandidateFromPion(cand)}
}
