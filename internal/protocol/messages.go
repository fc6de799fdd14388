// Package protocol defines the hub's JSON wire messages and validates them at
// the parse boundary. Inbound frames are tagged by a "type" field (customer
// side) or an "action"/"type" field (dashboard side); the payload fields each
// variant requires are checked here so handlers never poke at untyped JSON.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"
	"github.com/tidwall/gjson"
)

// Customer frame types.
const (
	CustomerPermissionGranted  = "permission_granted"
	CustomerConsentSigned      = "consent_signed"
	CustomerConsentResponse    = "consent_response"
	CustomerReactionTime       = "reaction_time"
	CustomerScreenShareStarted = "screen_share_started"
	CustomerScreenShareEnded   = "screen_share_ended"
	CustomerWebRTCReady        = "webrtc_ready"
	CustomerWebRTCAnswer       = "webrtc_answer"
	CustomerICECandidate       = "ice_candidate"
)

// CustomerMessage is an inbound frame from a customer device. Type selects
// the variant; unrecognized types parse cleanly and are dropped by the hub.
type CustomerMessage struct {
	Type string `json:"type"`

	Permission   string  `json:"permission,omitempty"`
	Accepted     bool    `json:"accepted,omitempty"`
	ReactionTime float64 `json:"reactionTime,omitempty"`

	// Timestamp is client-reported and relayed unaltered.
	Timestamp string `json:"timestamp,omitempty"`

	Answer    *SDP       `json:"answer,omitempty"`
	Candidate *Candidate `json:"candidate,omitempty"`
}

func ParseCustomerMessage(data []byte) (CustomerMessage, error) {
	if !gjson.ValidBytes(data) {
		return CustomerMessage{}, fmt.Errorf("invalid JSON frame")
	}

	var msg CustomerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return CustomerMessage{}, err
	}
	if err := msg.validate(); err != nil {
		return CustomerMessage{}, err
	}
	return msg, nil
}

func (m CustomerMessage) validate() error {
	switch m.Type {
	case CustomerPermissionGranted:
		if m.Permission == "" {
			return fmt.Errorf("permission_granted message missing permission")
		}
	case CustomerWebRTCAnswer:
		if m.Answer == nil {
			return fmt.Errorf("webrtc_answer message missing answer")
		}
		desc, err := m.Answer.ToPion()
		if err != nil {
			return fmt.Errorf("webrtc_answer message: %w", err)
		}
		if desc.Type != webrtc.SDPTypeAnswer {
			return fmt.Errorf("webrtc_answer message has sdp.type=%q", m.Answer.Type)
		}
	case CustomerICECandidate:
		if m.Candidate == nil {
			return fmt.Errorf("ice_candidate message missing candidate")
		}
	}
	// Remaining variants carry only pass-through fields; nothing to enforce.
	return nil
}

// DashboardKind is the dispatch selector for a dashboard frame. The original
// protocol checks "action" first, then "type", then a legacy bare "command"
// field; Unknown frames are dropped silently.
type DashboardKind int

const (
	DashboardKindUnknown DashboardKind = iota
	DashboardKindStartSession
	DashboardKindStopSession
	DashboardKindPermission
	DashboardKindWebRTCOffer
	DashboardKindICECandidate
	DashboardKindCommand
)

func (k DashboardKind) String() string {
	switch k {
	case DashboardKindStartSession:
		return "start_session"
	case DashboardKindStopSession:
		return "stop_session"
	case DashboardKindPermission:
		return "permission"
	case DashboardKindWebRTCOffer:
		return "webrtc_offer"
	case DashboardKindICECandidate:
		return "ice_candidate"
	case DashboardKindCommand:
		return "command"
	default:
		return "unknown"
	}
}

// DashboardMessage is an inbound frame from a dashboard.
type DashboardMessage struct {
	Action string `json:"action,omitempty"`
	Type   string `json:"type,omitempty"`

	// Device addresses a customer in session commands; DeviceID does the same
	// in signaling relays. The split is historical and part of the contract.
	Device   string `json:"device,omitempty"`
	DeviceID string `json:"deviceId,omitempty"`

	Permissions []string `json:"permissions,omitempty"`
	Permission  string   `json:"permission,omitempty"`
	Enabled     bool     `json:"enabled,omitempty"`

	Offer     *SDP       `json:"offer,omitempty"`
	Candidate *Candidate `json:"candidate,omitempty"`

	Command string `json:"command,omitempty"`
}

func ParseDashboardMessage(data []byte) (DashboardMessage, DashboardKind, error) {
	if !gjson.ValidBytes(data) {
		return DashboardMessage{}, DashboardKindUnknown, fmt.Errorf("invalid JSON frame")
	}

	kind := dashboardKind(data)

	var msg DashboardMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return DashboardMessage{}, DashboardKindUnknown, err
	}
	if err := msg.validate(kind); err != nil {
		return DashboardMessage{}, DashboardKindUnknown, err
	}
	return msg, kind, nil
}

func dashboardKind(data []byte) DashboardKind {
	switch gjson.GetBytes(data, "action").String() {
	case "start_session":
		return DashboardKindStartSession
	case "stop_session":
		return DashboardKindStopSession
	case "permission":
		return DashboardKindPermission
	}
	switch gjson.GetBytes(data, "type").String() {
	case "webrtc_offer":
		return DashboardKindWebRTCOffer
	case "ice_candidate":
		return DashboardKindICECandidate
	}
	if gjson.GetBytes(data, "command").String() != "" {
		return DashboardKindCommand
	}
	return DashboardKindUnknown
}

func (m DashboardMessage) validate(kind DashboardKind) error {
	switch kind {
	case DashboardKindStartSession, DashboardKindStopSession:
		if m.Device == "" {
			return fmt.Errorf("%s message missing device", kind)
		}
	case DashboardKindPermission:
		if m.Permission == "" {
			return fmt.Errorf("permission message missing permission")
		}
	case DashboardKindWebRTCOffer:
		if m.DeviceID == "" {
			return fmt.Errorf("webrtc_offer message missing deviceId")
		}
		if m.Offer == nil {
			return fmt.Errorf("webrtc_offer message missing offer")
		}
		desc, err := m.Offer.ToPion()
		if err != nil {
			return fmt.Errorf("webrtc_offer message: %w", err)
		}
		if desc.Type != webrtc.SDPTypeOffer {
			return fmt.Errorf("webrtc_offer message has sdp.type=%q", m.Offer.Type)
		}
	case DashboardKindICECandidate:
		if m.DeviceID == "" {
			return fmt.Errorf("ice_candidate message missing deviceId")
		}
		if m.Candidate == nil {
			return fmt.Errorf("ice_candidate message missing candidate")
		}
	}
	return nil
}
