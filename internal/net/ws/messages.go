package ws

import "crowdnav/internal/crowd"

// ProtocolVersion is stamped on every server message.
const ProtocolVersion = 1

const (
	TypeState         = "state"
	TypeCommandAck    = "commandAck"
	TypeCommandReject = "commandReject"
	TypeError         = "error"
)

// Client command types.
const (
	CommandSpawn   = "spawn"
	CommandMoveTo  = "moveTo"
	CommandStop    = "stop"
	CommandDespawn = "despawn"
)

type clientMessage struct {
	Ver        int         `json:"ver,omitempty"`
	Type       string      `json:"type"`
	AgentID    string      `json:"id"`
	Position   *[3]float64 `json:"position,omitempty"`
	CommandSeq *uint64     `json:"seq,omitempty"`
}

type stateMessage struct {
	Ver        int               `json:"ver"`
	Type       string            `json:"type"`
	Tick       uint64            `json:"tick"`
	Ready      bool              `json:"ready"`
	Agents     []crowd.AgentView `json:"agents"`
	ServerTime int64             `json:"serverTime"`
}

type commandAckMessage struct {
	Ver     int    `json:"ver"`
	Type    string `json:"type"`
	Seq     uint64 `json:"seq"`
	AgentID string `json:"id,omitempty"`
	Tick    uint64 `json:"tick,omitempty"`
}

type commandRejectMessage struct {
	Ver    int    `json:"ver"`
	Type   string `json:"type"`
	Seq    uint64 `json:"seq"`
	Reason string `json:"reason"`
	Retry  bool   `json:"retry,omitempty"`
	Tick   uint64 `json:"tick,omitempty"`
}

type errorMessage struct {
	Ver     int    `json:"ver"`
	Type    string `json:"type"`
	Message string `json:"message"`
}
