package ws

import (
	"encoding/json"
	nethttp "net/http"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/gorilla/websocket"

	"crowdnav/internal/crowd"
	"crowdnav/internal/steer"
	"crowdnav/internal/telemetry"
)

// Reject reasons produced by the handler itself.
const (
	RejectUnknownType    = "unknown_type"
	RejectMissingAgent   = "missing_id"
	RejectMissingPayload = "missing_position"
)

type HandlerConfig struct {
	Logger telemetry.Logger
	// Settings are applied to agents spawned over the socket.
	Settings steer.Settings
}

// Handler upgrades requests into state streams that also accept agent
// commands.
type Handler struct {
	world       *crowd.World
	broadcaster *Broadcaster
	logger      telemetry.Logger
	settings    steer.Settings
	upgrader    websocket.Upgrader
}

func NewHandler(world *crowd.World, broadcaster *Broadcaster, cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.LoggerFunc(nil)
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *nethttp.Request) bool {
			return true
		},
	}

	return &Handler{
		world:       world,
		broadcaster: broadcaster,
		logger:      logger,
		settings:    cfg.Settings.Normalized(),
		upgrader:    upgrader,
	}
}

func (h *Handler) Handle(w nethttp.ResponseWriter, r *nethttp.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("[ws] upgrade failed for %s: %v", r.RemoteAddr, err)
		return
	}

	sub := h.broadcaster.Subscribe(conn)
	defer h.broadcaster.Unsubscribe(sub)

	data, err := h.broadcaster.MarshalState()
	if err != nil {
		h.logger.Printf("[ws] failed to marshal initial state: %v", err)
		return
	}
	if err := sub.WriteMessage(websocket.TextMessage, data); err != nil {
		return
	}

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}

		writeJSON := func(payload any) bool {
			data, err := json.Marshal(payload)
			if err != nil {
				h.logger.Printf("[ws] failed to marshal response: %v", err)
				return true
			}
			return sub.WriteMessage(websocket.TextMessage, data) == nil
		}

		var msg clientMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			h.logger.Printf("[ws] discarding malformed message from subscriber %d: %v", sub.id, err)
			if !writeJSON(errorMessage{Ver: ProtocolVersion, Type: TypeError, Message: "malformed message"}) {
				return
			}
			continue
		}

		seq := uint64(0)
		if msg.CommandSeq != nil && *msg.CommandSeq > 0 {
			seq = *msg.CommandSeq
		}

		if seq > 0 {
			if last := sub.LastCommandSeq(); last > 0 && seq <= last {
				if !writeJSON(commandAckMessage{Ver: ProtocolVersion, Type: TypeCommandAck, Seq: seq}) {
					return
				}
				continue
			}
		}

		cmd, reason := h.command(msg)
		if reason == "" {
			var ok bool
			ok, reason = h.world.Enqueue(cmd)
			if ok {
				reason = ""
			}
		}
		if seq == 0 {
			continue
		}
		if reason != "" {
			reject := commandRejectMessage{
				Ver:    ProtocolVersion,
				Type:   TypeCommandReject,
				Seq:    seq,
				Reason: reason,
				Retry:  reason == crowd.CommandRejectQueueLimit,
				Tick:   h.world.CurrentTick(),
			}
			if !writeJSON(reject) {
				return
			}
			continue
		}
		ack := commandAckMessage{Ver: ProtocolVersion, Type: TypeCommandAck, Seq: seq, AgentID: cmd.AgentID}
		if tick := h.world.CurrentTick(); tick > 0 {
			ack.Tick = tick
		}
		if !writeJSON(ack) {
			return
		}
		sub.StoreLastCommandSeq(seq)
	}
}

// command translates a client message into a world command or a reject
// reason.
func (h *Handler) command(msg clientMessage) (crowd.Command, string) {
	cmd := crowd.Command{AgentID: msg.AgentID}
	switch msg.Type {
	case CommandSpawn:
		if msg.Position == nil {
			return cmd, RejectMissingPayload
		}
		if cmd.AgentID == "" {
			cmd.AgentID = h.world.NextAgentID()
		}
		cmd.Type = crowd.CommandSpawn
		cmd.Spawn = &crowd.SpawnCommand{Position: mgl64.Vec3(*msg.Position), Settings: h.settings}
		return cmd, ""
	case CommandMoveTo:
		if msg.Position == nil {
			return cmd, RejectMissingPayload
		}
		cmd.Type = crowd.CommandMoveTo
		cmd.MoveTo = &crowd.MoveToCommand{Destination: mgl64.Vec3(*msg.Position)}
	case CommandStop:
		cmd.Type = crowd.CommandStop
	case CommandDespawn:
		cmd.Type = crowd.CommandDespawn
	default:
		return cmd, RejectUnknownType
	}
	if cmd.AgentID == "" {
		return cmd, RejectMissingAgent
	}
	return cmd, ""
}
