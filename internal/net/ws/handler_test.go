package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"crowdnav/internal/crowd"
	"crowdnav/internal/navmesh/navmeshtest"
	"crowdnav/internal/steer"
)

func newStreamWorld(t *testing.T) *crowd.World {
	t.Helper()
	world := crowd.New(crowd.DefaultConfig(), crowd.Deps{})
	if err := world.ReplaceMesh(context.Background(), navmeshtest.Square(10)); err != nil {
		t.Fatalf("replace mesh: %v", err)
	}
	return world
}

func dialStream(t *testing.T, world *crowd.World) (*Broadcaster, *websocket.Conn) {
	t.Helper()
	broadcaster := NewBroadcaster(world, nil, nil)
	handler := NewHandler(world, broadcaster, HandlerConfig{Settings: steer.DefaultSettings()})
	srv := httptest.NewServer(http.HandlerFunc(handler.Handle))
	t.Cleanup(srv.Close)

	conn, resp, err := websocket.DefaultDialer.Dial(websocketURL(t, srv.URL), nil)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		t.Fatalf("failed to open websocket connection: %v", err)
	}
	t.Cleanup(func() {
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.Close()
		if resp != nil {
			resp.Body.Close()
		}
	})
	return broadcaster, conn
}

func readJSON(t *testing.T, conn *websocket.Conn, out any) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read message: %v", err)
	}
	if err := json.Unmarshal(payload, out); err != nil {
		t.Fatalf("failed to decode %s: %v", payload, err)
	}
}

func writeJSON(t *testing.T, conn *websocket.Conn, msg map[string]any) {
	t.Helper()
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("failed to write message: %v", err)
	}
}

func TestHandleSendsInitialState(t *testing.T) {
	world := newStreamWorld(t)
	_, conn := dialStream(t, world)

	var state stateMessage
	readJSON(t, conn, &state)
	if state.Type != TypeState || state.Ver != ProtocolVersion {
		t.Fatalf("expected state message, got %+v", state)
	}
	if !state.Ready {
		t.Fatalf("expected ready world in initial state")
	}
	if len(state.Agents) != 0 {
		t.Fatalf("expected no agents, got %d", len(state.Agents))
	}
}

func TestHandleAcksCommandsAndStreamsAgents(t *testing.T) {
	world := newStreamWorld(t)
	broadcaster, conn := dialStream(t, world)

	var initial stateMessage
	readJSON(t, conn, &initial)

	writeJSON(t, conn, map[string]any{"type": CommandSpawn, "id": "walker", "position": []float64{8, 0, 2}, "seq": 1})
	var ack commandAckMessage
	readJSON(t, conn, &ack)
	if ack.Type != TypeCommandAck || ack.Seq != 1 || ack.AgentID != "walker" {
		t.Fatalf("expected ack for seq 1 walker, got %+v", ack)
	}

	writeJSON(t, conn, map[string]any{"type": CommandSpawn, "id": "walker", "position": []float64{8, 0, 2}, "seq": 1})
	var dup commandAckMessage
	readJSON(t, conn, &dup)
	if dup.Type != TypeCommandAck || dup.Seq != 1 {
		t.Fatalf("expected duplicate ack for seq 1, got %+v", dup)
	}
	if pending := world.Pending(); pending != 1 {
		t.Fatalf("expected duplicate spawn to be skipped, got %d pending", pending)
	}

	writeJSON(t, conn, map[string]any{"type": CommandMoveTo, "id": "walker", "position": []float64{2, 0, 8}, "seq": 2})
	readJSON(t, conn, &ack)
	if ack.Type != TypeCommandAck || ack.Seq != 2 {
		t.Fatalf("expected ack for seq 2, got %+v", ack)
	}

	if _, err := world.Step(context.Background(), 0.1); err != nil {
		t.Fatalf("step failed: %v", err)
	}
	broadcaster.Broadcast()

	var state stateMessage
	readJSON(t, conn, &state)
	if state.Tick != 1 || len(state.Agents) != 1 {
		t.Fatalf("expected one agent at tick 1, got tick %d agents %d", state.Tick, len(state.Agents))
	}
	if state.Agents[0].ID != "walker" || !state.Agents[0].HasPath {
		t.Fatalf("expected walker with a path, got %+v", state.Agents[0])
	}
}

func TestHandleRejectsInvalidCommands(t *testing.T) {
	world := newStreamWorld(t)
	_, conn := dialStream(t, world)

	var initial stateMessage
	readJSON(t, conn, &initial)

	tests := []struct {
		name   string
		msg    map[string]any
		reason string
	}{
		{name: "unknown type", msg: map[string]any{"type": "teleport", "id": "a", "seq": 1}, reason: RejectUnknownType},
		{name: "missing position", msg: map[string]any{"type": CommandMoveTo, "id": "a", "seq": 2}, reason: RejectMissingPayload},
		{name: "missing id", msg: map[string]any{"type": CommandStop, "seq": 3}, reason: RejectMissingAgent},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			writeJSON(t, conn, tc.msg)
			var reject commandRejectMessage
			readJSON(t, conn, &reject)
			if reject.Type != TypeCommandReject || reject.Reason != tc.reason {
				t.Fatalf("expected reject %q, got %+v", tc.reason, reject)
			}
			if reject.Retry {
				t.Fatalf("expected no retry hint for %q", tc.reason)
			}
		})
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("failed to write malformed message: %v", err)
	}
	var errMsg errorMessage
	readJSON(t, conn, &errMsg)
	if errMsg.Type != TypeError {
		t.Fatalf("expected error message, got %+v", errMsg)
	}
}

func TestBroadcastDropsClosedSubscribers(t *testing.T) {
	world := newStreamWorld(t)
	broadcaster, conn := dialStream(t, world)

	var initial stateMessage
	readJSON(t, conn, &initial)
	if count := broadcaster.Count(); count != 1 {
		t.Fatalf("expected 1 subscriber, got %d", count)
	}

	conn.Close()
	deadline := time.Now().Add(5 * time.Second)
	for broadcaster.Count() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("expected subscriber to be removed after disconnect")
		}
		broadcaster.Broadcast()
		time.Sleep(10 * time.Millisecond)
	}
}

func websocketURL(t *testing.T, raw string) string {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("failed to parse server URL: %v", err)
	}
	u.Scheme = "ws"
	return u.String()
}
