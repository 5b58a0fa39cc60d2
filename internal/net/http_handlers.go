// Package net exposes a crowd world over HTTP.
package net

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	nethttp "net/http"
	"strconv"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"crowdnav/internal/bake"
	"crowdnav/internal/bakestore"
	"crowdnav/internal/crowd"
	"crowdnav/internal/net/ws"
	"crowdnav/internal/steer"
	"crowdnav/internal/telemetry"
	"crowdnav/logging"
)

type HTTPHandlerConfig struct {
	Logger telemetry.Logger
	// Router is optional; its stats and metrics are included in
	// /debug/telemetry.
	Router *logging.Router
	// Stream serves /ws when set.
	Stream *ws.Handler
	// Settings are used for spawns and path queries that omit them.
	Settings steer.Settings
	// Scenes serves POST /mesh/scenes/{id} when set.
	Scenes SceneLoader
}

// SceneLoader reads a stored bake by scene id.
type SceneLoader func(ctx context.Context, sceneID uint32) (bake.Descriptor, error)

// maxBakeBytes caps a bake uploaded through PUT /mesh.
const maxBakeBytes = 64 << 20

type spawnRequest struct {
	ID       string          `json:"id"`
	Position [3]float64      `json:"position"`
	Yaw      float64         `json:"yaw"`
	Settings *steer.Settings `json:"settings"`
}

type positionRequest struct {
	Position *[3]float64 `json:"position"`
}

type areaRequest struct {
	Area *uint8 `json:"area"`
}

type pathRequest struct {
	Start       [3]float64      `json:"start"`
	Destination [3]float64      `json:"destination"`
	Settings    *steer.Settings `json:"settings"`
}

type meshResponse struct {
	SceneID    uint32 `json:"sceneId"`
	Vertices   int    `json:"vertices"`
	Triangles  int    `json:"triangles"`
	Generation uint64 `json:"generation"`
	Tick       uint64 `json:"tick"`
}

type acceptedResponse struct {
	ID      string `json:"id,omitempty"`
	Tick    uint64 `json:"tick"`
	Pending int    `json:"pending"`
}

func NewHTTPHandler(world *crowd.World, cfg HTTPHandlerConfig) nethttp.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.LoggerFunc(nil)
	}
	defaults := cfg.Settings.Normalized()
	settingsOr := func(s *steer.Settings) steer.Settings {
		if s == nil {
			return defaults
		}
		return s.Normalized()
	}

	mux := nethttp.NewServeMux()

	mux.HandleFunc("GET /health", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("GET /ready", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		payload := struct {
			Ready bool   `json:"ready"`
			Tick  uint64 `json:"tick"`
		}{
			Ready: world.Ready(),
			Tick:  world.CurrentTick(),
		}
		status := nethttp.StatusOK
		if !payload.Ready {
			status = nethttp.StatusServiceUnavailable
		}
		writeJSON(w, status, payload)
	})

	mux.HandleFunc("GET /agents", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		agents, ok := world.Snapshot()
		if !ok {
			httpError(w, crowd.ErrNoMesh.Error(), nethttp.StatusServiceUnavailable)
			return
		}
		if agents == nil {
			agents = []crowd.AgentView{}
		}
		writeJSON(w, nethttp.StatusOK, struct {
			Tick   uint64            `json:"tick"`
			Agents []crowd.AgentView `json:"agents"`
		}{Tick: world.CurrentTick(), Agents: agents})
	})

	mux.HandleFunc("POST /agents", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		var req spawnRequest
		if !decodeBody(w, r, &req) {
			return
		}
		id := req.ID
		if id == "" {
			id = world.NextAgentID()
		}
		cmd := crowd.Command{
			AgentID: id,
			Type:    crowd.CommandSpawn,
			Spawn: &crowd.SpawnCommand{
				Position: mgl64.Vec3(req.Position),
				Yaw:      req.Yaw,
				Settings: settingsOr(req.Settings),
			},
		}
		enqueue(w, world, cmd)
	})

	mux.HandleFunc("GET /agents/{id}", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		view, err := world.Agent(r.PathValue("id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, nethttp.StatusOK, view)
	})

	mux.HandleFunc("DELETE /agents/{id}", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		enqueue(w, world, crowd.Command{AgentID: r.PathValue("id"), Type: crowd.CommandDespawn})
	})

	mux.HandleFunc("PUT /agents/{id}/destination", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		var req positionRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Position == nil {
			httpError(w, "missing position", nethttp.StatusBadRequest)
			return
		}
		enqueue(w, world, crowd.Command{
			AgentID: r.PathValue("id"),
			Type:    crowd.CommandMoveTo,
			MoveTo:  &crowd.MoveToCommand{Destination: mgl64.Vec3(*req.Position)},
		})
	})

	mux.HandleFunc("DELETE /agents/{id}/destination", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		enqueue(w, world, crowd.Command{AgentID: r.PathValue("id"), Type: crowd.CommandStop})
	})

	replaceMesh := func(w nethttp.ResponseWriter, r *nethttp.Request, desc bake.Descriptor) {
		if err := world.ReplaceMesh(r.Context(), desc); err != nil {
			httpError(w, err.Error(), nethttp.StatusBadRequest)
			return
		}
		logger.Printf("[http] mesh replaced scene=%d triangles=%d", desc.SceneID, len(desc.Triangles))
		writeJSON(w, nethttp.StatusOK, meshResponse{
			SceneID:    desc.SceneID,
			Vertices:   len(desc.Vertices),
			Triangles:  len(desc.Triangles),
			Generation: world.MeshGeneration(),
			Tick:       world.CurrentTick(),
		})
	}

	mux.HandleFunc("PUT /mesh", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		data, err := io.ReadAll(nethttp.MaxBytesReader(w, r.Body, maxBakeBytes))
		if err != nil {
			httpError(w, "failed to read bake", nethttp.StatusBadRequest)
			return
		}
		desc, err := bake.Decode(data, bakeFormat(r.Header.Get("Content-Type")))
		if err != nil {
			httpError(w, err.Error(), nethttp.StatusBadRequest)
			return
		}
		replaceMesh(w, r, desc)
	})

	if cfg.Scenes != nil {
		mux.HandleFunc("POST /mesh/scenes/{id}", func(w nethttp.ResponseWriter, r *nethttp.Request) {
			sceneID, err := strconv.ParseUint(r.PathValue("id"), 10, 32)
			if err != nil || sceneID == 0 {
				httpError(w, "invalid scene id", nethttp.StatusBadRequest)
				return
			}
			desc, err := cfg.Scenes(r.Context(), uint32(sceneID))
			if err != nil {
				if errors.Is(err, bakestore.ErrNotFound) {
					httpError(w, err.Error(), nethttp.StatusNotFound)
					return
				}
				httpError(w, err.Error(), nethttp.StatusInternalServerError)
				return
			}
			replaceMesh(w, r, desc)
		})
	}

	mux.HandleFunc("PUT /mesh/vertices/{index}", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		index, err := strconv.ParseInt(r.PathValue("index"), 10, 32)
		if err != nil || index < 0 {
			httpError(w, "invalid vertex index", nethttp.StatusBadRequest)
			return
		}
		var req positionRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Position == nil {
			httpError(w, "missing position", nethttp.StatusBadRequest)
			return
		}
		enqueue(w, world, crowd.Command{
			Type:   crowd.CommandMoveVertex,
			Vertex: &crowd.VertexCommand{Index: int32(index), Position: mgl64.Vec3(*req.Position)},
		})
	})

	mux.HandleFunc("PUT /mesh/triangles/{id}/area", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		triangle, err := strconv.ParseInt(r.PathValue("id"), 10, 32)
		if err != nil || triangle < 0 {
			httpError(w, "invalid triangle id", nethttp.StatusBadRequest)
			return
		}
		var req areaRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Area == nil {
			httpError(w, "missing area", nethttp.StatusBadRequest)
			return
		}
		enqueue(w, world, crowd.Command{
			Type: crowd.CommandSetArea,
			Area: &crowd.AreaCommand{Triangle: int32(triangle), Area: *req.Area},
		})
	})

	mux.HandleFunc("POST /path", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		var req pathRequest
		if !decodeBody(w, r, &req) {
			return
		}
		waypoints, err := world.Path(mgl64.Vec3(req.Start), mgl64.Vec3(req.Destination), settingsOr(req.Settings))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, nethttp.StatusOK, struct {
			Waypoints []mgl64.Vec3 `json:"waypoints"`
		}{Waypoints: waypoints})
	})

	mux.HandleFunc("GET /debug/telemetry", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		payload := struct {
			ServerTime int64                `json:"serverTime"`
			Tick       uint64               `json:"tick"`
			Pending    int                  `json:"pending"`
			Counters   telemetry.Snapshot   `json:"counters"`
			Router     *logging.RouterStats `json:"router,omitempty"`
			Metrics    map[string]uint64    `json:"metrics,omitempty"`
		}{
			ServerTime: time.Now().UnixMilli(),
			Tick:       world.CurrentTick(),
			Pending:    world.Pending(),
			Counters:   world.Counters().Snapshot(),
		}
		if cfg.Router != nil {
			stats := cfg.Router.Stats()
			payload.Router = &stats
			payload.Metrics = cfg.Router.Metrics().Snapshot()
		}
		writeJSON(w, nethttp.StatusOK, payload)
	})

	mux.HandleFunc("GET /schema/bake", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		writeJSON(w, nethttp.StatusOK, bake.Schema())
	})

	if cfg.Stream != nil {
		mux.HandleFunc("GET /ws", cfg.Stream.Handle)
	}

	logger.Printf("[http] routes registered stream=%t scenes=%t", cfg.Stream != nil, cfg.Scenes != nil)
	return mux
}

func decodeBody(w nethttp.ResponseWriter, r *nethttp.Request, out any) bool {
	if r.Body == nil {
		return true
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil && err != io.EOF {
		httpError(w, "invalid payload", nethttp.StatusBadRequest)
		return false
	}
	return true
}

// bakeFormat maps a request media type to a bake encoding. Anything that
// is not msgpack is read as HJSON, which accepts plain JSON too.
func bakeFormat(contentType string) bake.Format {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return bake.FormatHJSON
	}
	switch mediaType {
	case "application/msgpack", "application/x-msgpack", "application/vnd.msgpack":
		return bake.FormatMsgpack
	default:
		return bake.FormatHJSON
	}
}

func enqueue(w nethttp.ResponseWriter, world *crowd.World, cmd crowd.Command) {
	if ok, reason := world.Enqueue(cmd); !ok {
		status := nethttp.StatusServiceUnavailable
		if reason == crowd.CommandRejectQueueLimit {
			status = nethttp.StatusTooManyRequests
		}
		httpError(w, "command rejected: "+reason, status)
		return
	}
	writeJSON(w, nethttp.StatusAccepted, acceptedResponse{
		ID:      cmd.AgentID,
		Tick:    world.CurrentTick(),
		Pending: world.Pending(),
	})
}

func writeError(w nethttp.ResponseWriter, err error) {
	switch {
	case errors.Is(err, crowd.ErrNoMesh):
		httpError(w, err.Error(), nethttp.StatusServiceUnavailable)
	case errors.Is(err, crowd.ErrUnknownAgent), errors.Is(err, crowd.ErrNoPath):
		httpError(w, err.Error(), nethttp.StatusNotFound)
	default:
		httpError(w, err.Error(), nethttp.StatusInternalServerError)
	}
}

func writeJSON(w nethttp.ResponseWriter, status int, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		httpError(w, "failed to encode", nethttp.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

func httpError(w nethttp.ResponseWriter, msg string, code int) {
	nethttp.Error(w, msg, code)
}
