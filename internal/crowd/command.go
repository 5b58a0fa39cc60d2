package crowd

import (
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"crowdnav/internal/steer"
	"crowdnav/internal/telemetry"
)

// CommandType enumerates the supported world commands.
type CommandType string

const (
	CommandSpawn      CommandType = "spawn"
	CommandDespawn    CommandType = "despawn"
	CommandMoveTo     CommandType = "moveTo"
	CommandStop       CommandType = "stop"
	CommandMoveVertex CommandType = "moveVertex"
	CommandSetArea    CommandType = "setArea"
)

// SpawnCommand places a new agent.
type SpawnCommand struct {
	Position mgl64.Vec3     `json:"position"`
	Yaw      float64        `json:"yaw"`
	Settings steer.Settings `json:"settings"`
}

// MoveToCommand sets an agent's destination.
type MoveToCommand struct {
	Destination mgl64.Vec3 `json:"destination"`
}

// VertexCommand moves one mesh vertex.
type VertexCommand struct {
	Index    int32      `json:"index"`
	Position mgl64.Vec3 `json:"position"`
}

// AreaCommand retags one triangle.
type AreaCommand struct {
	Triangle int32 `json:"triangle"`
	Area     uint8 `json:"area"`
}

// Command is an intent applied at the start of the next tick.
type Command struct {
	OriginTick uint64         `json:"originTick"`
	AgentID    string         `json:"agentId,omitempty"`
	Type       CommandType    `json:"type"`
	IssuedAt   time.Time      `json:"issuedAt"`
	Spawn      *SpawnCommand  `json:"spawn,omitempty"`
	MoveTo     *MoveToCommand `json:"moveTo,omitempty"`
	Vertex     *VertexCommand `json:"vertex,omitempty"`
	Area       *AreaCommand   `json:"area,omitempty"`

	// MeshGeneration is the mesh a vertex or area edit was issued against.
	MeshGeneration uint64 `json:"meshGeneration,omitempty"`
}

// editsMesh reports whether the command names mesh elements by index.
func (c Command) editsMesh() bool {
	return c.Type == CommandMoveVertex || c.Type == CommandSetArea
}

const (
	commandBufferOccupancyMetricKey = "crowd_command_buffer_occupancy"
	commandBufferOverflowMetricKey  = "crowd_command_buffer_overflow_total"
)

// CommandBuffer stores staged commands in a fixed-size ring. It is safe for
// concurrent producers and a single consumer.
type CommandBuffer struct {
	mu      sync.Mutex
	data    []Command
	head    int
	tail    int
	count   int
	metrics telemetry.Metrics
}

// NewCommandBuffer constructs a ring buffer with the provided capacity.
func NewCommandBuffer(capacity int, metrics telemetry.Metrics) *CommandBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &CommandBuffer{
		data:    make([]Command, capacity),
		metrics: metrics,
	}
}

// Capacity reports the maximum number of commands the buffer can hold.
func (b *CommandBuffer) Capacity() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// Push stages a command, returning false if the buffer is full.
func (b *CommandBuffer) Push(cmd Command) bool {
	if b == nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.count == len(b.data) {
		if b.metrics != nil {
			b.metrics.Add(commandBufferOverflowMetricKey, 1)
		}
		return false
	}
	b.data[b.tail] = cmd
	b.tail = (b.tail + 1) % len(b.data)
	b.count++
	b.storeOccupancyLocked()
	return true
}

// Drain returns all staged commands in FIFO order and clears the buffer.
func (b *CommandBuffer) Drain() []Command {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.count == 0 {
		return nil
	}
	commands := make([]Command, b.count)
	for i := range commands {
		commands[i] = b.data[(b.head+i)%len(b.data)]
		b.data[(b.head+i)%len(b.data)] = Command{}
	}
	b.head = 0
	b.tail = 0
	b.count = 0
	b.storeOccupancyLocked()
	return commands
}

// Len reports the number of staged commands.
func (b *CommandBuffer) Len() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

func (b *CommandBuffer) storeOccupancyLocked() {
	if b.metrics == nil {
		return
	}
	b.metrics.Store(commandBufferOccupancyMetricKey, uint64(b.count))
}
