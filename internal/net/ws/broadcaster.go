package ws

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"crowdnav/internal/crowd"
	"crowdnav/internal/telemetry"
)

const writeWait = 10 * time.Second

const (
	metricSubscribers    = "ws_subscribers"
	metricBroadcastBytes = "ws_broadcast_bytes_total"
	metricWriteFailures  = "ws_write_failures_total"
)

type subscriber struct {
	id      uint64
	conn    *websocket.Conn
	mu      sync.Mutex
	lastSeq atomic.Uint64
}

// WriteMessage serialises writes to the connection.
func (s *subscriber) WriteMessage(messageType int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(messageType, data)
}

func (s *subscriber) LastCommandSeq() uint64 {
	return s.lastSeq.Load()
}

func (s *subscriber) StoreLastCommandSeq(seq uint64) {
	s.lastSeq.Store(seq)
}

// Broadcaster fans world snapshots out to websocket subscribers.
type Broadcaster struct {
	world   *crowd.World
	logger  telemetry.Logger
	metrics telemetry.Metrics
	now     func() time.Time

	mu          sync.Mutex
	subscribers map[uint64]*subscriber
	nextID      atomic.Uint64
}

func NewBroadcaster(world *crowd.World, logger telemetry.Logger, metrics telemetry.Metrics) *Broadcaster {
	if logger == nil {
		logger = telemetry.LoggerFunc(nil)
	}
	if metrics == nil {
		metrics = telemetry.NopMetrics()
	}
	return &Broadcaster{
		world:       world,
		logger:      logger,
		metrics:     metrics,
		now:         time.Now,
		subscribers: make(map[uint64]*subscriber),
	}
}

// Subscribe registers conn for state updates.
func (b *Broadcaster) Subscribe(conn *websocket.Conn) *subscriber {
	sub := &subscriber{id: b.nextID.Add(1), conn: conn}
	b.mu.Lock()
	b.subscribers[sub.id] = sub
	count := len(b.subscribers)
	b.mu.Unlock()
	b.metrics.Store(metricSubscribers, uint64(count))
	return sub
}

// Unsubscribe removes and closes a subscriber. Unknown subscribers are
// ignored.
func (b *Broadcaster) Unsubscribe(sub *subscriber) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	_, ok := b.subscribers[sub.id]
	delete(b.subscribers, sub.id)
	count := len(b.subscribers)
	b.mu.Unlock()
	if !ok {
		return
	}
	b.metrics.Store(metricSubscribers, uint64(count))
	sub.conn.Close()
}

// Count returns the number of live subscribers.
func (b *Broadcaster) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

// MarshalState encodes the world's latest publication.
func (b *Broadcaster) MarshalState() ([]byte, error) {
	agents, ready := b.world.Snapshot()
	if agents == nil {
		agents = []crowd.AgentView{}
	}
	msg := stateMessage{
		Ver:        ProtocolVersion,
		Type:       TypeState,
		Tick:       b.world.CurrentTick(),
		Ready:      ready,
		Agents:     agents,
		ServerTime: b.now().UnixMilli(),
	}
	return json.Marshal(msg)
}

// Broadcast sends the current state to every subscriber. Subscribers
// whose write fails are dropped.
func (b *Broadcaster) Broadcast() {
	b.mu.Lock()
	if len(b.subscribers) == 0 {
		b.mu.Unlock()
		return
	}
	subs := make([]*subscriber, 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		subs = append(subs, sub)
	}
	b.mu.Unlock()

	data, err := b.MarshalState()
	if err != nil {
		b.logger.Printf("[ws] failed to marshal state message: %v", err)
		return
	}
	for _, sub := range subs {
		if err := sub.WriteMessage(websocket.TextMessage, data); err != nil {
			b.logger.Printf("[ws] failed to send update to subscriber %d: %v", sub.id, err)
			b.metrics.Add(metricWriteFailures, 1)
			b.Unsubscribe(sub)
			continue
		}
		b.metrics.Add(metricBroadcastBytes, uint64(len(data)))
	}
}

// Close disconnects every subscriber.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	subs := b.subscribers
	b.subscribers = make(map[uint64]*subscriber)
	b.mu.Unlock()
	for _, sub := range subs {
		message := websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down")
		sub.WriteMessage(websocket.CloseMessage, message)
		sub.conn.Close()
	}
	b.metrics.Store(metricSubscribers, 0)
}
