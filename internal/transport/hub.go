package transport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/dynamicworkspace/presence-sensor/internal/calibration"
	"github.com/dynamicworkspace/presence-sensor/internal/state"
	"github.com/dynamicworkspace/presence-sensor/internal/telemetry"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const (
	pingInterval = 10 * time.Second
	pingTimeout  = 10 * time.Second
	idlePoll     = 20 * time.Millisecond
)

// CommandHandler is the pipeline-side implementation of every client->server
// command (spec §6.3). Kept as an interface so transport has no compile-time
// dependency on the pipeline orchestration package.
type CommandHandler interface {
	Cameras(ctx context.Context, maxIndex int) (list []int, current int)
	SwitchCamera(ctx context.Context, index int) error
	CalibratePhase(ctx context.Context, phase calibration.Phase, duration time.Duration) calibration.PhaseResult
	CalibrateFinalize(ctx context.Context) (calibration.Profile, error)
	SetConfMin(value float64)
	SetQoS(procScale *float64, fdStride, poseStride *int, targetFPS *float64)
}

// Hub tracks connected clients for the WSConnections gauge and owns the
// shared store and command handler every connection is wired to. Grounded
// on this codebase's register/unregister client-bookkeeping Hub, adapted
// from a central broadcast loop (no single message fits every client here)
// to per-connection sender/receiver pairs that each read the shared store
// directly (spec §4.8, §5).
type Hub struct {
	mu      sync.Mutex
	clients map[*connection]bool

	store   *state.Store
	handler CommandHandler
}

// NewHub wires a hub to the shared state store and command handler.
func NewHub(store *state.Store, handler CommandHandler) *Hub {
	return &Hub{clients: make(map[*connection]bool), store: store, handler: handler}
}

// HandleWS upgrades the request and spawns the sender/receiver pair for the
// new connection.
func (h *Hub) HandleWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	cn := &connection{
		ws:      conn,
		store:   h.store,
		handler: h.handler,
		send:    make(chan []byte, 64),
		cancel:  cancel,
	}

	h.mu.Lock()
	h.clients[cn] = true
	h.mu.Unlock()
	telemetry.WSConnections.Inc()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		cn.sendLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		cn.receiveLoop(ctx)
	}()
	go func() {
		// Closing the socket unblocks a receiver still waiting in
		// ReadMessage once the sender has stopped.
		<-ctx.Done()
		conn.Close()
	}()

	go func() {
		// A connection is closed when either the sender or receiver task
		// terminates; the other is cancelled promptly (spec §5).
		wg.Wait()
		h.mu.Lock()
		delete(h.clients, cn)
		h.mu.Unlock()
		telemetry.WSConnections.Dec()
		conn.Close()
	}()
}

type connection struct {
	ws      *websocket.Conn
	store   *state.Store
	handler CommandHandler

	send   chan []byte
	cancel context.CancelFunc

	writeMu sync.Mutex
}

func (c *connection) writeJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(pingTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// sendLoop emits a state message on every change, a heartbeat every
// hb_interval_s, and keeps the connection's ping cadence (spec §4.8, §5:
// "State messages precede any heartbeat that would have been sent after
// the change; implementations achieve this by checking state before
// heartbeat each iteration").
func (c *connection) sendLoop(ctx context.Context) {
	defer c.cancel()

	lastSent := ""
	lastHeartbeat := time.Time{}
	lastPing := time.Now()

	ticker := time.NewTicker(idlePoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		p, progress := c.store.State()
		if string(p) != lastSent {
			if err := c.writeJSON(NewStateMessage(string(p))); err != nil {
				return
			}
			lastSent = string(p)
		}

		qosState := c.store.QoS()
		hbInterval := time.Duration(qosState.HBIntervalS * float64(time.Second))
		now := time.Now()
		if now.Sub(lastHeartbeat) >= hbInterval {
			if err := c.writeJSON(c.buildHeartbeat(progress)); err != nil {
				return
			}
			lastHeartbeat = now
		}

		if now.Sub(lastPing) >= pingInterval {
			c.writeMu.Lock()
			c.ws.SetWriteDeadline(time.Now().Add(pingTimeout))
			err := c.ws.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
			lastPing = now
		}
	}
}
