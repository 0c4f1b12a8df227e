package dashboard

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/lukejkirsten91/riverwalks-sub003/internal/engine"
	"github.com/lukejkirsten91/riverwalks-sub003/internal/events"
)

// Handler subscribes to sync engine lifecycle events and re-broadcasts
// them as dashboard messages, each followed by a fresh status snapshot.
type Handler struct {
	server *Server
	engine *engine.Engine
	logger *log.Logger

	cancel func()
	done   chan struct{}
	once   sync.Once
}

// NewHandler creates an event handler bridging an engine to a dashboard
// server.
func NewHandler(server *Server, eng *engine.Engine, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{
		server: server,
		engine: eng,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Start subscribes to engine events and begins forwarding them.
func (h *Handler) Start() {
	ch, cancel := h.engine.Events().Subscribe()
	h.cancel = cancel

	go func() {
		defer close(h.done)
		for ev := range ch {
			h.forward(ev)
		}
	}()
}

// Stop unsubscribes and waits for the forwarding goroutine to exit.
func (h *Handler) Stop() {
	h.once.Do(func() {
		if h.cancel != nil {
			h.cancel()
		}
		<-h.done
	})
}

func (h *Handler) forward(ev events.Event) {
	msg := Message{Timestamp: ev.At}

	switch ev.Type {
	case events.SyncStarted:
		msg.Type = MessageTypeSyncStarted
	case events.SyncCompleted:
		msg.Type = MessageTypeSyncCompleted
	case events.SyncFailed:
		msg.Type = MessageTypeSyncFailed
		data, err := json.Marshal(SyncFailedData{Reason: ev.Reason})
		if err != nil {
			h.logger.Printf("Failed to marshal failure data: %v", err)
			return
		}
		msg.Data = data
	case events.DataChanged:
		msg.Type = MessageTypeDataChanged
	default:
		return
	}

	h.server.Broadcast(msg)
	h.broadcastStatus()
}

// broadcastStatus pushes a current status snapshot to all clients.
func (h *Handler) broadcastStatus() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	status, err := h.engine.GetSyncStatus(ctx)
	if err != nil {
		h.logger.Printf("Failed to read sync status: %v", err)
		return
	}

	data, err := json.Marshal(StatusData{
		PendingCount: status.PendingCount,
		IsOnline:     status.IsOnline,
		IsSyncing:    status.IsSyncing,
		LastError:    status.LastError,
	})
	if err != nil {
		h.logger.Printf("Failed to marshal status: %v", err)
		return
	}

	h.server.Broadcast(Message{
		Type:      MessageTypeStatus,
		Timestamp: time.Now(),
		Data:      data,
	})
}
