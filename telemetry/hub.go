// Package telemetry implements the out-of-band LogEntry fan-out described in
// SPEC_FULL.md #4.6: every request/response/error/info event is pushed onto a
// bounded channel and relayed to a structured logger plus any number of
// WebSocket-style subscribers, without ever blocking the connection handler
// that produced it.
package telemetry

import (
	"context"
	"encoding/hex"
	"sync"
	"sync/atomic"

	"github.com/voronovmaksim88/modbus-tcp-slave-sim/common"
	"github.com/voronovmaksim88/modbus-tcp-slave-sim/model"
)

// hubBufferSize bounds the fan-out channel; publishers never block on it.
const hubBufferSize = 1024

// Hub fans LogEntry values out to a structured logger and to subscribers.
// Ref: SPEC_FULL.md #4.6 "Telemetry fan-out".
type Hub struct {
	logger common.LoggerInterface

	nextID  atomic.Uint64
	entries chan model.LogEntry
	dropped atomic.Uint64

	mu   sync.RWMutex
	subs map[int]chan model.LogEntry

	nextSubID int
	closed    chan struct{}
	closeOnce sync.Once

	onDrop func()
}

// SetDropHook registers a callback invoked once per dropped entry, in
// addition to the internal Dropped() counter - the serve command wires it to
// the metrics package's telemetry_dropped_total counter.
func (h *Hub) SetDropHook(fn func()) {
	h.mu.Lock()
	h.onDrop = fn
	h.mu.Unlock()
}

func (h *Hub) drop() {
	h.dropped.Add(1)
	h.mu.RLock()
	hook := h.onDrop
	h.mu.RUnlock()
	if hook != nil {
		hook()
	}
}

// NewHub creates a Hub and starts its logger-sink goroutine.
func NewHub(logger common.LoggerInterface) *Hub {
	h := &Hub{
		logger:  logger,
		entries: make(chan model.LogEntry, hubBufferSize),
		subs:    make(map[int]chan model.LogEntry),
		closed:  make(chan struct{}),
	}
	go h.run()
	return h
}

// NextID returns the next monotonic LogEntry id.
func (h *Hub) NextID() uint64 {
	return h.nextID.Add(1)
}

// Dropped returns the count of entries dropped because the fan-out channel
// or a subscriber's channel was full.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// Publish enqueues an entry. Best-effort: if the internal channel is full
// the entry is dropped and the dropped-entry counter is incremented. Never
// blocks the caller.
func (h *Hub) Publish(entry model.LogEntry) {
	select {
	case h.entries <- entry:
	default:
		h.drop()
	}
}

// Subscribe registers a new WebSocket-style subscriber. The returned channel
// receives every entry published after this call; the returned cancel func
// must be called to unregister and release the channel.
func (h *Hub) Subscribe() (<-chan model.LogEntry, func()) {
	ch := make(chan model.LogEntry, 256)

	h.mu.Lock()
	id := h.nextSubID
	h.nextSubID++
	h.subs[id] = ch
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
	}
	return ch, cancel
}

// Close stops the logger-sink goroutine.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.closed) })
}

func (h *Hub) run() {
	for {
		select {
		case <-h.closed:
			return
		case entry := <-h.entries:
			h.deliver(entry)
		}
	}
}

func (h *Hub) deliver(entry model.LogEntry) {
	ctx := context.Background()
	switch entry.EntryType {
	case model.EntryTypeError:
		h.logger.Error(ctx, "%s | %s", entry.ClientAddr, entry.Summary)
	case model.EntryTypeInfo:
		h.logger.Info(ctx, "%s", entry.Summary)
	default:
		h.logger.Debug(ctx, "%s | %s", entry.ClientAddr, entry.Summary)
	}

	h.mu.RLock()
	subs := make([]chan model.LogEntry, 0, len(h.subs))
	for _, sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	for _, sub := range subs {
		select {
		case sub <- entry:
		default:
			h.drop()
		}
	}
}

// HexString renders a frame for LogEntry.RawData.
func HexString(data []byte) string {
	return hex.EncodeToString(data)
}
