// Package sse fans report events out to connected staff dashboards.
package sse

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	clientBuffer    = 25
	keepAlivePeriod = 15 * time.Second
)

// stream is one connected dashboard's outbound queue.
type stream chan []byte

type Hub struct {
	log *logrus.Entry

	joins  chan stream
	leaves chan stream
	events chan []byte
	done   chan struct{}

	mu      sync.Mutex
	streams map[stream]struct{}
}

func NewHub(log *logrus.Entry) *Hub {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Hub{
		log:     log,
		joins:   make(chan stream),
		leaves:  make(chan stream),
		events:  make(chan []byte, 100),
		done:    make(chan struct{}),
		streams: make(map[stream]struct{}),
	}
}

// Run serves joins, leaves and events until ctx ends, then closes every
// stream.
func (h *Hub) Run(ctx context.Context) {
	defer h.shutdown()
	for {
		select {
		case <-ctx.Done():
			return
		case s := <-h.joins:
			h.mu.Lock()
			h.streams[s] = struct{}{}
			h.mu.Unlock()
		case s := <-h.leaves:
			h.drop(s)
		case msg := <-h.events:
			h.fanOut(msg)
		}
	}
}

func (h *Hub) drop(s stream) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.streams[s]; !ok {
		return
	}
	delete(h.streams, s)
	close(s)
}

func (h *Hub) fanOut(msg []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.streams {
		select {
		case s <- msg:
		default:
			h.log.Debug("sse client too slow; event dropped")
		}
	}
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	for s := range h.streams {
		delete(h.streams, s)
		close(s)
	}
	h.mu.Unlock()
	close(h.done)
}

func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.streams)
}

// Broadcast queues b for every client. Payloads that are not JSON are wrapped.
// When the queue is full the event is dropped.
func (h *Hub) Broadcast(b []byte) {
	msg := bytes.Clone(b)
	if !json.Valid(msg) {
		msg, _ = json.Marshal(struct {
			Event   string `json:"event"`
			Payload string `json:"payload"`
		}{"raw", string(b)})
	}
	select {
	case h.events <- msg:
	case <-h.done:
	default:
		h.log.Warn("sse broadcast queue full; event dropped")
	}
}

func (h *Hub) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		out := make(stream, clientBuffer)
		select {
		case h.joins <- out:
		case <-h.done:
			http.Error(w, "stream closed", http.StatusServiceUnavailable)
			return
		case <-r.Context().Done():
			return
		}
		defer func() {
			select {
			case h.leaves <- out:
			case <-h.done:
			}
		}()

		hdr := w.Header()
		hdr.Set("Content-Type", "text/event-stream")
		hdr.Set("Cache-Control", "no-cache")
		hdr.Set("Connection", "keep-alive")

		bw := bufio.NewWriter(w)
		writeEvent(bw, []byte(`{"event":"connected"}`))
		_ = bw.Flush()
		flusher.Flush()

		keepAlive := time.NewTicker(keepAlivePeriod)
		defer keepAlive.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case <-keepAlive.C:
				_, _ = bw.WriteString(": keep-alive\n\n")
			case msg, ok := <-out:
				if !ok {
					return
				}
				writeEvent(bw, msg)
			}
			_ = bw.Flush()
			flusher.Flush()
		}
	}
}

func writeEvent(w *bufio.Writer, data []byte) {
	_, _ = fmt.Fprintf(w, "data: %s\n\n", bytes.ReplaceAll(data, []byte("\n"), nil))
}
