// Package notify keeps the most recent report events for the notifier
// service and turns them into staff alerts.
package notify

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

type Record struct {
	ReceivedAt time.Time       `json:"received_at"`
	Topic      string          `json:"topic"`
	Event      string          `json:"event"`
	TicketCode string          `json:"ticket_code,omitempty"`
	Payload    json.RawMessage `json:"payload"`
}

// Ring holds the last max records, oldest first.
type Ring struct {
	mu    sync.Mutex
	max   int
	items []Record
	total int
}

func NewRing(max int) *Ring {
	if max <= 0 {
		max = 50
	}
	return &Ring{max: max, items: make([]Record, 0, max)}
}

func (r *Ring) Add(rec Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.total++
	if len(r.items) < r.max {
		r.items = append(r.items, rec)
		return
	}
	copy(r.items, r.items[1:])
	r.items[len(r.items)-1] = rec
}

func (r *Ring) Snapshot() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, len(r.items))
	copy(out, r.items)
	return out
}

// Total counts every record ever added, including evicted ones.
func (r *Ring) Total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}

// Handler records an MQTT message and logs an alert line for it.
func Handler(ring *Ring, log *logrus.Entry, now func() time.Time) func(topic string, payload []byte) {
	return func(topic string, payload []byte) {
		rec := Record{
			ReceivedAt: now().UTC(),
			Topic:      topic,
			Event:      topic[strings.LastIndex(topic, "/")+1:],
		}
		var head struct {
			TicketCode string `json:"ticket_code"`
		}
		if json.Valid(payload) {
			rec.Payload = json.RawMessage(append([]byte(nil), payload...))
			_ = json.Unmarshal(payload, &head)
			rec.TicketCode = head.TicketCode
		} else {
			rec.Payload, _ = json.Marshal(string(payload))
		}
		ring.Add(rec)
		log.WithFields(logrus.Fields{"topic": topic, "event": rec.Event, "ticket_code": rec.TicketCode}).Info("report alert")
	}
}
