package reports

import (
	"context"
	"time"
)

const (
	EventSubmitted       = "submitted"
	EventAssigned        = "assigned"
	EventWorkStarted     = "work_started"
	EventCompleted       = "completed"
	EventCancelled       = "cancelled"
	EventApproved        = "approved"
	EventRejected        = "rejected"
	EventPriorityChanged = "priority_changed"
	EventFeedback        = "feedback"
)

// Event describes one lifecycle change. It never carries the reporter's
// contact details.
type Event struct {
	Event        string    `json:"event"`
	TicketCode   string    `json:"ticket_code"`
	Category     Category  `json:"category"`
	From         Status    `json:"from,omitempty"`
	To           Status    `json:"to"`
	Priority     Priority  `json:"priority,omitempty"`
	RepairID     int64     `json:"repair_id,omitempty"`
	TechnicianID string    `json:"technician_id,omitempty"`
	Actor        string    `json:"actor,omitempty"`
	Rating       int       `json:"rating,omitempty"`
	At           time.Time `json:"at"`
}

// Publisher delivers lifecycle events. Delivery is best effort; a failure
// never undoes a committed transition.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// ViewCache stores rendered tracking views keyed by ticket code.
type ViewCache interface {
	Get(ctx context.Context, code string) ([]byte, bool, error)
	Set(ctx context.Context, code string, view []byte) error
	Invalidate(ctx context.Context, code string) error
}

// TechnicianDirectory confirms that a staff id belongs to a technician.
type TechnicianDirectory interface {
	IsTechnician(ctx context.Context, id string) (bool, error)
}
