package reports

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

type Category string

const (
	CategoryRepair  Category = "repair"
	CategoryRequest Category = "request"
	CategoryGeneral Category = "general"
)

func (c Category) Valid() bool {
	return c == CategoryRepair || c == CategoryRequest || c == CategoryGeneral
}

// Status is the internal lifecycle state. Display strings live in display.go.
type Status string

const (
	StatusSubmitted  Status = "submitted"
	StatusAssigned   Status = "assigned"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusApproved   Status = "approved"
	StatusRejected   Status = "rejected"
)

var allStatuses = []Status{
	StatusSubmitted, StatusAssigned, StatusInProgress, StatusCompleted,
	StatusCancelled, StatusApproved, StatusRejected,
}

func (s Status) Valid() bool { return slices.Contains(allStatuses, s) }

// Terminal states accept no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusApproved, StatusRejected:
		return true
	}
	return false
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type Report struct {
	ID            int64        `json:"-"`
	TicketCode    string       `json:"ticket_code"`
	Category      Category     `json:"category"`
	ProblemTypeID *int64       `json:"problem_type_id,omitempty"`
	Description   string       `json:"description"`
	ReporterName  string       `json:"reporter_name"`
	ReporterPhone string       `json:"reporter_phone"`
	Location      string       `json:"location,omitempty"`
	Coordinates   *Coordinates `json:"coordinates,omitempty"`

	// Asset is a weak reference; name and location are a snapshot taken at submission.
	AssetCode     *string `json:"asset_code,omitempty"`
	AssetName     string  `json:"asset_name,omitempty"`
	AssetLocation string  `json:"asset_location,omitempty"`

	Images     []string   `json:"images"`
	Status     Status     `json:"status"`
	Priority   Priority   `json:"priority"`
	StatusNote string     `json:"status_note,omitempty"`
	Rating     *int       `json:"rating,omitempty"`
	Feedback   *string    `json:"feedback,omitempty"`
	FeedbackAt *time.Time `json:"feedback_at,omitempty"`

	IdempotencyKey string    `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Repair is the work order owned by a repair-category report. Its status
// only ever takes assigned, in_progress, completed or cancelled.
type Repair struct {
	ID             int64            `json:"id"`
	ReportID       int64            `json:"-"`
	TechnicianID   string           `json:"technician_id"`
	EstimatedCost  *decimal.Decimal `json:"estimated_cost,omitempty"`
	ActualCost     *decimal.Decimal `json:"actual_cost,omitempty"`
	StartDate      *time.Time       `json:"start_date,omitempty"`
	CompletionDate *time.Time       `json:"completion_date,omitempty"`
	Notes          string           `json:"notes,omitempty"`
	AfterImages    []string         `json:"after_images"`
	Status         Status           `json:"status"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

type HistoryEntry struct {
	From  Status    `json:"from,omitempty"`
	To    Status    `json:"to"`
	Actor string    `json:"actor"`
	Note  string    `json:"note,omitempty"`
	At    time.Time `json:"at"`
}

type SubmitInput struct {
	Category       string   `json:"category" validate:"required,oneof=repair request general"`
	ProblemTypeID  *int64   `json:"problem_type_id,omitempty" validate:"omitempty,gt=0"`
	Description    string   `json:"description" validate:"required,max=2000"`
	ReporterName   string   `json:"reporter_name" validate:"required,max=200"`
	ReporterPhone  string   `json:"reporter_phone" validate:"required,thphone"`
	Location       string   `json:"location,omitempty" validate:"max=500"`
	Latitude       *float64 `json:"latitude,omitempty" validate:"omitempty,latitude"`
	Longitude      *float64 `json:"longitude,omitempty" validate:"omitempty,longitude"`
	AssetCode      string   `json:"asset_code,omitempty" validate:"max=64"`
	Images         []string `json:"images,omitempty" validate:"max=10,dive,required,max=1000"`
	Priority       string   `json:"priority,omitempty" validate:"omitempty,oneof=low normal high urgent"`
	IdempotencyKey string   `json:"-" validate:"max=64"`
}

type SubmitResult struct {
	TicketCode string `json:"ticket_code"`
	Status     Status `json:"status"`
	// Duplicate is set when an earlier submission with the same idempotency key is returned.
	Duplicate bool `json:"duplicate,omitempty"`
}

type AssignInput struct {
	TechnicianID  string `json:"technician_id"`
	EstimatedCost string `json:"estimated_cost,omitempty"`
	Note          string `json:"note,omitempty"`
}

type CompleteInput struct {
	ActualCost     string   `json:"actual_cost"`
	CompletionDate string   `json:"completion_date,omitempty"`
	Notes          string   `json:"notes,omitempty"`
	AfterImages    []string `json:"after_images,omitempty"`
}

type ListFilter struct {
	Status   Status
	Category Category
	Limit    int
	Offset   int
}
