package reports

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"citizenportal/internal/authz"
	"citizenportal/internal/idgen"
	"citizenportal/internal/metrics"
)

// ReportView is the assembled read model of one report. Label fields are
// filled per request by Localize; everything else is language-neutral.
type ReportView struct {
	TicketCode    string          `json:"ticket_code"`
	Category      Category        `json:"category"`
	CategoryLabel string          `json:"category_label"`
	ProblemTypeID *int64          `json:"problem_type_id,omitempty"`
	Description   string          `json:"description"`
	ReporterName  string          `json:"reporter_name"`
	ReporterPhone string          `json:"reporter_phone"`
	Location      string          `json:"location,omitempty"`
	Coordinates   *Coordinates    `json:"coordinates,omitempty"`
	AssetCode     *string         `json:"asset_code,omitempty"`
	AssetName     string          `json:"asset_name,omitempty"`
	AssetLocation string          `json:"asset_location,omitempty"`
	Images        []string        `json:"images"`
	Status        Status          `json:"status"`
	StatusLabel   string          `json:"status_label"`
	Priority      Priority        `json:"priority"`
	PriorityLabel string          `json:"priority_label"`
	StatusNote    string          `json:"status_note,omitempty"`
	Repair        *RepairView     `json:"repair,omitempty"`
	Feedback      *FeedbackView   `json:"feedback,omitempty"`
	Timeline      []TimelineEntry `json:"timeline"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

type RepairView struct {
	ID             int64            `json:"id"`
	TechnicianID   string           `json:"technician_id,omitempty"`
	EstimatedCost  *decimal.Decimal `json:"estimated_cost,omitempty"`
	ActualCost     *decimal.Decimal `json:"actual_cost,omitempty"`
	StartDate      *time.Time       `json:"start_date,omitempty"`
	CompletionDate *time.Time       `json:"completion_date,omitempty"`
	Notes          string           `json:"notes,omitempty"`
	AfterImages    []string         `json:"after_images"`
	Status         Status           `json:"status"`
	StatusLabel    string           `json:"status_label"`
}

type FeedbackView struct {
	Rating int       `json:"rating"`
	Text   string    `json:"text,omitempty"`
	At     time.Time `json:"at"`
}

type TimelineEntry struct {
	From    Status    `json:"from,omitempty"`
	To      Status    `json:"to"`
	ToLabel string    `json:"to_label"`
	Actor   string    `json:"actor,omitempty"`
	Note    string    `json:"note,omitempty"`
	At      time.Time `json:"at"`
}

// Localize fills every label field of v for lang.
func Localize(v *ReportView, lang Lang) {
	v.CategoryLabel = CategoryLabel(v.Category, lang)
	v.StatusLabel = Label(v.Status, lang)
	v.PriorityLabel = PriorityLabel(v.Priority, lang)
	if v.Repair != nil {
		v.Repair.StatusLabel = Label(v.Repair.Status, lang)
	}
	for i := range v.Timeline {
		v.Timeline[i].ToLabel = Label(v.Timeline[i].To, lang)
	}
}

// Tracker answers ticket-code lookups. It only reads.
type Tracker struct {
	repo    *Repository
	cache   ViewCache
	metrics *metrics.Metrics
	log     *logrus.Entry
}

func NewTracker(repo *Repository, cache ViewCache, m *metrics.Metrics, log *logrus.Entry) *Tracker {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Tracker{repo: repo, cache: cache, metrics: m, log: log}
}

// TrackByCode returns the public view of the report behind code. The phone
// is masked and staff identities are left out. Malformed codes are reported
// as not found without a store lookup.
func (t *Tracker) TrackByCode(ctx context.Context, code string, lang Lang) (*ReportView, error) {
	if !idgen.ValidTicketCode(code) {
		return nil, ErrNotFound
	}
	if v, ok := t.cached(ctx, code); ok {
		Localize(v, lang)
		return v, nil
	}

	v, err := t.assemble(ctx, code, true)
	if err != nil {
		return nil, err
	}
	t.store(ctx, code, v)
	Localize(v, lang)
	return v, nil
}

// Detail returns the unmasked staff view of a report.
func (t *Tracker) Detail(ctx context.Context, p *authz.Principal, code string, lang Lang) (*ReportView, error) {
	if err := authz.Authorize(p, authz.OpListReports); err != nil {
		return nil, err
	}
	v, err := t.assemble(ctx, code, false)
	if err != nil {
		return nil, err
	}
	Localize(v, lang)
	return v, nil
}

func (t *Tracker) assemble(ctx context.Context, code string, public bool) (*ReportView, error) {
	rp, err := t.repo.ReportByCode(ctx, code)
	if err != nil {
		return nil, t.fail(code, err)
	}
	history, err := t.repo.History(ctx, rp.ID)
	if err != nil {
		return nil, t.fail(code, err)
	}

	v := &ReportView{
		TicketCode:    rp.TicketCode,
		Category:      rp.Category,
		ProblemTypeID: rp.ProblemTypeID,
		Description:   rp.Description,
		ReporterName:  rp.ReporterName,
		ReporterPhone: rp.ReporterPhone,
		Location:      rp.Location,
		Coordinates:   rp.Coordinates,
		AssetCode:     rp.AssetCode,
		AssetName:     rp.AssetName,
		AssetLocation: rp.AssetLocation,
		Images:        rp.Images,
		Status:        rp.Status,
		Priority:      rp.Priority,
		StatusNote:    rp.StatusNote,
		Timeline:      make([]TimelineEntry, 0, len(history)),
		CreatedAt:     rp.CreatedAt,
		UpdatedAt:     rp.UpdatedAt,
	}
	if public {
		v.ReporterPhone = MaskPhone(rp.ReporterPhone)
	}
	for _, h := range history {
		e := TimelineEntry{From: h.From, To: h.To, Note: h.Note, At: h.At}
		if !public {
			e.Actor = h.Actor
		}
		v.Timeline = append(v.Timeline, e)
	}
	if rp.Rating != nil {
		fb := &FeedbackView{Rating: *rp.Rating}
		if rp.Feedback != nil {
			fb.Text = *rp.Feedback
		}
		if rp.FeedbackAt != nil {
			fb.At = *rp.FeedbackAt
		}
		v.Feedback = fb
	}

	if rp.Category == CategoryRepair {
		repair, err := t.repo.RepairByReport(ctx, rp.ID)
		switch {
		case errors.Is(err, ErrNotFound):
		case err != nil:
			return nil, t.fail(code, err)
		default:
			v.Repair = &RepairView{
				ID:             repair.ID,
				EstimatedCost:  repair.EstimatedCost,
				ActualCost:     repair.ActualCost,
				StartDate:      repair.StartDate,
				CompletionDate: repair.CompletionDate,
				Notes:          repair.Notes,
				AfterImages:    repair.AfterImages,
				Status:         repair.Status,
			}
			if !public {
				v.Repair.TechnicianID = repair.TechnicianID
			}
		}
	}
	return v, nil
}

func (t *Tracker) cached(ctx context.Context, code string) (*ReportView, bool) {
	if t.cache == nil {
		return nil, false
	}
	b, ok, err := t.cache.Get(ctx, code)
	if err != nil {
		t.log.WithError(err).WithField("ticket_code", code).Warn("tracking cache read")
		return nil, false
	}
	t.metrics.CacheLookup(ok)
	if !ok {
		return nil, false
	}
	var v ReportView
	if err := json.Unmarshal(b, &v); err != nil {
		t.log.WithError(err).WithField("ticket_code", code).Warn("tracking cache decode")
		return nil, false
	}
	return &v, true
}

func (t *Tracker) store(ctx context.Context, code string, v *ReportView) {
	if t.cache == nil {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := t.cache.Set(ctx, code, b); err != nil {
		t.log.WithError(err).WithField("ticket_code", code).Warn("tracking cache write")
	}
}

func (t *Tracker) fail(code string, err error) error {
	if !errors.Is(err, ErrNotFound) {
		t.log.WithError(err).WithFields(logrus.Fields{"op": "track", "ticket_code": code}).Error("tracking lookup failed")
	}
	return err
}
