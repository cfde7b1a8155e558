package reports

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"citizenportal/internal/authz"
	"citizenportal/internal/db"
	"citizenportal/internal/idgen"
	"citizenportal/internal/metrics"
)

const (
	maxCodeAttempts = 5
	maxAfterImages  = 10
	maxFeedbackLen  = 1000
	defaultPageSize = 50
	maxPageSize     = 200

	citizenActor = "citizen"
)

var errCodeSpaceCollision = errors.New("ticket code collided on every attempt")

type Options struct {
	Publisher Publisher
	Cache     ViewCache
	Directory TechnicianDirectory
	Metrics   *metrics.Metrics
	Logger    *logrus.Entry
	Location  *time.Location
	Now       func() time.Time
}

// Service is the report lifecycle engine. Every staff transition passes the
// authorization gate before touching the store, and every transition that
// writes both a report and its repair does so in one transaction.
type Service struct {
	repo      *Repository
	codes     *idgen.TicketCodes
	validate  *validator.Validate
	publisher Publisher
	cache     ViewCache
	directory TechnicianDirectory
	metrics   *metrics.Metrics
	log       *logrus.Entry
	loc       *time.Location
	now       func() time.Time
}

func NewService(repo *Repository, codes *idgen.TicketCodes, opts Options) *Service {
	s := &Service{
		repo:      repo,
		codes:     codes,
		validate:  newValidator(),
		publisher: opts.Publisher,
		cache:     opts.Cache,
		directory: opts.Directory,
		metrics:   opts.Metrics,
		log:       opts.Logger,
		loc:       opts.Location,
		now:       opts.Now,
	}
	if s.log == nil {
		s.log = logrus.NewEntry(logrus.StandardLogger())
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Submit validates a citizen report, mints its ticket code and stores it.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (SubmitResult, error) {
	in.Description = strings.TrimSpace(in.Description)
	in.ReporterName = strings.TrimSpace(in.ReporterName)
	in.Location = strings.TrimSpace(in.Location)
	in.AssetCode = strings.ToUpper(strings.TrimSpace(in.AssetCode))
	in.IdempotencyKey = strings.TrimSpace(in.IdempotencyKey)

	verr := validateStruct(s.validate, in)
	if (in.Latitude == nil) != (in.Longitude == nil) {
		verr.add("coordinates", "pair", "")
	}
	if Category(in.Category) == CategoryRepair && in.Location == "" && in.Latitude == nil {
		verr.add("location", "required_without", "coordinates")
	}
	if err := verr.orNil(); err != nil {
		return SubmitResult{}, err
	}
	phone, _ := NormalizePhone(in.ReporterPhone)

	if in.IdempotencyKey != "" {
		if res, ok, err := s.replay(ctx, in.IdempotencyKey); err != nil || ok {
			return res, err
		}
	}

	category := Category(in.Category)
	if in.ProblemTypeID != nil {
		owner, err := s.repo.ProblemTypeCategory(ctx, *in.ProblemTypeID)
		switch {
		case errors.Is(err, ErrNotFound):
			return SubmitResult{}, invalidField("problem_type_id", "exists")
		case err != nil:
			return SubmitResult{}, s.logFailure("submit", logrus.Fields{"problem_type_id": *in.ProblemTypeID}, err)
		case owner != category:
			return SubmitResult{}, invalidField("problem_type_id", "category")
		}
	}

	now := s.now()
	rp := &Report{
		Category:       category,
		ProblemTypeID:  in.ProblemTypeID,
		Description:    in.Description,
		ReporterName:   in.ReporterName,
		ReporterPhone:  phone,
		Location:       in.Location,
		Images:         append([]string{}, in.Images...),
		Status:         StatusSubmitted,
		Priority:       PriorityNormal,
		IdempotencyKey: in.IdempotencyKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if in.Priority != "" {
		rp.Priority = Priority(in.Priority)
	}
	if in.Latitude != nil {
		rp.Coordinates = &Coordinates{Lat: *in.Latitude, Lng: *in.Longitude}
	}
	if in.AssetCode != "" {
		name, location, err := s.repo.AssetSnapshot(ctx, in.AssetCode)
		switch {
		case errors.Is(err, ErrNotFound):
			return SubmitResult{}, invalidField("asset_code", "exists")
		case err != nil:
			return SubmitResult{}, s.logFailure("submit", logrus.Fields{"asset_code": in.AssetCode}, err)
		}
		code := in.AssetCode
		rp.AssetCode, rp.AssetName, rp.AssetLocation = &code, name, location
	}

	for attempt := 1; attempt <= maxCodeAttempts; attempt++ {
		code, err := s.codes.Generate(in.Category)
		if err != nil {
			s.metrics.CodeIssued("ticket", "error")
			return SubmitResult{}, s.logFailure("generate ticket code", nil, err)
		}
		rp.TicketCode = code

		err = s.repo.InTx(ctx, func(tx *Tx) error {
			if err := tx.InsertReport(ctx, rp); err != nil {
				return err
			}
			return tx.AppendHistory(ctx, rp.ID, HistoryEntry{To: StatusSubmitted, Actor: citizenActor, At: now})
		})
		if err == nil {
			s.metrics.CodeIssued("ticket", "ok")
			s.committed(ctx, Event{
				Event: EventSubmitted, TicketCode: code, Category: category,
				To: StatusSubmitted, Priority: rp.Priority, Actor: citizenActor, At: now,
			})
			return SubmitResult{TicketCode: code, Status: StatusSubmitted}, nil
		}
		if !db.IsUniqueViolation(err) {
			return SubmitResult{}, s.logFailure("submit", logrus.Fields{"ticket_code": code}, err)
		}
		// A concurrent request carrying the same idempotency key won the race.
		if in.IdempotencyKey != "" {
			if res, ok, lerr := s.replay(ctx, in.IdempotencyKey); lerr != nil || ok {
				return res, lerr
			}
		}
		s.metrics.CodeIssued("ticket", "collision")
		s.log.WithFields(logrus.Fields{"op": "submit", "ticket_code": code, "attempt": attempt}).
			Warn("ticket code collision, retrying")
	}
	return SubmitResult{}, s.logFailure("submit", nil, storageError("insert report", errCodeSpaceCollision))
}

// replay returns the result of an earlier submission carrying key.
func (s *Service) replay(ctx context.Context, key string) (SubmitResult, bool, error) {
	code, err := s.repo.CodeByIdempotencyKey(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return SubmitResult{}, false, nil
	}
	if err != nil {
		return SubmitResult{}, false, s.logFailure("submit", logrus.Fields{"idempotency_key": key}, err)
	}
	rp, err := s.repo.ReportByCode(ctx, code)
	if err != nil {
		return SubmitResult{}, false, s.logFailure("submit", logrus.Fields{"ticket_code": code}, err)
	}
	return SubmitResult{TicketCode: code, Status: rp.Status, Duplicate: true}, true, nil
}

// Assign hands a submitted repair report to a technician and opens its repair.
func (s *Service) Assign(ctx context.Context, p *authz.Principal, code string, in AssignInput) (*Repair, error) {
	if err := authz.Authorize(p, authz.OpAssignRepair); err != nil {
		return nil, err
	}
	techID := strings.TrimSpace(in.TechnicianID)
	if techID == "" {
		return nil, invalidField("technician_id", "required")
	}
	var estimate *decimal.Decimal
	if strings.TrimSpace(in.EstimatedCost) != "" {
		d, err := parseCost("estimated_cost", in.EstimatedCost)
		if err != nil {
			return nil, err
		}
		estimate = &d
	}
	if s.directory != nil {
		ok, err := s.directory.IsTechnician(ctx, techID)
		if err != nil {
			return nil, s.logFailure("assign", logrus.Fields{"technician_id": techID},
				fmt.Errorf("%w: %w", ErrDirectoryUnavailable, err))
		}
		if !ok {
			return nil, invalidField("technician_id", "technician")
		}
	}

	now := s.now()
	var (
		report *Report
		repair *Repair
	)
	err := s.repo.InTx(ctx, func(tx *Tx) error {
		var err error
		if report, err = tx.ReportByCode(ctx, code); err != nil {
			return err
		}
		if report.Category != CategoryRepair {
			return fmt.Errorf("%w: only repair reports take a technician", ErrInvalidTransition)
		}
		if report.Status != StatusSubmitted {
			return transitionError("assign", report.Status)
		}
		repair = &Repair{
			ReportID:      report.ID,
			TechnicianID:  techID,
			EstimatedCost: estimate,
			AfterImages:   []string{},
			Status:        StatusAssigned,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := tx.InsertRepair(ctx, repair); err != nil {
			return err
		}
		return s.moveReport(ctx, tx, report, StatusAssigned, p.ID, strings.TrimSpace(in.Note), now)
	})
	if err != nil {
		return nil, s.logFailure("assign", logrus.Fields{"ticket_code": code}, err)
	}
	s.committed(ctx, Event{
		Event: EventAssigned, TicketCode: report.TicketCode, Category: report.Category,
		From: StatusSubmitted, To: StatusAssigned, RepairID: repair.ID, TechnicianID: techID,
		Actor: p.ID, At: now,
	})
	return repair, nil
}

// StartWork moves an assigned repair and its report to in_progress.
func (s *Service) StartWork(ctx context.Context, p *authz.Principal, repairID int64) (*Repair, error) {
	if err := authz.Authorize(p, authz.OpStartRepair); err != nil {
		return nil, err
	}
	now := s.now()
	var (
		report *Report
		repair *Repair
	)
	err := s.repo.InTx(ctx, func(tx *Tx) error {
		var err error
		if repair, err = tx.RepairByID(ctx, repairID); err != nil {
			return err
		}
		if repair.Status != StatusAssigned {
			return transitionError("start work", repair.Status)
		}
		if report, err = tx.ReportByID(ctx, repair.ReportID); err != nil {
			return err
		}
		repair.Status = StatusInProgress
		repair.StartDate = &now
		repair.UpdatedAt = now
		if err := tx.UpdateRepair(ctx, repair); err != nil {
			return err
		}
		return s.moveReport(ctx, tx, report, StatusInProgress, p.ID, "", now)
	})
	if err != nil {
		return nil, s.logFailure("start work", logrus.Fields{"repair_id": repairID}, err)
	}
	s.committed(ctx, Event{
		Event: EventWorkStarted, TicketCode: report.TicketCode, Category: report.Category,
		From: StatusAssigned, To: StatusInProgress, RepairID: repair.ID, TechnicianID: repair.TechnicianID,
		Actor: p.ID, At: now,
	})
	return repair, nil
}

// Complete records the outcome of a repair and closes it together with its report.
// A repair may be completed straight from assigned.
func (s *Service) Complete(ctx context.Context, p *authz.Principal, repairID int64, in CompleteInput) (*Repair, error) {
	if err := authz.Authorize(p, authz.OpCompleteRepair); err != nil {
		return nil, err
	}
	actual, completedOn, err := s.completionFields(in)
	if err != nil {
		return nil, err
	}

	now := s.now()
	var (
		report *Report
		repair *Repair
		from   Status
	)
	err = s.repo.InTx(ctx, func(tx *Tx) error {
		var err error
		if repair, err = tx.RepairByID(ctx, repairID); err != nil {
			return err
		}
		if repair.Status != StatusAssigned && repair.Status != StatusInProgress {
			return transitionError("complete", repair.Status)
		}
		if report, err = tx.ReportByID(ctx, repair.ReportID); err != nil {
			return err
		}
		from = repair.Status
		repair.ActualCost = &actual
		repair.CompletionDate = &completedOn
		repair.Notes = strings.TrimSpace(in.Notes)
		repair.AfterImages = append([]string{}, in.AfterImages...)
		repair.Status = StatusCompleted
		repair.UpdatedAt = now
		if err := tx.UpdateRepair(ctx, repair); err != nil {
			return err
		}
		return s.moveReport(ctx, tx, report, StatusCompleted, p.ID, repair.Notes, now)
	})
	if err != nil {
		return nil, s.logFailure("complete", logrus.Fields{"repair_id": repairID}, err)
	}
	s.committed(ctx, Event{
		Event: EventCompleted, TicketCode: report.TicketCode, Category: report.Category,
		From: from, To: StatusCompleted, RepairID: repair.ID, TechnicianID: repair.TechnicianID,
		Actor: p.ID, At: now,
	})
	return repair, nil
}

func (s *Service) completionFields(in CompleteInput) (decimal.Decimal, time.Time, error) {
	verr := &ValidationError{}
	actual, err := parseCost("actual_cost", in.ActualCost)
	if err != nil {
		var fe *ValidationError
		if errors.As(err, &fe) {
			verr.Fields = append(verr.Fields, fe.Fields...)
		}
	}
	completedOn, ok := s.parseDate(in.CompletionDate)
	if !ok {
		verr.add("completion_date", "datetime", "2006-01-02")
	}
	if len(in.AfterImages) > maxAfterImages {
		verr.add("after_images", "max", fmt.Sprint(maxAfterImages))
	}
	for i, u := range in.AfterImages {
		if strings.TrimSpace(u) == "" {
			verr.add(fmt.Sprintf("after_images[%d]", i), "required", "")
		}
	}
	return actual, completedOn, verr.orNil()
}

// parseDate accepts a calendar date or an RFC 3339 timestamp. An empty value means today.
func (s *Service) parseDate(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		y, m, d := s.now().In(s.loc).Date()
		return time.Date(y, m, d, 0, 0, 0, 0, s.loc), true
	}
	if t, err := time.ParseInLocation("2006-01-02", raw, s.loc); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, true
	}
	return time.Time{}, false
}

// Cancel closes a report that has not started work. An open repair is cancelled with it.
func (s *Service) Cancel(ctx context.Context, p *authz.Principal, code, reason string) (*Report, error) {
	if err := authz.Authorize(p, authz.OpCancelReport); err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, invalidField("reason", "required")
	}

	now := s.now()
	var (
		report *Report
		from   Status
	)
	err := s.repo.InTx(ctx, func(tx *Tx) error {
		var err error
		if report, err = tx.ReportByCode(ctx, code); err != nil {
			return err
		}
		if report.Status != StatusSubmitted && report.Status != StatusAssigned {
			return transitionError("cancel", report.Status)
		}
		from = report.Status
		repair, err := tx.RepairByReport(ctx, report.ID)
		switch {
		case errors.Is(err, ErrNotFound):
		case err != nil:
			return err
		default:
			repair.Status = StatusCancelled
			repair.UpdatedAt = now
			if err := tx.UpdateRepair(ctx, repair); err != nil {
				return err
			}
		}
		return s.moveReport(ctx, tx, report, StatusCancelled, p.ID, reason, now)
	})
	if err != nil {
		return nil, s.logFailure("cancel", logrus.Fields{"ticket_code": code}, err)
	}
	s.committed(ctx, Event{
		Event: EventCancelled, TicketCode: report.TicketCode, Category: report.Category,
		From: from, To: StatusCancelled, Actor: p.ID, At: now,
	})
	return report, nil
}

// Approve accepts a submitted request or general report.
func (s *Service) Approve(ctx context.Context, p *authz.Principal, code, note string) (*Report, error) {
	return s.review(ctx, p, code, StatusApproved, note)
}

// Reject declines a submitted request or general report. A reason is required.
func (s *Service) Reject(ctx context.Context, p *authz.Principal, code, reason string) (*Report, error) {
	return s.review(ctx, p, code, StatusRejected, reason)
}

func (s *Service) review(ctx context.Context, p *authz.Principal, code string, to Status, note string) (*Report, error) {
	if err := authz.Authorize(p, authz.OpReviewRequest); err != nil {
		return nil, err
	}
	note = strings.TrimSpace(note)
	if to == StatusRejected && note == "" {
		return nil, invalidField("reason", "required")
	}
	now := s.now()
	var report *Report
	err := s.repo.InTx(ctx, func(tx *Tx) error {
		var err error
		if report, err = tx.ReportByCode(ctx, code); err != nil {
			return err
		}
		if report.Category == CategoryRepair {
			return fmt.Errorf("%w: repair reports are resolved through a repair", ErrInvalidTransition)
		}
		if report.Status != StatusSubmitted {
			return transitionError(string(to), report.Status)
		}
		return s.moveReport(ctx, tx, report, to, p.ID, note, now)
	})
	if err != nil {
		return nil, s.logFailure(string(to), logrus.Fields{"ticket_code": code}, err)
	}
	event := EventApproved
	if to == StatusRejected {
		event = EventRejected
	}
	s.committed(ctx, Event{
		Event: event, TicketCode: report.TicketCode, Category: report.Category,
		From: StatusSubmitted, To: to, Actor: p.ID, At: now,
	})
	return report, nil
}

// SetPriority changes the triage priority of an open report.
func (s *Service) SetPriority(ctx context.Context, p *authz.Principal, code string, priority Priority) (*Report, error) {
	if err := authz.Authorize(p, authz.OpSetPriority); err != nil {
		return nil, err
	}
	if !priority.Valid() {
		return nil, invalidField("priority", "oneof")
	}
	now := s.now()
	report, err := s.repo.ReportByCode(ctx, code)
	if err != nil {
		return nil, s.logFailure("set priority", logrus.Fields{"ticket_code": code}, err)
	}
	if report.Status.Terminal() {
		return nil, transitionError("change priority", report.Status)
	}
	if err := s.repo.SetPriority(ctx, report.ID, priority, now); err != nil {
		return nil, s.logFailure("set priority", logrus.Fields{"ticket_code": code}, err)
	}
	report.Priority = priority
	report.UpdatedAt = now
	s.committed(ctx, Event{
		Event: EventPriorityChanged, TicketCode: report.TicketCode, Category: report.Category,
		From: report.Status, To: report.Status, Priority: priority, Actor: p.ID, At: now,
	})
	return report, nil
}

// SubmitFeedback records the citizen's rating once a report is completed.
// Possession of the ticket code is the only credential.
func (s *Service) SubmitFeedback(ctx context.Context, code string, rating int, text string) (*Report, error) {
	text = strings.TrimSpace(text)
	verr := &ValidationError{}
	if rating < 1 || rating > 5 {
		verr.add("rating", "range", "1-5")
	}
	if len([]rune(text)) > maxFeedbackLen {
		verr.add("feedback", "max", fmt.Sprint(maxFeedbackLen))
	}
	if err := verr.orNil(); err != nil {
		return nil, err
	}
	if !idgen.ValidTicketCode(code) {
		return nil, ErrNotFound
	}

	report, err := s.repo.ReportByCode(ctx, code)
	if err != nil {
		return nil, s.logFailure("feedback", logrus.Fields{"ticket_code": code}, err)
	}
	if report.Status != StatusCompleted {
		return nil, transitionError("rate", report.Status)
	}
	if report.Rating != nil {
		return nil, fmt.Errorf("%w: feedback already submitted", ErrInvalidTransition)
	}
	now := s.now()
	if err := s.repo.SetFeedback(ctx, report.ID, rating, text, now); err != nil {
		return nil, s.logFailure("feedback", logrus.Fields{"ticket_code": code}, err)
	}
	report.Rating = &rating
	report.Feedback = &text
	report.FeedbackAt = &now
	s.committed(ctx, Event{
		Event: EventFeedback, TicketCode: report.TicketCode, Category: report.Category,
		From: report.Status, To: report.Status, Rating: rating, Actor: citizenActor, At: now,
	})
	return report, nil
}

// List returns reports newest first for the staff dashboard.
func (s *Service) List(ctx context.Context, p *authz.Principal, f ListFilter) ([]Report, error) {
	if err := authz.Authorize(p, authz.OpListReports); err != nil {
		return nil, err
	}
	verr := &ValidationError{}
	if f.Status != "" && !f.Status.Valid() {
		verr.add("status", "oneof", "")
	}
	if f.Category != "" && !f.Category.Valid() {
		verr.add("category", "oneof", "")
	}
	if err := verr.orNil(); err != nil {
		return nil, err
	}
	if f.Limit <= 0 {
		f.Limit = defaultPageSize
	}
	f.Limit = min(f.Limit, maxPageSize)
	f.Offset = max(f.Offset, 0)

	out, err := s.repo.List(ctx, f)
	if err != nil {
		return nil, s.logFailure("list", nil, err)
	}
	return out, nil
}

// moveReport flips the report status and appends the history row inside tx.
func (s *Service) moveReport(ctx context.Context, tx *Tx, rp *Report, to Status, actor, note string, now time.Time) error {
	from := rp.Status
	if err := tx.SetReportStatus(ctx, rp.ID, to, note, now); err != nil {
		return err
	}
	if err := tx.AppendHistory(ctx, rp.ID, HistoryEntry{From: from, To: to, Actor: actor, Note: note, At: now}); err != nil {
		return err
	}
	rp.Status, rp.StatusNote, rp.UpdatedAt = to, note, now
	return nil
}

// committed runs the side effects of a transition after its transaction commits.
func (s *Service) committed(ctx context.Context, e Event) {
	if e.From != e.To {
		s.metrics.Transition(string(e.From), string(e.To))
	}
	entry := s.log.WithFields(logrus.Fields{
		"event":       e.Event,
		"ticket_code": e.TicketCode,
		"from":        e.From,
		"to":          e.To,
		"actor":       e.Actor,
	})
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, e.TicketCode); err != nil {
			entry.WithError(err).Warn("invalidate tracking view")
		}
	}
	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, e); err != nil {
			entry.WithError(err).Warn("publish lifecycle event")
		}
	}
	entry.Info("report transition")
}

// logFailure logs storage and generator failures with their context and
// returns err unchanged. Client errors pass through silently.
func (s *Service) logFailure(op string, fields logrus.Fields, err error) error {
	if !isClientError(err) {
		s.log.WithFields(fields).WithField("op", op).WithError(err).Error("report operation failed")
	}
	return err
}

func isClientError(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrNotFound) || errors.Is(err, authz.ErrUnauthenticated) ||
		errors.Is(err, authz.ErrForbidden)
}
