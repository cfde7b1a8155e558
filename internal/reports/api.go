package reports

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"citizenportal/internal/authz"
	"citizenportal/internal/httpx"
	"citizenportal/internal/idgen"
)

const idempotencyHeader = "Idempotency-Key"

type API struct {
	svc     *Service
	tracker *Tracker
	log     *logrus.Entry
}

func NewAPI(svc *Service, tracker *Tracker, log *logrus.Entry) *API {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &API{svc: svc, tracker: tracker, log: log}
}

// Routes mounts the public and staff report endpoints. limit wraps the
// public write endpoints and may be nil.
func (a *API) Routes(r chi.Router, limit func(http.Handler) http.Handler) {
	if limit == nil {
		limit = func(next http.Handler) http.Handler { return next }
	}

	r.With(limit).Post("/api/reports", a.Submit)
	r.Get("/api/track/{code}", a.Track)
	r.With(limit).Post("/api/track/{code}/feedback", a.Feedback)

	r.With(authz.Require(authz.OpListReports)).Get("/api/reports", a.List)
	r.With(authz.Require(authz.OpListReports)).Get("/api/reports/{code}", a.Detail)
	r.With(authz.Require(authz.OpAssignRepair)).Post("/api/reports/{code}/assign", a.Assign)
	r.With(authz.Require(authz.OpCancelReport)).Post("/api/reports/{code}/cancel", a.Cancel)
	r.With(authz.Require(authz.OpReviewRequest)).Post("/api/reports/{code}/approve", a.Approve)
	r.With(authz.Require(authz.OpReviewRequest)).Post("/api/reports/{code}/reject", a.Reject)
	r.With(authz.Require(authz.OpSetPriority)).Patch("/api/reports/{code}/priority", a.SetPriority)
	r.With(authz.Require(authz.OpStartRepair)).Post("/api/repairs/{id}/start", a.StartWork)
	r.With(authz.Require(authz.OpCompleteRepair)).Post("/api/repairs/{id}/complete", a.Complete)
}

// flexString accepts either a JSON string or a bare JSON number.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	switch {
	case string(b) == "null":
		*f = ""
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
	default:
		*f = flexString(b)
	}
	return nil
}

type assignReq struct {
	TechnicianID  string     `json:"technician_id"`
	EstimatedCost flexString `json:"estimated_cost"`
	Note          string     `json:"note"`
}

type completeReq struct {
	ActualCost     flexString `json:"actual_cost"`
	CompletionDate string     `json:"completion_date"`
	Notes          string     `json:"notes"`
	AfterImages    []string   `json:"after_images"`
}

type noteReq struct {
	Reason string `json:"reason"`
	Note   string `json:"note"`
}

type priorityReq struct {
	Priority Priority `json:"priority"`
}

type feedbackReq struct {
	Rating   flexString `json:"rating"`
	Feedback string     `json:"feedback"`
}

type listResp struct {
	Items  []Report `json:"items"`
	Limit  int      `json:"limit"`
	Offset int      `json:"offset"`
}

func (a *API) Submit(w http.ResponseWriter, r *http.Request) {
	var in SubmitInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.WriteErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	in.IdempotencyKey = r.Header.Get(idempotencyHeader)

	res, err := a.svc.Submit(r.Context(), in)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	httpx.WriteJSON(w, status, res)
}

func (a *API) Track(w http.ResponseWriter, r *http.Request) {
	code := codeParam(r)
	v, err := a.tracker.TrackByCode(r.Context(), code, requestLang(r))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	httpx.WriteJSON(w, http.StatusOK, v)
}

func (a *API) Feedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackReq
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	// A non-integer rating falls outside 1..5 and fails validation in the service.
	rating, _ := strconv.Atoi(strings.TrimSpace(string(req.Rating)))
	code := codeParam(r)
	rp, err := a.svc.SubmitFeedback(r.Context(), code, rating, req.Feedback)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"ticket_code": rp.TicketCode,
		"rating":      rating,
	})
}

func (a *API) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := ListFilter{
		Status:   Status(q.Get("status")),
		Category: Category(q.Get("category")),
		Limit:    httpx.QueryInt(r, "limit", defaultPageSize),
		Offset:   httpx.QueryInt(r, "offset", 0),
	}
	items, err := a.svc.List(r.Context(), authz.PrincipalFrom(r.Context()), f)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, listResp{Items: items, Limit: f.Limit, Offset: f.Offset})
}

func (a *API) Detail(w http.ResponseWriter, r *http.Request) {
	code := codeParam(r)
	v, err := a.tracker.Detail(r.Context(), authz.PrincipalFrom(r.Context()), code, requestLang(r))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, v)
}

func (a *API) Assign(w http.ResponseWriter, r *http.Request) {
	var req assignReq
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	repair, err := a.svc.Assign(r.Context(), authz.PrincipalFrom(r.Context()), codeParam(r), AssignInput{
		TechnicianID:  req.TechnicianID,
		EstimatedCost: string(req.EstimatedCost),
		Note:          req.Note,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, repair)
}

func (a *API) Cancel(w http.ResponseWriter, r *http.Request) {
	a.withNote(w, r, func(req noteReq) (*Report, error) {
		return a.svc.Cancel(r.Context(), authz.PrincipalFrom(r.Context()), codeParam(r), req.Reason)
	})
}

func (a *API) Approve(w http.ResponseWriter, r *http.Request) {
	a.withNote(w, r, func(req noteReq) (*Report, error) {
		return a.svc.Approve(r.Context(), authz.PrincipalFrom(r.Context()), codeParam(r), req.Note)
	})
}

func (a *API) Reject(w http.ResponseWriter, r *http.Request) {
	a.withNote(w, r, func(req noteReq) (*Report, error) {
		return a.svc.Reject(r.Context(), authz.PrincipalFrom(r.Context()), codeParam(r), req.Reason)
	})
}

func (a *API) withNote(w http.ResponseWriter, r *http.Request, fn func(noteReq) (*Report, error)) {
	var req noteReq
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	rp, err := fn(req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, rp)
}

func (a *API) SetPriority(w http.ResponseWriter, r *http.Request) {
	var req priorityReq
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	rp, err := a.svc.SetPriority(r.Context(), authz.PrincipalFrom(r.Context()), codeParam(r), req.Priority)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, rp)
}

func (a *API) StartWork(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		httpx.WriteErr(w, http.StatusBadRequest, "invalid id")
		return
	}
	repair, err := a.svc.StartWork(r.Context(), authz.PrincipalFrom(r.Context()), id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, repair)
}

func (a *API) Complete(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		httpx.WriteErr(w, http.StatusBadRequest, "invalid id")
		return
	}
	var req completeReq
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	repair, err := a.svc.Complete(r.Context(), authz.PrincipalFrom(r.Context()), id, CompleteInput{
		ActualCost:     string(req.ActualCost),
		CompletionDate: req.CompletionDate,
		Notes:          req.Notes,
		AfterImages:    req.AfterImages,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, repair)
}

var transitionMessage = labels{"ไม่สามารถดำเนินการได้ในขณะนี้", "this action cannot be performed now"}

// writeError maps lifecycle errors onto HTTP responses.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	lang := requestLang(r)
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		httpx.WriteJSON(w, http.StatusBadRequest, map[string]any{
			"error":  "validation failed",
			"fields": FieldMessages(verr, lang),
		})
	case errors.Is(err, authz.ErrUnauthenticated), errors.Is(err, authz.ErrForbidden):
		status, msg := authz.StatusFor(err)
		httpx.WriteErr(w, status, msg)
	case errors.Is(err, ErrInvalidTransition):
		httpx.WriteErr(w, http.StatusConflict, transitionMessage.in(lang))
	case errors.Is(err, ErrNotFound):
		httpx.WriteErr(w, http.StatusNotFound, "not found")
	case errors.Is(err, ErrDirectoryUnavailable):
		httpx.WriteErr(w, http.StatusBadGateway, "technician directory unavailable")
	case errors.Is(err, ErrStorage), errors.Is(err, idgen.ErrExhaustedSequence), errors.Is(err, idgen.ErrInvalidCategory):
		httpx.WriteErr(w, http.StatusServiceUnavailable, "temporarily unavailable, please retry")
	default:
		a.log.WithError(err).WithField("path", r.URL.Path).Error("unhandled error")
		httpx.WriteErr(w, http.StatusInternalServerError, "internal error")
	}
}

func codeParam(r *http.Request) string {
	return strings.ToUpper(strings.TrimSpace(chi.URLParam(r, "code")))
}

func requestLang(r *http.Request) Lang {
	if l := r.URL.Query().Get("lang"); l != "" {
		return ParseLang(l)
	}
	return ParseLang(r.Header.Get("Accept-Language"))
}
