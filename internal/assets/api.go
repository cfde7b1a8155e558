package assets

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"citizenportal/internal/authz"
	"citizenportal/internal/httpx"
	"citizenportal/internal/idgen"
)

type API struct {
	svc *Service
}

func NewAPI(svc *Service) *API { return &API{svc: svc} }

func (a *API) Routes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(authz.Require(authz.OpGenerateAssetCode))
		r.Post("/api/assets", a.Create)
		r.Get("/api/assets", a.List)
		r.Get("/api/assets/{code}", a.Get)
	})
}

func (a *API) Create(w http.ResponseWriter, r *http.Request) {
	var in CreateInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.WriteErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	asset, err := a.svc.Create(r.Context(), authz.PrincipalFrom(r.Context()), in)
	if err != nil {
		writeError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, asset)
}

func (a *API) List(w http.ResponseWriter, r *http.Request) {
	items, err := a.svc.List(r.Context(), authz.PrincipalFrom(r.Context()), int64(httpx.QueryInt(r, "category_id", 0)))
	if err != nil {
		writeError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, items)
}

func (a *API) Get(w http.ResponseWriter, r *http.Request) {
	asset, err := a.svc.ByCode(r.Context(), authz.PrincipalFrom(r.Context()), chi.URLParam(r, "code"))
	if err != nil {
		writeError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, asset)
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, authz.ErrUnauthenticated), errors.Is(err, authz.ErrForbidden):
		status, msg := authz.StatusFor(err)
		httpx.WriteErr(w, status, msg)
	case errors.Is(err, ErrValidation):
		httpx.WriteErr(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, idgen.ErrInvalidCategory):
		httpx.WriteErr(w, http.StatusBadRequest, "unknown category")
	case errors.Is(err, ErrNotFound):
		httpx.WriteErr(w, http.StatusNotFound, "not found")
	case errors.Is(err, idgen.ErrExhaustedSequence):
		httpx.WriteErr(w, http.StatusServiceUnavailable, "asset codes for today are exhausted")
	default:
		httpx.WriteErr(w, http.StatusInternalServerError, "db error")
	}
}
