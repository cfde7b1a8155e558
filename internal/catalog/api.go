package catalog

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"citizenportal/internal/authz"
	"citizenportal/internal/httpx"
)

type API struct {
	store *Store
	log   *logrus.Entry
}

func NewAPI(store *Store, log *logrus.Entry) *API {
	return &API{store: store, log: log}
}

func (a *API) Routes(r chi.Router) {
	r.Get("/api/problem-types", a.ListProblemTypes)
	r.With(authz.Require(authz.OpManageProblemTypes)).Post("/api/problem-types", a.CreateProblemType)
	r.With(authz.Require(authz.OpManageProblemTypes)).Delete("/api/problem-types/{id}", a.DeleteProblemType)

	r.With(authz.Require(authz.OpGenerateAssetCode)).Get("/api/categories", a.ListCategories)
	r.With(authz.Require(authz.OpManageCategories)).Post("/api/categories", a.CreateCategory)
	r.With(authz.Require(authz.OpManageCategories)).Delete("/api/categories/{id}", a.DeleteCategory)
}

func (a *API) ListCategories(w http.ResponseWriter, r *http.Request) {
	items, err := a.store.ListCategories(r.Context(), authz.PrincipalFrom(r.Context()))
	if err != nil {
		a.writeError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, items)
}

func (a *API) CreateCategory(w http.ResponseWriter, r *http.Request) {
	var in CategoryInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.WriteErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	c, err := a.store.CreateCategory(r.Context(), authz.PrincipalFrom(r.Context()), in)
	if err != nil {
		a.writeError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, c)
}

func (a *API) DeleteCategory(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		httpx.WriteErr(w, http.StatusBadRequest, "invalid id")
		return
	}
	if err := a.store.DeleteCategory(r.Context(), authz.PrincipalFrom(r.Context()), id); err != nil {
		a.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) ListProblemTypes(w http.ResponseWriter, r *http.Request) {
	items, err := a.store.ListProblemTypes(r.Context(), r.URL.Query().Get("category"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, items)
}

func (a *API) CreateProblemType(w http.ResponseWriter, r *http.Request) {
	var in ProblemTypeInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.WriteErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	pt, err := a.store.CreateProblemType(r.Context(), authz.PrincipalFrom(r.Context()), in)
	if err != nil {
		a.writeError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, pt)
}

func (a *API) DeleteProblemType(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		httpx.WriteErr(w, http.StatusBadRequest, "invalid id")
		return
	}
	if err := a.store.DeleteProblemType(r.Context(), authz.PrincipalFrom(r.Context()), id); err != nil {
		a.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, authz.ErrUnauthenticated), errors.Is(err, authz.ErrForbidden):
		status, msg := authz.StatusFor(err)
		httpx.WriteErr(w, status, msg)
	case errors.Is(err, ErrValidation):
		httpx.WriteErr(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound):
		httpx.WriteErr(w, http.StatusNotFound, "not found")
	case errors.Is(err, ErrConflict), errors.Is(err, ErrInUse):
		httpx.WriteErr(w, http.StatusConflict, err.Error())
	default:
		if a.log != nil {
			a.log.WithError(err).Error("catalog operation failed")
		}
		httpx.WriteErr(w, http.StatusInternalServerError, "db error")
	}
}
