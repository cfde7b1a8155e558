package authclient

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"citizenportal/internal/authz"
	"citizenportal/internal/httpx"
)

// API exposes staff login and admin user management through the gateway.
type API struct {
	client *Client
	log    *logrus.Entry
}

func NewAPI(c *Client, log *logrus.Entry) *API {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &API{client: c, log: log}
}

func (a *API) Routes(r chi.Router, limit func(http.Handler) http.Handler) {
	login := http.Handler(http.HandlerFunc(a.Login))
	if limit != nil {
		login = limit(login)
	}
	r.Method(http.MethodPost, "/api/auth/login", login)
	r.Get("/api/me", a.Me)

	r.Group(func(r chi.Router) {
		r.Use(authz.Require(authz.OpManageUsers))
		r.Post("/api/admin/users", a.CreateUser)
		r.Get("/api/admin/users", a.ListUsers)
		r.Patch("/api/admin/users/{id}", a.UpdateUser)
	})
	r.With(authz.Require(authz.OpAssignRepair)).Get("/api/technicians", a.ListTechnicians)
}

func (a *API) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	resp, err := a.client.Login(r.Context(), req)
	if err != nil {
		a.writeError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func (a *API) Me(w http.ResponseWriter, r *http.Request) {
	p := authz.PrincipalFrom(r.Context())
	if p == nil {
		httpx.WriteErr(w, http.StatusUnauthorized, "login required")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, p)
}

func (a *API) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		httpx.WriteErr(w, http.StatusBadRequest, "username and password required")
		return
	}
	if len(req.Roles) == 0 {
		httpx.WriteErr(w, http.StatusBadRequest, "at least one role required")
		return
	}
	for _, role := range req.Roles {
		if !authz.IsStaffRole(role) {
			httpx.WriteErr(w, http.StatusBadRequest, "invalid role "+role)
			return
		}
	}
	u, err := a.client.CreateUser(r.Context(), req)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.log.WithFields(logrus.Fields{"user_id": u.ID, "actor": authz.PrincipalFrom(r.Context()).ID}).Info("staff user created")
	httpx.WriteJSON(w, http.StatusCreated, UserResponse{User: u})
}

func (a *API) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := a.client.ListUsersByRole(r.Context(), r.URL.Query().Get("role"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, ListUsersResponse{Users: users})
}

func (a *API) UpdateUser(w http.ResponseWriter, r *http.Request) {
	var req UpdateUserRequest
	if err := httpx.DecodeJSON(r, &req); err != nil || req.Active == nil {
		httpx.WriteErr(w, http.StatusBadRequest, "active is required")
		return
	}
	u, err := a.client.SetActive(r.Context(), chi.URLParam(r, "id"), *req.Active)
	if err != nil {
		a.writeError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, UserResponse{User: u})
}

func (a *API) ListTechnicians(w http.ResponseWriter, r *http.Request) {
	users, err := a.client.ListUsersByRole(r.Context(), authz.RoleTechnician)
	if err != nil {
		a.writeError(w, err)
		return
	}
	active := make([]User, 0, len(users))
	for _, u := range users {
		if u.Active {
			active = append(active, u)
		}
	}
	httpx.WriteJSON(w, http.StatusOK, ListUsersResponse{Users: active})
}

func (a *API) writeError(w http.ResponseWriter, err error) {
	var se *StatusError
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		httpx.WriteErr(w, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, ErrUserNotFound):
		httpx.WriteErr(w, http.StatusNotFound, "user not found")
	case errors.Is(err, ErrConflict):
		httpx.WriteErr(w, http.StatusConflict, err.Error())
	case errors.As(err, &se) && se.Status == http.StatusBadRequest:
		httpx.WriteErr(w, http.StatusBadRequest, se.Message)
	default:
		a.log.WithError(err).Error("auth service call failed")
		httpx.WriteErr(w, http.StatusBadGateway, "auth service unavailable")
	}
}
