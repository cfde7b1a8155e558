package authclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"citizenportal/internal/authz"
)

func fakeAuth(t *testing.T) *httptest.Server {
	t.Helper()
	users := map[string]User{
		"t1": {ID: "t1", Username: "somchai", Roles: []string{"technician"}, Active: true},
		"t2": {ID: "t2", Username: "retired", Roles: []string{"technician"}, Active: false},
		"o1": {ID: "o1", Username: "officer", Roles: []string{"officer"}, Active: true},
	}
	internal := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("X-Internal-Key") != "k" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			next(w, r)
		}
	}
	r := chi.NewRouter()
	r.Post("/api/login", func(w http.ResponseWriter, r *http.Request) {
		var req LoginRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Password != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"invalid credentials"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(LoginResponse{User: users["o1"], Token: "jwt"})
	})
	r.Get("/api/users/{id}", internal(func(w http.ResponseWriter, r *http.Request) {
		u, ok := users[chi.URLParam(r, "id")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(UserResponse{User: u})
	}))
	r.Get("/api/users", internal(func(w http.ResponseWriter, r *http.Request) {
		out := []User{}
		for _, u := range users {
			for _, role := range u.Roles {
				if role == r.URL.Query().Get("role") {
					out = append(out, u)
				}
			}
		}
		_ = json.NewEncoder(w).Encode(ListUsersResponse{Users: out})
	}))
	r.Post("/api/users", internal(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"username already exists"}`))
	}))
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestLogin(t *testing.T) {
	c := New(fakeAuth(t).URL, "k")
	ctx := context.Background()

	resp, err := c.Login(ctx, LoginRequest{Username: "officer", Password: "secret"})
	require.NoError(t, err)
	assert.Equal(t, "jwt", resp.Token)

	_, err = c.Login(ctx, LoginRequest{Username: "officer", Password: "nope"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestIsTechnician(t *testing.T) {
	c := New(fakeAuth(t).URL, "k")
	ctx := context.Background()

	for id, want := range map[string]bool{"t1": true, "t2": false, "o1": false, "ghost": false} {
		ok, err := c.IsTechnician(ctx, id)
		require.NoError(t, err, id)
		assert.Equal(t, want, ok, id)
	}

	bad := New(c.BaseURL, "wrong")
	_, err := bad.IsTechnician(ctx, "t1")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusUnauthorized, se.Status)

	down := New("http://127.0.0.1:1", "k")
	_, err = down.IsTechnician(ctx, "t1")
	assert.Error(t, err)
}

func TestUserAdmin(t *testing.T) {
	c := New(fakeAuth(t).URL, "k")
	ctx := context.Background()

	techs, err := c.ListUsersByRole(ctx, "technician")
	require.NoError(t, err)
	assert.Len(t, techs, 2)

	_, err = c.CreateUser(ctx, CreateUserRequest{Username: "somchai", Password: "x", Roles: []string{"technician"}})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestAPIAdminRoutes(t *testing.T) {
	api := NewAPI(New(fakeAuth(t).URL, "k"), nil)
	as := func(p *authz.Principal) http.Handler {
		r := chi.NewRouter()
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				next.ServeHTTP(w, req.WithContext(authz.WithPrincipal(req.Context(), p)))
			})
		})
		api.Routes(r, nil)
		return r
	}
	admin := as(&authz.Principal{ID: "a1", Roles: []string{authz.RoleAdmin}})
	officer := as(&authz.Principal{ID: "o1", Roles: []string{authz.RoleOfficer}})

	do := func(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
		return rec
	}

	assert.Equal(t, http.StatusForbidden, do(officer, http.MethodGet, "/api/admin/users", "").Code)
	assert.Equal(t, http.StatusOK, do(admin, http.MethodGet, "/api/admin/users?role=technician", "").Code)
	assert.Equal(t, http.StatusBadRequest,
		do(admin, http.MethodPost, "/api/admin/users", `{"username":"x","password":"y","roles":["mayor"]}`).Code)
	assert.Equal(t, http.StatusConflict,
		do(admin, http.MethodPost, "/api/admin/users", `{"username":"somchai","password":"y","roles":["technician"]}`).Code)

	rec := do(officer, http.MethodGet, "/api/technicians", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"somchai"`)
	assert.NotContains(t, rec.Body.String(), `"retired"`)

	assert.Equal(t, http.StatusUnauthorized,
		do(officer, http.MethodPost, "/api/auth/login", `{"username":"officer","password":"bad"}`).Code)
}
