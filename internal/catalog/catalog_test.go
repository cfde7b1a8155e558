package catalog

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"citizenportal/internal/authz"
	"citizenportal/internal/db"
)

var (
	admin      = &authz.Principal{ID: "admin-1", Roles: []string{authz.RoleAdmin}}
	technician = &authz.Principal{ID: "tech-1", Roles: []string{authz.RoleTechnician}}
)

func newStore(t *testing.T) *Store {
	t.Helper()
	conn, err := db.Open(filepath.Join(t.TempDir(), "portal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, db.InitSchema(conn))
	return NewStore(conn)
}

func TestCategories(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	c, err := s.CreateCategory(ctx, admin, CategoryInput{Name: "โคมไฟถนน", Prefix: "lp"})
	require.NoError(t, err)
	assert.Equal(t, "LP", c.Prefix)

	_, err = s.CreateCategory(ctx, admin, CategoryInput{Name: "อื่นๆ", Prefix: "LP"})
	assert.ErrorIs(t, err, ErrConflict)
	_, err = s.CreateCategory(ctx, admin, CategoryInput{Name: "x", Prefix: "L1"})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = s.CreateCategory(ctx, admin, CategoryInput{Name: "x", Prefix: "LONGER"})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = s.CreateCategory(ctx, technician, CategoryInput{Name: "x", Prefix: "XX"})
	assert.ErrorIs(t, err, authz.ErrForbidden)

	items, err := s.ListCategories(ctx, technician)
	require.NoError(t, err)
	assert.Len(t, items, 1)

	_, err = s.db.Exec(`INSERT INTO assets(code, prefix, run_number, category_id, name, status, created_at)
		VALUES('LP-240110-000001', 'LP-240110', 1, ?, 'pole', 'active', '2024-01-10T00:00:00Z')`, c.ID)
	require.NoError(t, err)
	assert.ErrorIs(t, s.DeleteCategory(ctx, admin, c.ID), ErrInUse)
	assert.ErrorIs(t, s.DeleteCategory(ctx, admin, 999), ErrNotFound)
}

func TestProblemTypes(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	pt, err := s.CreateProblemType(ctx, admin, ProblemTypeInput{Name: "ไฟดับ", ReportCategory: "repair"})
	require.NoError(t, err)
	_, err = s.CreateProblemType(ctx, admin, ProblemTypeInput{Name: "ขอติดตั้งไฟ", ReportCategory: "request"})
	require.NoError(t, err)
	_, err = s.CreateProblemType(ctx, admin, ProblemTypeInput{Name: "ไฟดับ", ReportCategory: "repair"})
	assert.ErrorIs(t, err, ErrConflict)
	_, err = s.CreateProblemType(ctx, admin, ProblemTypeInput{Name: "x", ReportCategory: "noise"})
	assert.ErrorIs(t, err, ErrValidation)

	repairs, err := s.ListProblemTypes(ctx, "repair")
	require.NoError(t, err)
	require.Len(t, repairs, 1)
	assert.Equal(t, "ไฟดับ", repairs[0].Name)

	assert.ErrorIs(t, s.DeleteProblemType(ctx, technician, pt.ID), authz.ErrForbidden)
	assert.ErrorIs(t, s.DeleteProblemType(ctx, nil, pt.ID), authz.ErrUnauthenticated)
	require.NoError(t, s.DeleteProblemType(ctx, admin, pt.ID))

	all, err := s.ListProblemTypes(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestAPIRejectsTechnicianOnAdminRoutes(t *testing.T) {
	s := newStore(t)
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(authz.WithPrincipal(req.Context(), technician)))
		})
	})
	NewAPI(s, nil).Routes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/problem-types/1", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/categories", strings.NewReader(`{"name":"a","prefix":"AB"}`)))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/problem-types", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
