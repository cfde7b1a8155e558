package assets

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"citizenportal/internal/authz"
	"citizenportal/internal/db"
	"citizenportal/internal/idgen"
)

var officer = &authz.Principal{ID: "officer-1", Roles: []string{authz.RoleOfficer}}

func newService(t *testing.T) (*Service, *sql.DB, int64) {
	t.Helper()
	conn, err := db.Open(filepath.Join(t.TempDir(), "portal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, db.InitSchema(conn))

	res, err := conn.Exec(`INSERT INTO categories(name, prefix, created_at) VALUES('โคมไฟถนน', 'LP', ?)`,
		db.FormatTime(time.Now()))
	require.NoError(t, err)
	catID, _ := res.LastInsertId()

	ict := time.FixedZone("ICT", 7*60*60)
	svc := NewService(conn, idgen.NewAssetSequencer(conn, ict), nil, nil)
	svc.now = func() time.Time { return time.Date(2024, 1, 10, 23, 30, 0, 0, ict) }
	return svc, conn, catID
}

func TestCreateAssignsSequentialCodes(t *testing.T) {
	svc, _, catID := newService(t)
	ctx := context.Background()

	a1, err := svc.Create(ctx, officer, CreateInput{CategoryID: catID, Name: "เสาไฟ 1", Location: "หน้าตลาด"})
	require.NoError(t, err)
	a2, err := svc.Create(ctx, officer, CreateInput{CategoryID: catID, Name: "เสาไฟ 2"})
	require.NoError(t, err)

	assert.Equal(t, "LP-240110-000001", a1.Code)
	assert.Equal(t, "LP-240110-000002", a2.Code)
	assert.Equal(t, int64(2), a2.RunNumber)

	got, err := svc.ByCode(ctx, officer, "lp-240110-000001")
	require.NoError(t, err)
	assert.Equal(t, "หน้าตลาด", got.Location)

	_, err = svc.ByCode(ctx, officer, "LP-240110-000099")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConcurrentCreateHasNoGapsOrDuplicates(t *testing.T) {
	svc, _, catID := newService(t)
	const n = 25

	var wg sync.WaitGroup
	var mu sync.Mutex
	runs := make([]int, 0, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a, err := svc.Create(context.Background(), officer, CreateInput{CategoryID: catID, Name: "lamp"})
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			runs = append(runs, int(a.RunNumber))
			mu.Unlock()
		}()
	}
	wg.Wait()

	sort.Ints(runs)
	require.Len(t, runs, n)
	for i, r := range runs {
		assert.Equal(t, i+1, r)
	}
}

func TestCreateRejections(t *testing.T) {
	svc, conn, catID := newService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, officer, CreateInput{CategoryID: 42, Name: "x"})
	assert.ErrorIs(t, err, idgen.ErrInvalidCategory)
	_, err = svc.Create(ctx, officer, CreateInput{CategoryID: catID})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = svc.Create(ctx, nil, CreateInput{CategoryID: catID, Name: "x"})
	assert.ErrorIs(t, err, authz.ErrUnauthenticated)

	_, err = conn.Exec(`INSERT INTO asset_sequences(prefix, last_run) VALUES('LP-240110', ?)`, idgen.MaxRun)
	require.NoError(t, err)
	_, err = svc.Create(ctx, officer, CreateInput{CategoryID: catID, Name: "x"})
	assert.ErrorIs(t, err, idgen.ErrExhaustedSequence)

	var n int
	require.NoError(t, conn.QueryRow(`SELECT COUNT(*) FROM assets`).Scan(&n))
	assert.Zero(t, n)
}

func TestAPICreate(t *testing.T) {
	svc, _, catID := newService(t)
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if req.Header.Get("Authorization") != "" {
				req = req.WithContext(authz.WithPrincipal(req.Context(), officer))
			}
			next.ServeHTTP(w, req)
		})
	})
	NewAPI(svc).Routes(r)

	body := `{"category_id":` + strconv.FormatInt(catID, 10) + `,"name":"เสาไฟ"}`
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/assets", strings.NewReader(body)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/assets", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer x")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"code":"LP-240110-000001"`)
}
