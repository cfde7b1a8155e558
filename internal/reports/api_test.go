package reports

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"citizenportal/internal/authz"
)

type tokenTable map[string]*authz.Principal

func (tt tokenTable) Verify(_ context.Context, token string) (*authz.Principal, error) {
	if p, ok := tt[token]; ok {
		return p, nil
	}
	return nil, errors.New("unknown token")
}

func newTestServer(t *testing.T) (*httptest.Server, *fixture) {
	t.Helper()
	f := newFixture(t)
	r := chi.NewRouter()
	r.Use(authz.Authenticate(tokenTable{"tech": technician, "officer": officer}))
	NewAPI(f.svc, f.tracker, nil).Routes(r, nil)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, f
}

func call(t *testing.T, srv *httptest.Server, method, path, token, body string, header ...string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

const submitBody = `{"category":"repair","description":"สายไฟชำรุด","reporter_name":"สมชาย","reporter_phone":"089 111 2222","location":"ซอย 5"}`

func TestAPIRepairLifecycle(t *testing.T) {
	srv, _ := newTestServer(t)

	status, body := call(t, srv, http.MethodPost, "/api/reports", "", submitBody)
	require.Equal(t, http.StatusCreated, status)
	code, _ := body["ticket_code"].(string)
	require.NotEmpty(t, code)

	status, _ = call(t, srv, http.MethodPost, "/api/reports/"+code+"/assign", "", `{"technician_id":"tech-1"}`)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, body = call(t, srv, http.MethodPost, "/api/reports/"+code+"/assign", "tech", `{"technician_id":"tech-1","estimated_cost":300}`)
	require.Equal(t, http.StatusOK, status)
	repairID := int64(body["id"].(float64))

	status, _ = call(t, srv, http.MethodPost, fmt.Sprintf("/api/repairs/%d/complete", repairID), "tech",
		`{"actual_cost":450.0,"completion_date":"2024-01-10","notes":"เปลี่ยนหลอดไฟ","after_images":[]}`)
	require.Equal(t, http.StatusOK, status)

	status, _ = call(t, srv, http.MethodPost, fmt.Sprintf("/api/repairs/%d/complete", repairID), "tech", `{"actual_cost":"450"}`)
	assert.Equal(t, http.StatusConflict, status)

	status, body = call(t, srv, http.MethodPost, "/api/track/"+code+"/feedback", "", `{"rating":6}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, body["fields"], "rating")

	status, _ = call(t, srv, http.MethodPost, "/api/track/"+code+"/feedback", "", `{"rating":5,"feedback":"ดีมาก"}`)
	require.Equal(t, http.StatusOK, status)

	status, body = call(t, srv, http.MethodGet, "/api/track/"+code+"?lang=en", "", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "completed", body["status"])
	assert.Equal(t, "Completed", body["status_label"])
	assert.Equal(t, "089-xxx-2222", body["reporter_phone"])
	feedback := body["feedback"].(map[string]any)
	assert.Equal(t, 5.0, feedback["rating"])
	repair := body["repair"].(map[string]any)
	assert.Equal(t, "450", repair["actual_cost"])

	status, body = call(t, srv, http.MethodGet, "/api/reports/"+code, "officer", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "089-111-2222", body["reporter_phone"])
}

func TestAPISubmitValidationIsLocalized(t *testing.T) {
	srv, _ := newTestServer(t)

	status, body := call(t, srv, http.MethodPost, "/api/reports", "",
		`{"category":"repair","description":"x","reporter_name":"ก","reporter_phone":"12345","location":"y"}`)
	require.Equal(t, http.StatusBadRequest, status)
	fields := body["fields"].(map[string]any)
	assert.Contains(t, fields["reporter_phone"], "081-234-5678")
	assert.Contains(t, fields["reporter_phone"], "เบอร์โทรศัพท์")

	status, body = call(t, srv, http.MethodPost, "/api/reports?lang=en", "",
		`{"category":"repair","description":"x","reporter_name":"a","reporter_phone":"12345","location":"y"}`)
	require.Equal(t, http.StatusBadRequest, status)
	fields = body["fields"].(map[string]any)
	assert.Contains(t, fields["reporter_phone"], "phone number must be")

	status, _ = call(t, srv, http.MethodPost, "/api/reports", "", `{"category":`)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestAPIIdempotencyHeader(t *testing.T) {
	srv, _ := newTestServer(t)

	status, first := call(t, srv, http.MethodPost, "/api/reports", "", submitBody, "Idempotency-Key", "retry-1")
	require.Equal(t, http.StatusCreated, status)
	status, second := call(t, srv, http.MethodPost, "/api/reports", "", submitBody, "Idempotency-Key", "retry-1")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, first["ticket_code"], second["ticket_code"])
	assert.Equal(t, true, second["duplicate"])
}

func TestAPITrackUnknownCode(t *testing.T) {
	srv, _ := newTestServer(t)

	status, _ := call(t, srv, http.MethodGet, "/api/track/RP-240110-ZZZZZZZZ", "", "")
	assert.Equal(t, http.StatusNotFound, status)
	status, _ = call(t, srv, http.MethodGet, "/api/track/1", "", "")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAPIStaffRoutesNeedStaffRole(t *testing.T) {
	srv, f := newTestServer(t)
	code := f.submit(t, repairInput())

	status, _ := call(t, srv, http.MethodGet, "/api/reports", "", "")
	assert.Equal(t, http.StatusUnauthorized, status)
	status, _ = call(t, srv, http.MethodGet, "/api/reports", "bogus", "")
	assert.Equal(t, http.StatusUnauthorized, status)

	status, body := call(t, srv, http.MethodGet, "/api/reports?status=submitted", "officer", "")
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["items"], 1)

	status, body = call(t, srv, http.MethodPatch, "/api/reports/"+code+"/priority", "officer", `{"priority":"high"}`)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "high", body["priority"])

	status, _ = call(t, srv, http.MethodPost, "/api/reports/"+code+"/cancel", "officer", `{"reason":"ซ้ำ"}`)
	assert.Equal(t, http.StatusOK, status)
	status, _ = call(t, srv, http.MethodPost, "/api/reports/"+code+"/cancel", "officer", `{"reason":"ซ้ำ"}`)
	assert.Equal(t, http.StatusConflict, status)

	status, _ = call(t, srv, http.MethodPost, "/api/repairs/abc/start", "officer", "")
	assert.Equal(t, http.StatusBadRequest, status)
}
