package attendance

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-workforce/internal/rbac"
	"github.com/odyssey-erp/odyssey-workforce/internal/shared"
)

type bulkCounter map[string]int

func (b bulkCounter) BulkItem(operation, outcome string) {
	b[operation+":"+outcome]++
}

func serveAttendance(f fixture, metrics BulkObserver) http.Handler {
	r := chi.NewRouter()
	h := NewHandler(nil, f.svc, rbac.Middleware{Policy: rbac.DefaultPolicy()}, metrics)
	r.Route("/attendance", h.MountRoutes)
	return r
}

func call(router http.Handler, method, path, body string, actor *shared.Actor) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if actor != nil {
		req = req.WithContext(shared.ContextWithActor(req.Context(), *actor))
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

var (
	employee = &shared.Actor{ID: 7, Role: string(rbac.RoleEmployee)}
	hr       = &shared.Actor{ID: 90, Role: string(rbac.RoleHR)}
)

func TestHandlerCheckInFlow(t *testing.T) {
	f := newFixture(t)
	router := serveAttendance(f, nil)

	require.Equal(t, http.StatusUnauthorized, call(router, http.MethodPost, "/attendance/check-in", `{}`, nil).Code)

	rr := call(router, http.MethodPost, "/attendance/check-in", `{"source":"mobile"}`, employee)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var rec Record
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&rec))
	require.Equal(t, StatusCheckedIn, rec.Status)
	require.Equal(t, int64(7), rec.UserID)

	rr = call(router, http.MethodPost, "/attendance/check-in", `{}`, employee)
	require.Equal(t, http.StatusConflict, rr.Code)

	rr = call(router, http.MethodPost, "/attendance/check-out", `{"day":"03/04/2024"}`, employee)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = call(router, http.MethodPost, "/attendance/check-in", `{"day":"2024-02-20"}`, employee)
	require.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())

	rr = call(router, http.MethodGet, "/attendance/records?period=2024-03", "", employee)
	require.Equal(t, http.StatusOK, rr.Code)
	var list struct {
		Records []Record `json:"records"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&list))
	require.Len(t, list.Records, 1)

	rr = call(router, http.MethodGet, "/attendance/events?day=2024-03-04", "", employee)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"mobile"`)
}

func TestHandlerReadsOtherUsersOnlyWithBulkRights(t *testing.T) {
	f := newFixture(t)
	router := serveAttendance(f, nil)

	rr := call(router, http.MethodGet, "/attendance/summary?period=2024-03&user_id=8", "", employee)
	require.Equal(t, http.StatusForbidden, rr.Code)

	rr = call(router, http.MethodGet, "/attendance/summary?period=2024-03&user_id=8", "", hr)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = call(router, http.MethodGet, "/attendance/summary?period=2024-03&user_id=x", "", hr)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandlerLockedPeriod(t *testing.T) {
	f := newFixture(t)
	f.guard.lock(7, "2024-03")
	router := serveAttendance(f, nil)

	rr := call(router, http.MethodPost, "/attendance/check-in", `{"day":"2024-03-04"}`, employee)
	require.Equal(t, http.StatusLocked, rr.Code)

	rr = call(router, http.MethodPost, "/attendance/check-in", `{"day":"2024-03-04","override_reason":"late payroll fix"}`, employee)
	require.Equal(t, http.StatusCreated, rr.Code)
}

func TestHandlerBulkWeekoffCountsItems(t *testing.T) {
	f := newFixture(t)
	f.guard.lock(2, "2024-03")
	metrics := bulkCounter{}
	router := serveAttendance(f, metrics)
	body := `{"user_ids":[1,2],"days":["2024-03-09"]}`

	require.Equal(t, http.StatusForbidden, call(router, http.MethodPost, "/attendance/weekoff", body, employee).Code)

	rr := call(router, http.MethodPost, "/attendance/weekoff", body, hr)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var out struct {
		Results []ItemResult `json:"results"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&out))
	require.Len(t, out.Results, 2)
	require.Equal(t, 1, metrics["attendance_weekoff:"+OutcomeCreated])
	require.Equal(t, 1, metrics["attendance_weekoff:"+OutcomeFailed])

	rr = call(router, http.MethodPost, "/attendance/holiday", `{"user_ids":[1],"days":["2024-3-9"]}`, hr)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandlerAdminEditStaleVersion(t *testing.T) {
	f := newFixture(t)
	router := serveAttendance(f, nil)

	rr := call(router, http.MethodPost, "/attendance/check-in", `{}`, employee)
	require.Equal(t, http.StatusCreated, rr.Code)
	var rec Record
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&rec))
	path := "/attendance/records/" + strconv.FormatInt(rec.ID, 10)

	require.Equal(t, http.StatusForbidden, call(router, http.MethodPatch, path, `{}`, employee).Code)

	stale := `{"expected_version":` + strconv.FormatInt(rec.Version+1, 10) + `,"status":"absent"}`
	require.Equal(t, http.StatusConflict, call(router, http.MethodPatch, path, stale, hr).Code)

	fresh := `{"expected_version":` + strconv.FormatInt(rec.Version, 10) + `,"status":"absent","notes":"sick, no call"}`
	rr = call(router, http.MethodPatch, path, fresh, hr)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&rec))
	require.Equal(t, StatusAbsent, rec.Status)
}
