package audithttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-workforce/internal/audit"
	"github.com/odyssey-erp/odyssey-workforce/internal/rbac"
	"github.com/odyssey-erp/odyssey-workforce/internal/shared"
)

type stubStore struct {
	result       audit.Result
	exportRows   []audit.Entry
	lastFilters  audit.TimelineFilters
	rollbackArgs []any
}

func (s *stubStore) Timeline(ctx context.Context, filters audit.TimelineFilters) (audit.Result, error) {
	s.lastFilters = filters
	return s.result, nil
}

func (s *stubStore) Export(ctx context.Context, filters audit.TimelineFilters) ([]audit.Entry, error) {
	s.lastFilters = filters
	return s.exportRows, nil
}

func (s *stubStore) History(ctx context.Context, entityType, entityID string) (audit.History, error) {
	return audit.History{}, nil
}

func (s *stubStore) Rollback(ctx context.Context, entityType, entityID string, target int64, actorID int64) (audit.Snapshot, error) {
	s.rollbackArgs = []any{entityType, entityID, target, actorID}
	return audit.Snapshot{EntityType: entityType, EntityID: entityID, VersionNumber: target + 1}, nil
}

func newRouter(t *testing.T, store *stubStore) http.Handler {
	t.Helper()
	handler := NewHandler(nil, store, rbac.Middleware{Policy: rbac.DefaultPolicy()})
	handler.now = func() time.Time { return time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC) }
	r := chi.NewRouter()
	r.Route("/audit", handler.MountRoutes)
	return r
}

func withActor(req *http.Request, role rbac.Role) *http.Request {
	return req.WithContext(shared.ContextWithActor(req.Context(), shared.Actor{ID: 9, Role: string(role)}))
}

func TestTimelineRequiresPermission(t *testing.T) {
	router := newRouter(t, &stubStore{})
	req := withActor(httptest.NewRequest(http.MethodGet, "/audit/timeline", nil), rbac.RoleEmployee)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

func TestTimelineDefaultsRange(t *testing.T) {
	store := &stubStore{result: audit.Result{Paging: audit.PagingInfo{Page: 1, PageSize: 20}}}
	router := newRouter(t, store)
	req := withActor(httptest.NewRequest(http.MethodGet, "/audit/timeline?entity_type=leave_request&page_size=80", nil), rbac.RoleHR)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if store.lastFilters.PageSize != maxPageSize {
		t.Fatalf("expected page size clamp, got %d", store.lastFilters.PageSize)
	}
	if !store.lastFilters.From.Equal(time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected from %v", store.lastFilters.From)
	}
	if store.lastFilters.EntityType != "leave_request" {
		t.Fatalf("entity filter not propagated")
	}
}

func TestTimelineRejectsInvertedRange(t *testing.T) {
	router := newRouter(t, &stubStore{})
	req := withActor(httptest.NewRequest(http.MethodGet, "/audit/timeline?from=2024-03-10&to=2024-03-01", nil), rbac.RoleHR)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestExportWritesCSV(t *testing.T) {
	store := &stubStore{exportRows: []audit.Entry{{Timestamp: time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC), Action: audit.ActionLock, EntityType: "salary_record", EntityID: "4"}}}
	router := newRouter(t, store)
	req := withActor(httptest.NewRequest(http.MethodGet, "/audit/export.csv", nil), rbac.RoleAdmin)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "salary_record") {
		t.Fatalf("csv missing row: %s", rr.Body.String())
	}
}

func TestRollbackRequiresAdmin(t *testing.T) {
	store := &stubStore{}
	router := newRouter(t, store)

	body := `{"target_version":2}`
	req := withActor(httptest.NewRequest(http.MethodPost, "/audit/attendance_record/5/rollback", strings.NewReader(body)), rbac.RoleHR)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for hr, got %d", rr.Code)
	}

	req = withActor(httptest.NewRequest(http.MethodPost, "/audit/attendance_record/5/rollback", strings.NewReader(body)), rbac.RoleAdmin)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var snap audit.Snapshot
	if err := json.Unmarshal(rr.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.VersionNumber != 3 || store.rollbackArgs[2].(int64) != 2 {
		t.Fatalf("unexpected rollback %+v %v", snap, store.rollbackArgs)
	}
}
