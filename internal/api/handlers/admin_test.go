package handlers

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MacJediWizard/licensegate/internal/admin"
	"github.com/MacJediWizard/licensegate/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockAdminStore struct {
	licenses   []*models.License
	events     []*models.VerificationEvent
	total      int64
	listErr    error
	eventsErr  error
	countErr   error
	lastFilter models.EventFilter
}

func (m *mockAdminStore) ListLicenses(_ context.Context) ([]*models.License, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.licenses, nil
}

func (m *mockAdminStore) ListRecentVerificationEvents(_ context.Context, filter models.EventFilter) ([]*models.VerificationEvent, error) {
	m.lastFilter = filter
	if m.eventsErr != nil {
		return nil, m.eventsErr
	}
	return m.events, nil
}

func (m *mockAdminStore) CountVerificationEvents(_ context.Context, _ models.EventFilter) (int64, error) {
	if m.countErr != nil {
		return 0, m.countErr
	}
	return m.total, nil
}

type mockOperator struct {
	snapshot   *admin.Snapshot
	snapErr    error
	refreshErr error
	setErr     error
	setKey     string
	setStatus  models.LicenseStatus
	setCalls   int
	refreshes  int
}

func (m *mockOperator) SetStatus(_ context.Context, key string, status models.LicenseStatus) (*admin.StatusChange, error) {
	m.setKey = key
	m.setStatus = status
	m.setCalls++
	if m.setErr != nil {
		return nil, m.setErr
	}
	return &admin.StatusChange{
		LicenseKey: key,
		Status:     status,
		Message:    fmt.Sprintf("%s is now %s", key, strings.ToUpper(string(status))),
	}, nil
}

func (m *mockOperator) Snapshot(_ context.Context) (*admin.Snapshot, error) {
	if m.snapErr != nil {
		return nil, m.snapErr
	}
	return m.snapshot, nil
}

func (m *mockOperator) Refresh(_ context.Context) (*admin.Snapshot, error) {
	m.refreshes++
	if m.refreshErr != nil {
		return nil, m.refreshErr
	}
	return m.snapshot, nil
}

func testEvent(id int64, key string, allowed bool, reason string) *models.VerificationEvent {
	e := &models.VerificationEvent{
		ID:         id,
		Timestamp:  time.Date(2026, 3, 1, 12, 0, int(id), 0, time.UTC),
		LicenseKey: models.StringPtr(key),
		ClientID:   models.StringPtr("acme"),
		Allowed:    allowed,
	}
	if reason != "" {
		e.Reason = models.StringPtr(reason)
	}
	return e
}

func setupAdminTestRouter(store AdminStore, op Operator) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	api := r.Group("/api/v1")
	NewAdminHandler(store, op, zerolog.Nop()).RegisterRoutes(api)
	return r
}

func doRequest(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	var req *http.Request
	if body != "" {
		req, _ = http.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req, _ = http.NewRequest(method, path, nil)
	}
	r.ServeHTTP(w, req)
	return w
}

func TestAdminListLicenses(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		store := &mockAdminStore{licenses: []*models.License{
			models.NewLicense("LIC-1", "acme", "2099-01-01"),
		}}
		r := setupAdminTestRouter(store, &mockOperator{})

		w := doRequest(r, http.MethodGet, "/api/v1/admin/licenses", "")
		require.Equal(t, http.StatusOK, w.Code)

		var resp LicenseListResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.Len(t, resp.Licenses, 1)
		assert.Equal(t, "LIC-1", resp.Licenses[0].LicenseKey)
		assert.Equal(t, models.LicenseStatusActive, resp.Licenses[0].Status)
	})

	t.Run("empty list is an array", func(t *testing.T) {
		r := setupAdminTestRouter(&mockAdminStore{}, &mockOperator{})
		w := doRequest(r, http.MethodGet, "/api/v1/admin/licenses", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"licenses":[]}`, w.Body.String())
	})

	t.Run("store error", func(t *testing.T) {
		r := setupAdminTestRouter(&mockAdminStore{listErr: errors.New("down")}, &mockOperator{})
		w := doRequest(r, http.MethodGet, "/api/v1/admin/licenses", "")
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}

func TestAdminSetStatus(t *testing.T) {
	t.Run("suspend", func(t *testing.T) {
		op := &mockOperator{}
		r := setupAdminTestRouter(&mockAdminStore{}, op)

		w := doRequest(r, http.MethodPut, "/api/v1/admin/licenses/LIC-1/status", `{"status":"SUSPENDED"}`)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "LIC-1", op.setKey)
		assert.Equal(t, models.LicenseStatusSuspended, op.setStatus)

		var change admin.StatusChange
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &change))
		assert.Equal(t, "LIC-1 is now SUSPENDED", change.Message)
	})

	t.Run("missing status", func(t *testing.T) {
		r := setupAdminTestRouter(&mockAdminStore{}, &mockOperator{})
		w := doRequest(r, http.MethodPut, "/api/v1/admin/licenses/LIC-1/status", `{}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown status", func(t *testing.T) {
		op := &mockOperator{}
		r := setupAdminTestRouter(&mockAdminStore{}, op)
		w := doRequest(r, http.MethodPut, "/api/v1/admin/licenses/LIC-1/status", `{"status":"revoked"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Empty(t, op.setKey, "operator must not be called")
	})

	t.Run("not found", func(t *testing.T) {
		op := &mockOperator{setErr: fmt.Errorf("set status: %w", models.ErrLicenseNotFound)}
		r := setupAdminTestRouter(&mockAdminStore{}, op)
		w := doRequest(r, http.MethodPut, "/api/v1/admin/licenses/NOPE/status", `{"status":"active"}`)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("storage failure", func(t *testing.T) {
		op := &mockOperator{setErr: errors.New("connection reset")}
		r := setupAdminTestRouter(&mockAdminStore{}, op)
		w := doRequest(r, http.MethodPut, "/api/v1/admin/licenses/LIC-1/status", `{"status":"active"}`)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.NotContains(t, w.Body.String(), "connection reset")
	})
}

func TestAdminListEvents(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		store := &mockAdminStore{
			events: []*models.VerificationEvent{
				testEvent(2, "LIC-1", false, "suspended"),
				testEvent(1, "LIC-1", true, ""),
			},
			total: 2,
		}
		r := setupAdminTestRouter(store, &mockOperator{})

		w := doRequest(r, http.MethodGet, "/api/v1/admin/events", "")
		require.Equal(t, http.StatusOK, w.Code)

		var resp EventListResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Len(t, resp.Events, 2)
		assert.Equal(t, int64(2), resp.TotalCount)
		assert.Equal(t, defaultEventsLimit, resp.Limit)
		assert.Equal(t, 0, resp.Offset)
		assert.Equal(t, int64(2), resp.Events[0].ID)
	})

	t.Run("filters are forwarded", func(t *testing.T) {
		store := &mockAdminStore{}
		r := setupAdminTestRouter(store, &mockOperator{})

		w := doRequest(r, http.MethodGet, "/api/v1/admin/events?license_key=LIC-1&client_id=acme&allowed=false&limit=5000&offset=10", "")
		require.Equal(t, http.StatusOK, w.Code)

		f := store.lastFilter
		assert.Equal(t, "LIC-1", f.LicenseKey)
		assert.Equal(t, "acme", f.ClientID)
		require.NotNil(t, f.Allowed)
		assert.False(t, *f.Allowed)
		assert.Equal(t, maxEventsLimit, f.Limit)
		assert.Equal(t, 10, f.Offset)
		assert.Contains(t, w.Body.String(), `"events":[]`)
	})

	for _, q := range []string{"allowed=maybe", "limit=0", "limit=abc", "offset=-1"} {
		t.Run("invalid "+q, func(t *testing.T) {
			r := setupAdminTestRouter(&mockAdminStore{}, &mockOperator{})
			w := doRequest(r, http.MethodGet, "/api/v1/admin/events?"+q, "")
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}

	t.Run("list error", func(t *testing.T) {
		r := setupAdminTestRouter(&mockAdminStore{eventsErr: errors.New("down")}, &mockOperator{})
		w := doRequest(r, http.MethodGet, "/api/v1/admin/events", "")
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	t.Run("count error", func(t *testing.T) {
		r := setupAdminTestRouter(&mockAdminStore{countErr: errors.New("down")}, &mockOperator{})
		w := doRequest(r, http.MethodGet, "/api/v1/admin/events", "")
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}

func TestAdminExportEventsCSV(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		store := &mockAdminStore{events: []*models.VerificationEvent{
			testEvent(2, "LIC-1", false, "expired"),
			testEvent(1, "LIC-1", true, ""),
		}}
		r := setupAdminTestRouter(store, &mockOperator{})

		w := doRequest(r, http.MethodGet, "/api/v1/admin/events/export/csv", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
		assert.Contains(t, w.Header().Get("Content-Disposition"), "attachment; filename=verification_events_")
		assert.Equal(t, maxExportRows, store.lastFilter.Limit)

		records, err := csv.NewReader(strings.NewReader(w.Body.String())).ReadAll()
		require.NoError(t, err)
		require.Len(t, records, 3)
		assert.Equal(t, "license_key", records[0][2])
		assert.Equal(t, []string{"2", "2026-03-01T12:00:02Z", "LIC-1", "acme", "", "", "false", "expired"}, records[1])
		assert.Equal(t, "true", records[2][6])
		assert.Equal(t, "", records[2][7])
	})

	t.Run("explicit limit", func(t *testing.T) {
		store := &mockAdminStore{}
		r := setupAdminTestRouter(store, &mockOperator{})
		w := doRequest(r, http.MethodGet, "/api/v1/admin/events/export/csv?limit=20", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, 20, store.lastFilter.Limit)
	})

	t.Run("store error", func(t *testing.T) {
		r := setupAdminTestRouter(&mockAdminStore{eventsErr: errors.New("down")}, &mockOperator{})
		w := doRequest(r, http.MethodGet, "/api/v1/admin/events/export/csv", "")
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}

func TestAdminSummaryAndRefresh(t *testing.T) {
	snap := &admin.Snapshot{
		Licenses:    []*models.License{models.NewLicense("LIC-1", "acme", "2099-01-01")},
		Events:      []*models.VerificationEvent{testEvent(1, "LIC-1", true, "")},
		Totals:      admin.Totals{Total: 1, Allowed: 1},
		RefreshedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	t.Run("summary", func(t *testing.T) {
		r := setupAdminTestRouter(&mockAdminStore{}, &mockOperator{snapshot: snap})
		w := doRequest(r, http.MethodGet, "/api/v1/admin/summary", "")
		require.Equal(t, http.StatusOK, w.Code)

		var got admin.Snapshot
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
		assert.Equal(t, 1, got.Totals.Total)
		assert.Len(t, got.Licenses, 1)
	})

	t.Run("summary error", func(t *testing.T) {
		r := setupAdminTestRouter(&mockAdminStore{}, &mockOperator{snapErr: errors.New("down")})
		w := doRequest(r, http.MethodGet, "/api/v1/admin/summary", "")
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	t.Run("refresh", func(t *testing.T) {
		op := &mockOperator{snapshot: snap}
		r := setupAdminTestRouter(&mockAdminStore{}, op)
		w := doRequest(r, http.MethodPost, "/api/v1/admin/refresh", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, 1, op.refreshes)
	})

	t.Run("refresh error", func(t *testing.T) {
		r := setupAdminTestRouter(&mockAdminStore{}, &mockOperator{refreshErr: errors.New("down")})
		w := doRequest(r, http.MethodPost, "/api/v1/admin/refresh", "")
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}
