package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/halaka-hub/halaka-scheduler/internal/application/command"
	"github.com/halaka-hub/halaka-scheduler/internal/application/query"
	"github.com/halaka-hub/halaka-scheduler/internal/domain/shared"
	"github.com/halaka-hub/halaka-scheduler/internal/infrastructure/persistence/memory"
	"github.com/halaka-hub/halaka-scheduler/internal/infrastructure/scheduler"
	"github.com/halaka-hub/halaka-scheduler/internal/interface/http/handlers"
	"github.com/halaka-hub/halaka-scheduler/pkg/logger"
)

const (
	apiKey       = "test-api-key"
	teacherID    = "d3d94468-02a4-4a2b-9b8c-2e3f4a5b6c70"
	otherTeacher = "a87ff679-a2f3-4e71-9181-2a3b4c5d6e7f"
	studentID    = "45c48cce-2e2d-4fbd-8a5c-1d2e3f4a5b60"
)

// clock is 2025-01-03, two days before the first lesson.
var clock = time.Date(2025, 1, 3, 7, 0, 0, 0, time.UTC)

type fakeJobs struct {
	mu      sync.Mutex
	err     error
	gotDate shared.Date
}

func (f *fakeJobs) RunNow(_ context.Context, name string) (*scheduler.JobResult, error) {
	return f.RunForDate(context.Background(), name, shared.Date{})
}

func (f *fakeJobs) RunForDate(_ context.Context, name string, date shared.Date) (*scheduler.JobResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if errors.Is(f.err, scheduler.ErrJobNotFound) {
		return nil, f.err
	}
	f.gotDate = date
	return &scheduler.JobResult{JobName: name, Date: date, Success: f.err == nil, Error: f.err, Manual: true}, f.err
}

type routeRecorder struct {
	mu     sync.Mutex
	routes []string
}

func (r *routeRecorder) ObserveHTTP(method, route string, status int, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes = append(r.routes, method+" "+route)
}

type testAPI struct {
	handler  http.Handler
	jobs     *fakeJobs
	observer *routeRecorder
	health   *handlers.CompositeHealthChecker
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(apiKey), bcrypt.MinCost)
	require.NoError(t, err)

	schedules := memory.NewScheduleRepository()
	enrollments := memory.NewEnrollmentRepository()
	locker := memory.NewLocker()
	now := func() time.Time { return clock }
	occ := command.OccurrenceHandlerConfig{Now: now}

	api := &testAPI{
		jobs:     &fakeJobs{},
		observer: &routeRecorder{},
		health:   handlers.NewCompositeHealthChecker("test"),
	}
	cfg := DefaultConfig()
	cfg.APIKeyHashes = []string{string(hash)}
	cfg.EnableMetrics = false

	srv := NewServer(cfg, Dependencies{
		CreateSchedule:     command.NewCreateScheduleHandler(schedules, enrollments, now),
		EnrollStudent:      command.NewEnrollStudentHandler(schedules, enrollments, locker, occ),
		CancelOccurrence:   command.NewCancelOccurrenceHandler(schedules, locker, nil, occ),
		RestoreOccurrence:  command.NewRestoreOccurrenceHandler(schedules, locker, nil, occ),
		OverrideAttendance: command.NewOverrideAttendanceHandler(schedules, locker, occ),
		Payments:           command.NewPaymentHandler(enrollments, locker, nil, command.PaymentHandlerConfig{FeeBasisPoints: 1500, Now: now}),
		Enrollments:        command.NewEnrollmentLifecycleHandler(enrollments, locker, nil, occ),
		GetOccurrences:     query.NewGetOccurrencesHandler(schedules),
		GetEnrollment:      query.NewGetEnrollmentHandler(enrollments),
		Jobs:               api.jobs,
		HealthChecker:      api.health,
		Observer:           api.observer,
		Logger:             logger.New(logger.Options{Output: &bytes.Buffer{}, Level: logger.LevelError}),
	})
	api.handler = srv.Handler()
	return api
}

// do sends a request with the API key. actor is "kind:id" or empty.
func (a *testAPI) do(t *testing.T, method, path string, body any, actor string) (*httptest.ResponseRecorder, handlers.JSONResponse) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", apiKey)
	if kind, id, ok := strings.Cut(actor, ":"); ok {
		req.Header.Set(handlers.HeaderActorKind, kind)
		req.Header.Set(handlers.HeaderActorID, id)
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)

	var env handlers.JSONResponse
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

func decodeData(t *testing.T, env handlers.JSONResponse, dst any) {
	t.Helper()
	raw, err := json.Marshal(env.Data)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, dst))
}

func scheduleBody() map[string]any {
	return map[string]any{
		"teacher_id":         teacherID,
		"title":              "Tajweed",
		"kind":               "private",
		"private_student_id": studentID,
		"meeting_id":         "room-42",
		"frequency":          "weekly",
		"days":               []string{"sunday", "tue"},
		"start_time":         "10:00",
		"duration_minutes":   60,
		"start_date":         "2025-01-05",
		"timezone":           "Asia/Riyadh",
		"total_sessions":     4,
		"price":              100000,
	}
}

func (a *testAPI) createSchedule(t *testing.T) scheduleResponse {
	t.Helper()
	rec, env := a.do(t, http.MethodPost, "/api/v1/schedules", scheduleBody(), "teacher:"+teacherID)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var s scheduleResponse
	decodeData(t, env, &s)
	require.NotNil(t, s.Enrollment)
	return s
}

// ─────────────────────────────────────────────────────────────────────────────
// Authentication
// ─────────────────────────────────────────────────────────────────────────────

func TestAPI_RequiresAPIKey(t *testing.T) {
	api := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/enrollments/"+studentID, nil)
	rec := httptest.NewRecorder()
	api.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "missing_api_key")

	req = httptest.NewRequest(http.MethodGet, "/api/v1/enrollments/"+studentID, nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	api.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_api_key")
}

func TestAPI_RejectsMalformedActor(t *testing.T) {
	api := newTestAPI(t)
	rec, env := api.do(t, http.MethodGet, "/api/v1/enrollments/"+studentID, nil, "robot:x")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "invalid_actor", env.Error.Code)
}

// ─────────────────────────────────────────────────────────────────────────────
// Schedules
// ─────────────────────────────────────────────────────────────────────────────

func TestAPI_CreateScheduleAndListOccurrences(t *testing.T) {
	api := newTestAPI(t)
	s := api.createSchedule(t)
	assert.Equal(t, "private", s.Kind)
	assert.Equal(t, "pending_payment", s.Enrollment.Status)

	rec, env := api.do(t, http.MethodGet, "/api/v1/schedules/"+s.ID+"/occurrences", nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var occ query.OccurrencesDTO
	decodeData(t, env, &occ)
	require.Len(t, occ.Occurrences, 4)
	assert.Equal(t, shared.NewDate(2025, 1, 5), occ.Occurrences[0].Date)
	assert.Equal(t, shared.NewDate(2025, 1, 14), occ.Occurrences[3].Date)
	require.NotNil(t, env.Meta)
	assert.Equal(t, 4, env.Meta.TotalCount)

	rec, _ = api.do(t, http.MethodGet, "/api/v1/schedules/"+s.ID+"/occurrences?from=2025-01-10&to=2025-01-01", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_CreateScheduleRejections(t *testing.T) {
	api := newTestAPI(t)

	rec, env := api.do(t, http.MethodPost, "/api/v1/schedules", scheduleBody(), "student:"+studentID)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	require.NotNil(t, env.Error)

	body := scheduleBody()
	delete(body, "kind")
	rec, env = api.do(t, http.MethodPost, "/api/v1/schedules", body, "teacher:"+teacherID)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", env.Error.Code)

	body = scheduleBody()
	body["days"] = []string{"someday"}
	rec, env = api.do(t, http.MethodPost, "/api/v1/schedules", body, "teacher:"+teacherID)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "unknown weekday", env.Error.Message)

	body = scheduleBody()
	body["colour"] = "blue"
	rec, env = api.do(t, http.MethodPost, "/api/v1/schedules", body, "teacher:"+teacherID)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_json", env.Error.Code)
}

func TestAPI_CancelAndRestoreOccurrence(t *testing.T) {
	api := newTestAPI(t)
	s := api.createSchedule(t)
	path := "/api/v1/schedules/" + s.ID + "/cancellations"
	teacher := "teacher:" + teacherID

	rec, env := api.do(t, http.MethodPost, path, map[string]any{"date": "2025-01-07"}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "missing_actor", env.Error.Code)

	rec, env = api.do(t, http.MethodPost, path, map[string]any{"date": "2025-01-06"}, teacher)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "date not in schedule", env.Error.Message)

	rec, env = api.do(t, http.MethodPost, path, map[string]any{"date": "2025-01-07", "reason": "travel"}, "teacher:"+otherTeacher)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, env = api.do(t, http.MethodPost, path, map[string]any{"date": "2025-01-07", "reason": "travel"}, teacher)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var change occurrenceChangeResponse
	decodeData(t, env, &change)
	assert.Equal(t, "2025-01-14", change.OldEndDate)
	assert.Equal(t, "2025-01-19", change.NewEndDate)

	rec, env = api.do(t, http.MethodPost, path, map[string]any{"date": "2025-01-07"}, teacher)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "already cancelled", env.Error.Message)

	rec, env = api.do(t, http.MethodDelete, path+"/2025-01-07", nil, teacher)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decodeData(t, env, &change)
	assert.Equal(t, "2025-01-14", change.NewEndDate)

	rec, _ = api.do(t, http.MethodDelete, path+"/2025-01-07", nil, teacher)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, _ = api.do(t, http.MethodDelete, path+"/07-01-2025", nil, teacher)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_OverrideAttendance(t *testing.T) {
	api := newTestAPI(t)
	s := api.createSchedule(t)
	path := "/api/v1/schedules/" + s.ID + "/attendance/2025-01-05/" + studentID

	rec, env := api.do(t, http.MethodPut, path, map[string]any{"status": "excused"}, "admin:ops-1")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res overrideAttendanceResponse
	decodeData(t, env, &res)
	assert.True(t, res.Applied)
	assert.Equal(t, "excused", string(res.Record.Status))

	rec, _ = api.do(t, http.MethodPut, path, map[string]any{"status": "sleeping"}, "admin:ops-1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// ─────────────────────────────────────────────────────────────────────────────
// Enrollments
// ─────────────────────────────────────────────────────────────────────────────

func TestAPI_PaymentFlow(t *testing.T) {
	api := newTestAPI(t)
	s := api.createSchedule(t)
	base := "/api/v1/enrollments/" + s.Enrollment.ID

	rec, env := api.do(t, http.MethodPost, base+"/payments", map[string]any{"amount": 100000, "reference": "pay-1"}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var e enrollmentResponse
	decodeData(t, env, &e)
	assert.Equal(t, "active", e.Status)
	assert.Equal(t, 4, e.SessionsRemaining)
	require.NotNil(t, e.Fee)
	assert.Equal(t, int64(15000), *e.Fee)

	rec, _ = api.do(t, http.MethodPost, base+"/payments", map[string]any{"amount": 100000, "reference": "pay-1"}, "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, env = api.do(t, http.MethodPost, base+"/top-ups", map[string]any{"amount": 50000, "sessions": 2, "reference": "pay-2"}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decodeData(t, env, &e)
	assert.Equal(t, 6, e.SessionsRemaining)

	rec, env = api.do(t, http.MethodGet, base, nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var view query.EnrollmentDTO
	decodeData(t, env, &view)
	assert.Equal(t, 6, view.PaidSessions)
	assert.Len(t, view.Tranches, 2)

	rec, _ = api.do(t, http.MethodGet, "/api/v1/enrollments/"+otherTeacher, nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_CancelEnrollment(t *testing.T) {
	api := newTestAPI(t)
	s := api.createSchedule(t)
	path := "/api/v1/enrollments/" + s.Enrollment.ID + "/cancel"

	rec, _ := api.do(t, http.MethodPost, path, nil, "student:"+otherTeacher)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, env := api.do(t, http.MethodPost, path, nil, "student:"+studentID)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var e enrollmentResponse
	decodeData(t, env, &e)
	assert.Equal(t, "cancelled_by_student", e.Status)

	rec, _ = api.do(t, http.MethodPost, path, nil, "student:"+studentID)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

// ─────────────────────────────────────────────────────────────────────────────
// Jobs, health, metrics
// ─────────────────────────────────────────────────────────────────────────────

func TestAPI_RunJob(t *testing.T) {
	api := newTestAPI(t)

	rec, env := api.do(t, http.MethodPost, "/api/v1/jobs/credit_deduction/run?date=2025-01-05", nil, "admin:ops-1")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res jobRunResponse
	decodeData(t, env, &res)
	assert.True(t, res.Success)
	assert.Equal(t, "2025-01-05", res.Date)
	assert.Equal(t, shared.NewDate(2025, 1, 5), api.jobs.gotDate)

	api.jobs.err = errors.New("wallet down")
	rec, env = api.do(t, http.MethodPost, "/api/v1/jobs/reconcile_payouts/run", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	decodeData(t, env, &res)
	assert.False(t, res.Success)
	assert.Equal(t, "wallet down", res.Error)

	api.jobs.err = scheduler.ErrJobNotFound
	rec, _ = api.do(t, http.MethodPost, "/api/v1/jobs/nope/run", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = api.do(t, http.MethodPost, "/api/v1/jobs/credit_deduction/run?date=tomorrow", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = api.do(t, http.MethodPost, "/api/v1/jobs/credit_deduction/run", nil, "teacher:"+teacherID)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAPI_HealthAndReadiness(t *testing.T) {
	api := newTestAPI(t)

	rec, _ := api.do(t, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	api.health.AddCheck("postgres", func(context.Context) error { return errors.New("connection refused") })
	rec, env := api.do(t, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var status handlers.HealthStatus
	decodeData(t, env, &status)
	assert.False(t, status.Checks["postgres"].Healthy)

	rec, env = api.do(t, http.MethodGet, "/ready", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "not_ready", env.Error.Code)
}

func TestAPI_ObservesRoutePatterns(t *testing.T) {
	api := newTestAPI(t)
	s := api.createSchedule(t)
	api.do(t, http.MethodGet, "/api/v1/schedules/"+s.ID+"/occurrences", nil, "")
	api.do(t, http.MethodGet, "/nowhere", nil, "")

	api.observer.mu.Lock()
	defer api.observer.mu.Unlock()
	assert.Contains(t, api.observer.routes, "POST /api/v1/schedules")
	assert.Contains(t, api.observer.routes, "GET /api/v1/schedules/{scheduleID}/occurrences")
	assert.Contains(t, api.observer.routes, "GET unmatched")
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{shared.ErrScheduleNotFound, http.StatusNotFound},
		{shared.ErrNotScheduleTeacher, http.StatusForbidden},
		{shared.ErrDateNotInSchedule, http.StatusBadRequest},
		{shared.ErrAlreadyCancelled, http.StatusConflict},
		{shared.ErrOccurrencePassed, http.StatusConflict},
		{shared.ErrLedgerConflict, http.StatusConflict},
		{shared.ErrWalletUnavailable, http.StatusServiceUnavailable},
		{scheduler.ErrJobBusy, http.StatusConflict},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		got, _ := statusFor(tt.err)
		assert.Equal(t, tt.want, got, tt.err.Error())
	}
}
