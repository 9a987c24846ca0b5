package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/halaka-hub/halaka-scheduler/internal/application/command"
	"github.com/halaka-hub/halaka-scheduler/internal/application/query"
	"github.com/halaka-hub/halaka-scheduler/internal/domain/enrollment"
	"github.com/halaka-hub/halaka-scheduler/internal/domain/recurrence"
	"github.com/halaka-hub/halaka-scheduler/internal/domain/schedule"
	"github.com/halaka-hub/halaka-scheduler/internal/domain/shared"
	"github.com/halaka-hub/halaka-scheduler/internal/infrastructure/scheduler"
	"github.com/halaka-hub/halaka-scheduler/internal/interface/http/handlers"
)

var validate = validator.New()

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleHealth handles the health check endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker == nil {
		handlers.WriteJSON(w, r, http.StatusOK, map[string]string{
			"status": "healthy",
			"uptime": s.Uptime().Round(time.Second).String(),
		})
		return
	}
	status := s.deps.HealthChecker.Check(r.Context())
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	handlers.WriteJSON(w, r, code, status)
}

// handleReady handles the readiness probe.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker != nil {
		status := s.deps.HealthChecker.Check(r.Context())
		if !status.Ready {
			handlers.WriteErrorWithDetails(w, r, http.StatusServiceUnavailable, "not_ready", "service is not ready", status.Message)
			return
		}
	}
	handlers.WriteJSON(w, r, http.StatusOK, map[string]string{"status": "ready"})
}

// handleLive handles the liveness probe.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	handlers.WriteJSON(w, r, http.StatusOK, map[string]string{"status": "alive"})
}

// ══════════════════════════════════════════════════════════════════════════════
// SCHEDULE HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

type createScheduleRequest struct {
	TeacherID        string       `json:"teacher_id" validate:"required,uuid"`
	Title            string       `json:"title" validate:"max=200"`
	Kind             string       `json:"kind" validate:"required,oneof=private group"`
	PrivateStudentID string       `json:"private_student_id" validate:"omitempty,uuid"`
	GroupStudentIDs  []string     `json:"group_student_ids" validate:"dive,uuid"`
	MeetingID        string       `json:"meeting_id" validate:"max=256"`
	Frequency        string       `json:"frequency" validate:"required"`
	Days             []string     `json:"days" validate:"required,min=1,max=7"`
	StartTime        string       `json:"start_time" validate:"required"`
	DurationMinutes  int          `json:"duration_minutes" validate:"required,gt=0,lte=1440"`
	StartDate        shared.Date  `json:"start_date"`
	EndDate          *shared.Date `json:"end_date,omitempty"`
	Timezone         string       `json:"timezone" validate:"required"`
	TotalSessions    int          `json:"total_sessions" validate:"required,gt=0"`
	Price            int64        `json:"price" validate:"gte=0"`
	Invite           bool         `json:"invite"`
}

func (req createScheduleRequest) toCommand() (command.CreateScheduleCommand, error) {
	freq, err := recurrence.ParseFrequency(req.Frequency)
	if err != nil {
		return command.CreateScheduleCommand{}, err
	}
	days := make([]time.Weekday, 0, len(req.Days))
	for _, d := range req.Days {
		wd, err := recurrence.ParseWeekday(d)
		if err != nil {
			return command.CreateScheduleCommand{}, err
		}
		days = append(days, wd)
	}
	if req.StartDate.IsZero() {
		return command.CreateScheduleCommand{}, shared.NewDomainError("schedule", "Create", shared.ErrEmptyValue, "start_date is required")
	}
	params := recurrence.Params{
		Frequency:       freq,
		Days:            days,
		StartTime:       req.StartTime,
		DurationMinutes: req.DurationMinutes,
		StartDate:       req.StartDate,
		Timezone:        req.Timezone,
	}
	if req.EndDate != nil {
		params.EndDate = *req.EndDate
	}
	group := make([]shared.StudentID, 0, len(req.GroupStudentIDs))
	for _, id := range req.GroupStudentIDs {
		group = append(group, shared.StudentID(id))
	}
	return command.CreateScheduleCommand{
		TeacherID:        shared.TeacherID(req.TeacherID),
		Title:            strings.TrimSpace(req.Title),
		Kind:             schedule.Kind(req.Kind),
		PrivateStudentID: shared.StudentID(req.PrivateStudentID),
		GroupStudentIDs:  group,
		MeetingID:        strings.TrimSpace(req.MeetingID),
		Rule:             params,
		TotalSessions:    req.TotalSessions,
		Price:            shared.Money(req.Price),
		Invite:           req.Invite,
	}, nil
}

type scheduleResponse struct {
	ID            string              `json:"id"`
	TeacherID     string              `json:"teacher_id"`
	Title         string              `json:"title"`
	Kind          string              `json:"kind"`
	Status        string              `json:"status"`
	MeetingID     string              `json:"meeting_id,omitempty"`
	Rule          recurrence.Rule     `json:"rule"`
	TotalSessions int                 `json:"total_sessions"`
	Price         int64               `json:"price"`
	CreatedAt     time.Time           `json:"created_at"`
	Enrollment    *enrollmentResponse `json:"enrollment,omitempty"`
}

type enrollmentResponse struct {
	ID                string `json:"id"`
	ScheduleID        string `json:"schedule_id"`
	StudentID         string `json:"student_id"`
	Status            string `json:"status"`
	SessionsRemaining int    `json:"sessions_remaining"`
	TotalSessions     int    `json:"total_sessions"`
	Fee               *int64 `json:"fee,omitempty"`
}

func newEnrollmentResponse(e *enrollment.Enrollment) *enrollmentResponse {
	if e == nil {
		return nil
	}
	return &enrollmentResponse{
		ID:                e.ID.String(),
		ScheduleID:        e.ScheduleID.String(),
		StudentID:         e.StudentID.String(),
		Status:            string(e.Status),
		SessionsRemaining: e.SessionsRemaining,
		TotalSessions:     e.TotalSessions,
	}
}

// handleCreateSchedule handles POST /api/v1/schedules.
func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	if s.deps.CreateSchedule == nil {
		notConfigured(w, r)
		return
	}
	var req createScheduleRequest
	if !s.decode(w, r, &req) {
		return
	}
	if actor, ok := handlers.ActorFromContext(r.Context()); ok {
		if actor.Kind == shared.ActorStudent || (actor.Kind == shared.ActorTeacher && actor.ID != req.TeacherID) {
			s.writeError(w, r, shared.ErrNotScheduleTeacher)
			return
		}
	}
	cmd, err := req.toCommand()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.deps.CreateSchedule.Handle(r.Context(), cmd)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sc := res.Schedule
	handlers.WriteJSON(w, r, http.StatusCreated, scheduleResponse{
		ID:            sc.ID.String(),
		TeacherID:     sc.TeacherID.String(),
		Title:         sc.Title,
		Kind:          string(sc.Kind),
		Status:        string(sc.Status),
		MeetingID:     sc.MeetingID,
		Rule:          sc.Rule,
		TotalSessions: sc.TotalSessions,
		Price:         int64(sc.Price),
		CreatedAt:     sc.CreatedAt,
		Enrollment:    newEnrollmentResponse(res.Enrollment),
	})
}

type enrollStudentRequest struct {
	StudentID string `json:"student_id" validate:"required,uuid"`
}

// handleEnrollStudent handles POST /api/v1/schedules/{scheduleID}/enrollments.
func (s *Server) handleEnrollStudent(w http.ResponseWriter, r *http.Request) {
	if s.deps.EnrollStudent == nil {
		notConfigured(w, r)
		return
	}
	var req enrollStudentRequest
	if !s.decode(w, r, &req) {
		return
	}
	e, err := s.deps.EnrollStudent.Handle(r.Context(), command.EnrollStudentCommand{
		ScheduleID: scheduleIDParam(r),
		StudentID:  shared.StudentID(req.StudentID),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	handlers.WriteJSON(w, r, http.StatusCreated, newEnrollmentResponse(e))
}

// handleGetOccurrences handles GET /api/v1/schedules/{scheduleID}/occurrences.
func (s *Server) handleGetOccurrences(w http.ResponseWriter, r *http.Request) {
	if s.deps.GetOccurrences == nil {
		notConfigured(w, r)
		return
	}
	q := query.GetOccurrencesQuery{ScheduleID: scheduleIDParam(r)}
	var err error
	if q.From, err = optionalDate(r.URL.Query().Get("from")); err != nil {
		s.writeError(w, r, err)
		return
	}
	if q.To, err = optionalDate(r.URL.Query().Get("to")); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.deps.GetOccurrences.Handle(r.Context(), q)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	handlers.WriteJSONWithMeta(w, r, http.StatusOK, res, &handlers.ResponseMeta{TotalCount: len(res.Occurrences)})
}

// ══════════════════════════════════════════════════════════════════════════════
// OCCURRENCE HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

type cancelOccurrenceRequest struct {
	Date   shared.Date `json:"date"`
	Reason string      `json:"reason" validate:"max=500"`
}

type occurrenceChangeResponse struct {
	ScheduleID string `json:"schedule_id"`
	Date       string `json:"date"`
	OldEndDate string `json:"old_end_date"`
	NewEndDate string `json:"new_end_date"`
}

func newOccurrenceChangeResponse(res *command.OccurrenceChangeResult) occurrenceChangeResponse {
	return occurrenceChangeResponse{
		ScheduleID: res.ScheduleID.String(),
		Date:       res.Date.String(),
		OldEndDate: res.OldEndDate.String(),
		NewEndDate: res.NewEndDate.String(),
	}
}

// handleCancelOccurrence handles POST /api/v1/schedules/{scheduleID}/cancellations.
func (s *Server) handleCancelOccurrence(w http.ResponseWriter, r *http.Request) {
	if s.deps.CancelOccurrence == nil {
		notConfigured(w, r)
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req cancelOccurrenceRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Date.IsZero() {
		s.writeError(w, r, shared.NewDomainError("schedule", "Cancel", shared.ErrEmptyValue, "date is required"))
		return
	}
	res, err := s.deps.CancelOccurrence.Handle(r.Context(), command.CancelOccurrenceCommand{
		ScheduleID: scheduleIDParam(r),
		Date:       req.Date,
		Reason:     strings.TrimSpace(req.Reason),
		Actor:      actor,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	handlers.WriteJSON(w, r, http.StatusOK, newOccurrenceChangeResponse(res))
}

// handleRestoreOccurrence handles DELETE /api/v1/schedules/{scheduleID}/cancellations/{date}.
func (s *Server) handleRestoreOccurrence(w http.ResponseWriter, r *http.Request) {
	if s.deps.RestoreOccurrence == nil {
		notConfigured(w, r)
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	date, err := shared.ParseDate(chi.URLParam(r, "date"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.deps.RestoreOccurrence.Handle(r.Context(), command.RestoreOccurrenceCommand{
		ScheduleID: scheduleIDParam(r),
		Date:       date,
		Actor:      actor,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	handlers.WriteJSON(w, r, http.StatusOK, newOccurrenceChangeResponse(res))
}

type overrideAttendanceRequest struct {
	Status string     `json:"status" validate:"required,oneof=present absent late excused"`
	At     *time.Time `json:"at,omitempty"`
}

type overrideAttendanceResponse struct {
	Applied bool                             `json:"applied"`
	Record  schedule.StudentAttendanceRecord `json:"record"`
}

// handleOverrideAttendance handles PUT /api/v1/schedules/{scheduleID}/attendance/{date}/{studentID}.
func (s *Server) handleOverrideAttendance(w http.ResponseWriter, r *http.Request) {
	if s.deps.OverrideAttendance == nil {
		notConfigured(w, r)
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req overrideAttendanceRequest
	if !s.decode(w, r, &req) {
		return
	}
	date, err := shared.ParseDate(chi.URLParam(r, "date"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	cmd := command.OverrideAttendanceCommand{
		ScheduleID: scheduleIDParam(r),
		Date:       date,
		StudentID:  shared.StudentID(chi.URLParam(r, "studentID")),
		Status:     req.Status,
		Actor:      actor,
	}
	if req.At != nil {
		cmd.At = *req.At
	}
	res, err := s.deps.OverrideAttendance.Handle(r.Context(), cmd)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	handlers.WriteJSON(w, r, http.StatusOK, overrideAttendanceResponse{Applied: res.Applied, Record: res.Record})
}

// ══════════════════════════════════════════════════════════════════════════════
// ENROLLMENT HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

type paymentRequest struct {
	Amount    int64  `json:"amount" validate:"gte=0"`
	Sessions  int    `json:"sessions" validate:"gte=0"`
	Reference string `json:"reference" validate:"required,max=128"`
}

// handleGetEnrollment handles GET /api/v1/enrollments/{enrollmentID}.
func (s *Server) handleGetEnrollment(w http.ResponseWriter, r *http.Request) {
	if s.deps.GetEnrollment == nil {
		notConfigured(w, r)
		return
	}
	res, err := s.deps.GetEnrollment.Handle(r.Context(), query.GetEnrollmentQuery{EnrollmentID: enrollmentIDParam(r)})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	handlers.WriteJSON(w, r, http.StatusOK, res)
}

// handleConfirmPayment handles POST /api/v1/enrollments/{enrollmentID}/payments.
func (s *Server) handleConfirmPayment(w http.ResponseWriter, r *http.Request) {
	s.handlePayment(w, r, false)
}

// handleTopUp handles POST /api/v1/enrollments/{enrollmentID}/top-ups.
func (s *Server) handleTopUp(w http.ResponseWriter, r *http.Request) {
	s.handlePayment(w, r, true)
}

func (s *Server) handlePayment(w http.ResponseWriter, r *http.Request, topUp bool) {
	if s.deps.Payments == nil {
		notConfigured(w, r)
		return
	}
	var req paymentRequest
	if !s.decode(w, r, &req) {
		return
	}
	cmd := command.PaymentCommand{
		EnrollmentID: enrollmentIDParam(r),
		Amount:       shared.Money(req.Amount),
		Sessions:     req.Sessions,
		Reference:    strings.TrimSpace(req.Reference),
	}
	var (
		res *command.PaymentResult
		err error
	)
	if topUp {
		res, err = s.deps.Payments.TopUp(r.Context(), cmd)
	} else {
		res, err = s.deps.Payments.Confirm(r.Context(), cmd)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	body := newEnrollmentResponse(res.Enrollment)
	fee := int64(res.Fee)
	body.Fee = &fee
	handlers.WriteJSON(w, r, http.StatusOK, body)
}

// handleAcceptEnrollment handles POST /api/v1/enrollments/{enrollmentID}/accept.
func (s *Server) handleAcceptEnrollment(w http.ResponseWriter, r *http.Request) {
	s.handleEnrollmentAction(w, r, func(h *command.EnrollmentLifecycleHandler, cmd command.EnrollmentActionCommand) (*enrollment.Enrollment, error) {
		return h.Accept(r.Context(), cmd)
	})
}

// handleCancelEnrollment handles POST /api/v1/enrollments/{enrollmentID}/cancel.
func (s *Server) handleCancelEnrollment(w http.ResponseWriter, r *http.Request) {
	s.handleEnrollmentAction(w, r, func(h *command.EnrollmentLifecycleHandler, cmd command.EnrollmentActionCommand) (*enrollment.Enrollment, error) {
		return h.Cancel(r.Context(), cmd)
	})
}

func (s *Server) handleEnrollmentAction(
	w http.ResponseWriter,
	r *http.Request,
	action func(*command.EnrollmentLifecycleHandler, command.EnrollmentActionCommand) (*enrollment.Enrollment, error),
) {
	if s.deps.Enrollments == nil {
		notConfigured(w, r)
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	e, err := action(s.deps.Enrollments, command.EnrollmentActionCommand{
		EnrollmentID: enrollmentIDParam(r),
		Actor:        actor,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	handlers.WriteJSON(w, r, http.StatusOK, newEnrollmentResponse(e))
}

// ══════════════════════════════════════════════════════════════════════════════
// JOB HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

type jobRunResponse struct {
	Job        string    `json:"job"`
	Date       string    `json:"date,omitempty"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	DurationMS int64     `json:"duration_ms"`
}

// handleRunJob handles POST /api/v1/jobs/{name}/run?date=YYYY-MM-DD. A job
// that ran and failed still answers 200 with success=false.
func (s *Server) handleRunJob(w http.ResponseWriter, r *http.Request) {
	if s.deps.Jobs == nil {
		notConfigured(w, r)
		return
	}
	if actor, ok := handlers.ActorFromContext(r.Context()); ok && actor.Kind != shared.ActorAdmin {
		s.writeError(w, r, shared.NewDomainError("job", "Run", shared.ErrForbidden, "only admins may run jobs"))
		return
	}
	name := chi.URLParam(r, "name")
	date, err := optionalDate(r.URL.Query().Get("date"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var res *scheduler.JobResult
	if date.IsZero() {
		res, err = s.deps.Jobs.RunNow(r.Context(), name)
	} else {
		res, err = s.deps.Jobs.RunForDate(r.Context(), name, date)
	}
	if res == nil {
		s.writeError(w, r, err)
		return
	}
	body := jobRunResponse{
		Job:        res.JobName,
		Success:    res.Success,
		StartedAt:  res.StartedAt,
		DurationMS: res.Duration.Milliseconds(),
	}
	if !res.Date.IsZero() {
		body.Date = res.Date.String()
	}
	if err != nil {
		body.Error = err.Error()
	}
	handlers.WriteJSON(w, r, http.StatusOK, body)
}

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// decode reads a JSON body into dst and validates it. It writes the error
// response itself and reports whether the handler may continue.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			handlers.WriteError(w, r, http.StatusRequestEntityTooLarge, "payload_too_large", "request body too large")
			return false
		}
		handlers.WriteErrorWithDetails(w, r, http.StatusBadRequest, "invalid_json", "request body is not valid JSON", err.Error())
		return false
	}
	if err := validate.Struct(dst); err != nil {
		handlers.WriteErrorWithDetails(w, r, http.StatusBadRequest, "validation_error", "request failed validation", err.Error())
		return false
	}
	return true
}

func requireActor(w http.ResponseWriter, r *http.Request) (shared.Actor, bool) {
	actor, ok := handlers.ActorFromContext(r.Context())
	if !ok {
		handlers.WriteError(w, r, http.StatusUnauthorized, "missing_actor",
			"requests changing schedules need "+handlers.HeaderActorKind+" and "+handlers.HeaderActorID)
		return shared.Actor{}, false
	}
	return actor, true
}

func notConfigured(w http.ResponseWriter, r *http.Request) {
	handlers.WriteError(w, r, http.StatusNotImplemented, "not_implemented", "endpoint is not configured")
}

func scheduleIDParam(r *http.Request) shared.ScheduleID {
	return shared.ScheduleID(chi.URLParam(r, "scheduleID"))
}

func enrollmentIDParam(r *http.Request) shared.EnrollmentID {
	return shared.EnrollmentID(chi.URLParam(r, "enrollmentID"))
}

func optionalDate(s string) (shared.Date, error) {
	if s == "" {
		return shared.Date{}, nil
	}
	return shared.ParseDate(s)
}
