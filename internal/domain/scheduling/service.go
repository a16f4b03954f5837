package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fisioclinic/clinic/internal/domain/identity"
	"github.com/fisioclinic/clinic/internal/platform/auth"
	"github.com/fisioclinic/clinic/internal/platform/events"
)

// ErrNoPractitionerProfile is returned when a fisioterapeuta login has no
// practitioner record with the same email.
var ErrNoPractitionerProfile = errors.New("no practitioner profile linked to this account")

// Directory resolves the practitioners and patients appointments refer to.
type Directory interface {
	GetPractitioner(ctx context.Context, id uuid.UUID) (*identity.Practitioner, error)
	GetPractitionerByEmail(ctx context.Context, email string) (*identity.Practitioner, error)
	GetPatient(ctx context.Context, id uuid.UUID) (*identity.Patient, error)
	CreatePatient(ctx context.Context, p *identity.Patient) error
}

// Locker runs fn in a transaction that holds an exclusive lock on key.
type Locker interface {
	WithinLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

type Service struct {
	appointments AppointmentRepository
	vacations    VacationRepository
	requests     VacationRequestRepository
	directory    Directory
	locker       Locker
	publisher    events.Publisher
	loc          *time.Location
	logger       zerolog.Logger
	tracer       trace.Tracer
	now          func() time.Time
}

func NewService(appts AppointmentRepository, vacs VacationRepository, reqs VacationRequestRepository,
	dir Directory, locker Locker, pub events.Publisher, loc *time.Location, logger zerolog.Logger) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		appointments: appts,
		vacations:    vacs,
		requests:     reqs,
		directory:    dir,
		locker:       locker,
		publisher:    pub,
		loc:          loc,
		logger:       logger.With().Str("component", "scheduling").Logger(),
		tracer:       otel.Tracer("github.com/fisioclinic/clinic/internal/domain/scheduling"),
		now:          time.Now,
	}
}

func lockKey(practitionerID uuid.UUID) string {
	return "practitioner:" + practitionerID.String()
}

func (s *Service) startSpan(ctx context.Context, name string, practitionerID uuid.UUID) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(attribute.String("practitioner.id", practitionerID.String())))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// publish sends an event after the write has committed. Delivery failures
// are logged and never fail the request.
func (s *Service) publish(ctx context.Context, typ string, practitionerID, resourceID uuid.UUID, payload interface{}) {
	if s.publisher == nil {
		return
	}
	e, err := events.New(typ, practitionerID.String(), resourceID.String(), payload)
	if err == nil {
		err = s.publisher.Publish(ctx, e)
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("event_type", typ).Str("resource_id", resourceID.String()).Msg("publish event failed")
	}
}

func (s *Service) practitioner(ctx context.Context, id uuid.UUID) (*identity.Practitioner, error) {
	p, err := s.directory.GetPractitioner(ctx, id)
	if errors.Is(err, identity.ErrNotFound) {
		return nil, fmt.Errorf("%w: unknown physio", ErrValidation)
	}
	return p, err
}

// OwnPractitioner returns the practitioner record behind a fisioterapeuta login.
func (s *Service) OwnPractitioner(ctx context.Context, actor *auth.Identity) (*identity.Practitioner, error) {
	p, err := s.directory.GetPractitionerByEmail(ctx, actor.Email)
	if errors.Is(err, identity.ErrNotFound) {
		return nil, ErrNoPractitionerProfile
	}
	return p, err
}

// checkVacation rejects r when it intersects any vacation of the practitioner.
// A vacation blocks whole days in the clinic time zone.
func (s *Service) checkVacation(ctx context.Context, practitionerID uuid.UUID, r TimeRange) error {
	vacs, err := s.vacations.ListInRange(ctx, &practitionerID, DaysCovered(r, s.loc))
	if err != nil {
		return err
	}
	for _, v := range vacs {
		if v.Range().Span(s.loc).Overlaps(r) {
			return fmt.Errorf("%w (%s to %s)", ErrOnVacation, v.StartDate, v.EndDate)
		}
	}
	return nil
}

func (s *Service) checkAppointmentOverlap(ctx context.Context, a *Appointment, exclude *uuid.UUID) error {
	other, err := s.appointments.FindOverlapping(ctx, a.PractitionerID, a.Range(), exclude)
	if err != nil {
		return err
	}
	if other != nil {
		return ErrAppointmentOverlap
	}
	return nil
}

func (s *Service) linkNewPatient(ctx context.Context, a *Appointment) error {
	p := identity.PatientFromName(a.PatientName)
	if err := s.directory.CreatePatient(ctx, p); err != nil {
		return fmt.Errorf("create patient: %w", err)
	}
	a.PatientID = &p.ID
	return nil
}

func trimmed(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}

// -- Appointments --

func (s *Service) CreateAppointment(ctx context.Context, actor *auth.Identity, in AppointmentInput) (_ *Appointment, err error) {
	if in.PractitionerID == nil {
		return nil, fmt.Errorf("%w: physio is required", ErrValidation)
	}
	if in.Start == nil {
		return nil, fmt.Errorf("%w: start is required", ErrValidation)
	}
	name := trimmed(in.PatientName)
	if name == "" && in.PatientID == nil {
		return nil, fmt.Errorf("%w: patientName or patient is required", ErrValidation)
	}

	a := &Appointment{
		PractitionerID: *in.PractitionerID,
		PatientID:      in.PatientID,
		PatientName:    name,
		Title:          trimmed(in.Title),
		Notes:          trimmed(in.Notes),
		Start:          in.Start.UTC(),
	}
	if actor != nil {
		a.CreatedBy = &actor.UserID
	}
	switch {
	case in.End != nil:
		a.End = in.End.UTC()
	case in.Duration != nil:
		if *in.Duration <= 0 {
			return nil, fmt.Errorf("%w: duration must be positive", ErrValidation)
		}
		a.End = a.Start.Add(*in.Duration)
	default:
		a.End = a.Start.Add(DefaultDuration)
	}
	if !a.Range().Valid() {
		return nil, fmt.Errorf("%w: end must be after start", ErrValidation)
	}

	if _, err := s.practitioner(ctx, a.PractitionerID); err != nil {
		return nil, err
	}
	if a.PatientID != nil {
		p, err := s.directory.GetPatient(ctx, *a.PatientID)
		if errors.Is(err, identity.ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown patient", ErrValidation)
		}
		if err != nil {
			return nil, err
		}
		if a.PatientName == "" {
			a.PatientName = p.FullName()
		}
	}

	ctx, span := s.startSpan(ctx, "scheduling.CreateAppointment", a.PractitionerID)
	defer func() { endSpan(span, err) }()

	err = s.locker.WithinLock(ctx, lockKey(a.PractitionerID), func(ctx context.Context) error {
		if err := s.checkVacation(ctx, a.PractitionerID, a.Range()); err != nil {
			return err
		}
		if err := s.checkAppointmentOverlap(ctx, a, nil); err != nil {
			return err
		}
		if a.PatientID == nil && in.CreatePatientIfMissing {
			if err := s.linkNewPatient(ctx, a); err != nil {
				return err
			}
		}
		return s.appointments.Create(ctx, a)
	})
	if err != nil {
		return nil, err
	}

	out, err := s.appointments.GetByID(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("appointment_id", out.ID.String()).
		Str("practitioner_id", out.PractitionerID.String()).
		Time("start", out.Start).
		Msg("appointment booked")
	s.publish(ctx, events.AppointmentCreated, out.PractitionerID, out.ID, out)
	return out, nil
}

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.appointments.GetByID(ctx, id)
}

func (s *Service) ListAppointments(ctx context.Context, f AppointmentFilter) ([]*Appointment, error) {
	return s.appointments.List(ctx, f)
}

// UpdateAppointment applies the non-nil fields of in. The vacation check only
// runs when the time range or the practitioner changes; the overlap check
// always runs, ignoring the appointment itself.
func (s *Service) UpdateAppointment(ctx context.Context, id uuid.UUID, in AppointmentInput) (_ *Appointment, err error) {
	cur, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	next := *cur

	if in.PractitionerID != nil && *in.PractitionerID != cur.PractitionerID {
		if _, err := s.practitioner(ctx, *in.PractitionerID); err != nil {
			return nil, err
		}
		next.PractitionerID = *in.PractitionerID
	}
	if in.PatientID != nil {
		if _, err := s.directory.GetPatient(ctx, *in.PatientID); err != nil {
			if errors.Is(err, identity.ErrNotFound) {
				return nil, fmt.Errorf("%w: unknown patient", ErrValidation)
			}
			return nil, err
		}
		next.PatientID = in.PatientID
	}
	if in.PatientName != nil {
		next.PatientName = trimmed(in.PatientName)
	}
	if in.Title != nil {
		next.Title = trimmed(in.Title)
	}
	if in.Notes != nil {
		next.Notes = trimmed(in.Notes)
	}
	if in.Start != nil {
		next.Start = in.Start.UTC()
	}
	switch {
	case in.End != nil:
		next.End = in.End.UTC()
	case in.Duration != nil:
		if *in.Duration <= 0 {
			return nil, fmt.Errorf("%w: duration must be positive", ErrValidation)
		}
		next.End = next.Start.Add(*in.Duration)
	case in.Start != nil:
		next.End = next.Start.Add(cur.Range().Duration())
	}
	if !next.Range().Valid() {
		return nil, fmt.Errorf("%w: end must be after start", ErrValidation)
	}
	if next.PatientID == nil && next.PatientName == "" {
		return nil, fmt.Errorf("%w: patientName or patient is required", ErrValidation)
	}

	moved := !next.Start.Equal(cur.Start) || !next.End.Equal(cur.End) || next.PractitionerID != cur.PractitionerID

	ctx, span := s.startSpan(ctx, "scheduling.UpdateAppointment", next.PractitionerID)
	defer func() { endSpan(span, err) }()

	err = s.locker.WithinLock(ctx, lockKey(next.PractitionerID), func(ctx context.Context) error {
		if moved {
			if err := s.checkVacation(ctx, next.PractitionerID, next.Range()); err != nil {
				return err
			}
		}
		if err := s.checkAppointmentOverlap(ctx, &next, &id); err != nil {
			return err
		}
		if next.PatientID == nil && in.CreatePatientIfMissing && next.PatientName != "" {
			if err := s.linkNewPatient(ctx, &next); err != nil {
				return err
			}
		}
		return s.appointments.Update(ctx, &next)
	})
	if err != nil {
		return nil, err
	}

	out, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("appointment_id", id.String()).Bool("moved", moved).Msg("appointment updated")
	s.publish(ctx, events.AppointmentUpdated, out.PractitionerID, out.ID, out)
	return out, nil
}

func (s *Service) DeleteAppointment(ctx context.Context, id uuid.UUID) error {
	cur, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.appointments.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info().Str("appointment_id", id.String()).Msg("appointment deleted")
	s.publish(ctx, events.AppointmentDeleted, cur.PractitionerID, id, cur)
	return nil
}

// -- Vacations --

// vacationOwner decides whose vacation is being written. A fisioterapeuta
// always writes their own; other roles must name the practitioner.
func (s *Service) vacationOwner(ctx context.Context, actor *auth.Identity, requested *uuid.UUID) (uuid.UUID, error) {
	if actor.Role == auth.RolePractitioner {
		own, err := s.OwnPractitioner(ctx, actor)
		if err != nil {
			return uuid.Nil, err
		}
		if requested != nil && *requested != own.ID {
			return uuid.Nil, fmt.Errorf("%w: practitioners can only manage their own vacations", ErrForbidden)
		}
		return own.ID, nil
	}
	if requested == nil {
		return uuid.Nil, fmt.Errorf("%w: physio is required", ErrValidation)
	}
	if _, err := s.practitioner(ctx, *requested); err != nil {
		return uuid.Nil, err
	}
	return *requested, nil
}

func validDates(start, end Date) error {
	if start.IsZero() || end.IsZero() {
		return fmt.Errorf("%w: startDate and endDate are required", ErrValidation)
	}
	if end.Before(start.Time) {
		return fmt.Errorf("%w: startDate is after endDate", ErrValidation)
	}
	return nil
}

func (s *Service) CreateVacation(ctx context.Context, actor *auth.Identity, in VacationInput) (_ *Vacation, err error) {
	if err := validDates(in.StartDate, in.EndDate); err != nil {
		return nil, err
	}
	pid, err := s.vacationOwner(ctx, actor, in.PractitionerID)
	if err != nil {
		return nil, err
	}
	v := &Vacation{
		PractitionerID: pid,
		StartDate:      in.StartDate,
		EndDate:        in.EndDate,
		Title:          vacationTitle(in.Title),
		Notes:          strings.TrimSpace(in.Notes),
		Color:          strings.TrimSpace(in.Color),
		CreatedBy:      &actor.UserID,
	}

	ctx, span := s.startSpan(ctx, "scheduling.CreateVacation", pid)
	defer func() { endSpan(span, err) }()

	err = s.locker.WithinLock(ctx, lockKey(pid), func(ctx context.Context) error {
		other, err := s.vacations.FindOverlapping(ctx, pid, v.Range())
		if err != nil {
			return err
		}
		if other != nil {
			return ErrVacationOverlap
		}
		return s.vacations.Create(ctx, v)
	})
	if err != nil {
		return nil, err
	}

	out, err := s.vacations.GetByID(ctx, v.ID)
	if err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("vacation_id", out.ID.String()).
		Str("practitioner_id", pid.String()).
		Str("from", out.StartDate.String()).
		Str("to", out.EndDate.String()).
		Msg("vacation created")
	s.publish(ctx, events.VacationCreated, pid, out.ID, out)
	return out, nil
}

// ListVacations returns the caller's own vacations for a fisioterapeuta and
// every vacation, optionally filtered, for other roles.
func (s *Service) ListVacations(ctx context.Context, actor *auth.Identity, practitionerID *uuid.UUID) ([]*Vacation, error) {
	if actor.Role == auth.RolePractitioner {
		own, err := s.OwnPractitioner(ctx, actor)
		if errors.Is(err, ErrNoPractitionerProfile) {
			return []*Vacation{}, nil
		}
		if err != nil {
			return nil, err
		}
		practitionerID = &own.ID
	}
	return s.vacations.List(ctx, practitionerID)
}

func (s *Service) DeleteVacation(ctx context.Context, actor *auth.Identity, id uuid.UUID) error {
	v, err := s.vacations.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if actor.Role != auth.RoleAdmin {
		own, err := s.OwnPractitioner(ctx, actor)
		if errors.Is(err, ErrNoPractitionerProfile) || (err == nil && own.ID != v.PractitionerID) {
			return fmt.Errorf("%w: only an admin or the owner can delete this vacation", ErrForbidden)
		}
		if err != nil {
			return err
		}
	}
	if err := s.vacations.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info().Str("vacation_id", id.String()).Msg("vacation deleted")
	s.publish(ctx, events.VacationDeleted, v.PractitionerID, id, v)
	return nil
}

// -- Vacation requests --

func (s *Service) SubmitVacationRequest(ctx context.Context, actor *auth.Identity, in VacationRequestInput) (*VacationRequest, error) {
	if err := validDates(in.StartDate, in.EndDate); err != nil {
		return nil, err
	}
	own, err := s.OwnPractitioner(ctx, actor)
	if err != nil {
		return nil, err
	}
	vr := &VacationRequest{
		PractitionerID: own.ID,
		StartDate:      in.StartDate,
		EndDate:        in.EndDate,
		Message:        strings.TrimSpace(in.Message),
		Status:         StatusPending,
		CreatedBy:      &actor.UserID,
	}
	if err := s.requests.Create(ctx, vr); err != nil {
		return nil, err
	}
	out, err := s.requests.GetByID(ctx, vr.ID)
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("request_id", out.ID.String()).Str("practitioner_id", own.ID.String()).Msg("vacation requested")
	s.publish(ctx, events.VacationRequestCreated, own.ID, out.ID, out)
	return out, nil
}

// MyVacationRequests lists the caller's requests, newest first.
func (s *Service) MyVacationRequests(ctx context.Context, actor *auth.Identity) ([]*VacationRequest, error) {
	own, err := s.OwnPractitioner(ctx, actor)
	if errors.Is(err, ErrNoPractitionerProfile) {
		return []*VacationRequest{}, nil
	}
	if err != nil {
		return nil, err
	}
	return s.requests.ListByPractitioner(ctx, own.ID)
}

// PendingVacationRequests lists pending requests, oldest first.
func (s *Service) PendingVacationRequests(ctx context.Context) ([]*VacationRequest, error) {
	return s.requests.ListByStatus(ctx, StatusPending)
}

// ResolveVacationRequest approves or rejects a pending request. Approval
// creates the vacation in the same transaction and fails with
// ErrVacationOverlap, leaving the request pending, when the practitioner
// already has a vacation on any of those days.
func (s *Service) ResolveVacationRequest(ctx context.Context, actor *auth.Identity, id uuid.UUID, action ResolveAction) (_ *ResolveResult, err error) {
	if action != ActionApprove && action != ActionReject {
		return nil, fmt.Errorf("%w: action must be approve or reject", ErrValidation)
	}
	vr, err := s.requests.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	ctx, span := s.startSpan(ctx, "scheduling.ResolveVacationRequest", vr.PractitionerID)
	span.SetAttributes(attribute.String("vacation_request.action", string(action)))
	defer func() { endSpan(span, err) }()

	res := &ResolveResult{}
	err = s.locker.WithinLock(ctx, lockKey(vr.PractitionerID), func(ctx context.Context) error {
		cur, err := s.requests.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if cur.Status != StatusPending {
			return ErrAlreadyResolved
		}

		if action == ActionApprove {
			other, err := s.vacations.FindOverlapping(ctx, cur.PractitionerID, cur.Range())
			if err != nil {
				return err
			}
			if other != nil {
				return ErrVacationOverlap
			}
			v := &Vacation{
				PractitionerID: cur.PractitionerID,
				StartDate:      cur.StartDate,
				EndDate:        cur.EndDate,
				Title:          DefaultVacationTitle,
				Notes:          cur.Message,
				CreatedBy:      &actor.UserID,
			}
			if err := s.vacations.Create(ctx, v); err != nil {
				return err
			}
			cur.Status = StatusApproved
			cur.VacationID = &v.ID
			res.Vacation = v
		} else {
			cur.Status = StatusRejected
		}

		now := s.now().UTC()
		cur.ResolvedBy = &actor.UserID
		cur.ResolvedAt = &now
		if err := s.requests.Update(ctx, cur); err != nil {
			return err
		}
		res.Request = cur
		return nil
	})
	if err != nil {
		return nil, err
	}

	if res.Vacation != nil {
		if v, err := s.vacations.GetByID(ctx, res.Vacation.ID); err == nil {
			res.Vacation = v
		}
		s.publish(ctx, events.VacationCreated, vr.PractitionerID, res.Vacation.ID, res.Vacation)
		s.publish(ctx, events.VacationRequestApproved, vr.PractitionerID, id, res.Request)
	} else {
		s.publish(ctx, events.VacationRequestRejected, vr.PractitionerID, id, res.Request)
	}
	s.logger.Info().
		Str("request_id", id.String()).
		Str("status", string(res.Request.Status)).
		Str("resolved_by", actor.UserID.String()).
		Msg("vacation request resolved")
	return res, nil
}
