package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fisioclinic/clinic/internal/platform/db"
)

func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case db.IsNoRows(err):
		return ErrNotFound
	case db.IsExclusionViolation(err, "appointment_no_overlap"):
		return ErrAppointmentOverlap
	case db.IsExclusionViolation(err, "vacation_no_overlap"):
		return ErrVacationOverlap
	case db.IsForeignKeyViolation(err):
		return fmt.Errorf("%w: unknown practitioner or patient", ErrValidation)
	}
	return err
}

const practitionerNameSQL = `TRIM(pr.first_name || ' ' || pr.last_name)`

// =========== Appointment Repository ===========

type appointmentRepoPG struct{ pool *pgxpool.Pool }

func NewAppointmentRepoPG(pool *pgxpool.Pool) AppointmentRepository {
	return &appointmentRepoPG{pool: pool}
}

const apptSelect = `
	SELECT a.id, a.practitioner_id, a.patient_id, a.patient_name, a.title, a.start_time, a.end_time,
		a.notes, a.created_by, a.created_at, a.updated_at,
		` + practitionerNameSQL + `,
		COALESCE(TRIM(pa.first_name || ' ' || pa.last_name), '')
	FROM appointment a
	JOIN practitioner pr ON pr.id = a.practitioner_id
	LEFT JOIN patient pa ON pa.id = a.patient_id`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	if err := row.Scan(&a.ID, &a.PractitionerID, &a.PatientID, &a.PatientName, &a.Title,
		&a.Start, &a.End, &a.Notes, &a.CreatedBy, &a.CreatedAt, &a.UpdatedAt,
		&a.PractitionerName, &a.PatientFullName); err != nil {
		return nil, mapErr(err)
	}
	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]*Appointment, error) {
	defer rows.Close()
	var items []*Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	a.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO appointment (id, practitioner_id, patient_id, patient_name, title,
			start_time, end_time, notes, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING created_at, updated_at`,
		a.ID, a.PractitionerID, a.PatientID, a.PatientName, a.Title,
		a.Start, a.End, a.Notes, a.CreatedBy,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	return mapErr(err)
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return scanAppointment(db.Conn(ctx, r.pool).QueryRow(ctx, apptSelect+` WHERE a.id = $1`, id))
}

func (r *appointmentRepoPG) Update(ctx context.Context, a *Appointment) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE appointment SET practitioner_id=$2, patient_id=$3, patient_name=$4, title=$5,
			start_time=$6, end_time=$7, notes=$8, updated_at=NOW()
		WHERE id = $1
		RETURNING created_at, updated_at`,
		a.ID, a.PractitionerID, a.PatientID, a.PatientName, a.Title, a.Start, a.End, a.Notes,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	return mapErr(err)
}

func (r *appointmentRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM appointment WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *appointmentRepoPG) List(ctx context.Context, f AppointmentFilter) ([]*Appointment, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, apptSelect+`
		WHERE ($1::uuid IS NULL OR a.practitioner_id = $1)
		  AND ($2::timestamptz IS NULL OR a.start_time >= $2)
		  AND ($3::timestamptz IS NULL OR a.start_time <= $3)
		ORDER BY a.start_time, a.id`,
		f.PractitionerID, f.From, f.To)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *appointmentRepoPG) ListInRange(ctx context.Context, practitionerID *uuid.UUID, tr TimeRange) ([]*Appointment, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, apptSelect+`
		WHERE ($1::uuid IS NULL OR a.practitioner_id = $1)
		  AND a.start_time < $3 AND a.end_time > $2
		ORDER BY a.start_time, a.id`,
		practitionerID, tr.Start, tr.End)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *appointmentRepoPG) FindOverlapping(ctx context.Context, practitionerID uuid.UUID, tr TimeRange, exclude *uuid.UUID) (*Appointment, error) {
	a, err := scanAppointment(db.Conn(ctx, r.pool).QueryRow(ctx, apptSelect+`
		WHERE a.practitioner_id = $1
		  AND a.start_time < $3 AND a.end_time > $2
		  AND ($4::uuid IS NULL OR a.id <> $4)
		ORDER BY a.start_time
		LIMIT 1`,
		practitionerID, tr.Start, tr.End, exclude))
	if err == ErrNotFound {
		return nil, nil
	}
	return a, err
}

// =========== Vacation Repository ===========

type vacationRepoPG struct{ pool *pgxpool.Pool }

func NewVacationRepoPG(pool *pgxpool.Pool) VacationRepository {
	return &vacationRepoPG{pool: pool}
}

const vacSelect = `
	SELECT v.id, v.practitioner_id, v.start_date, v.end_date, v.title, v.notes, v.color, v.created_by,
		v.created_at, v.updated_at, ` + practitionerNameSQL + `
	FROM vacation v
	JOIN practitioner pr ON pr.id = v.practitioner_id`

func scanVacation(row pgx.Row) (*Vacation, error) {
	var v Vacation
	if err := row.Scan(&v.ID, &v.PractitionerID, &v.StartDate.Time, &v.EndDate.Time, &v.Title, &v.Notes, &v.Color,
		&v.CreatedBy, &v.CreatedAt, &v.UpdatedAt, &v.PractitionerName); err != nil {
		return nil, mapErr(err)
	}
	return &v, nil
}

func collectVacations(rows pgx.Rows) ([]*Vacation, error) {
	defer rows.Close()
	var items []*Vacation
	for rows.Next() {
		v, err := scanVacation(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, v)
	}
	return items, rows.Err()
}

func (r *vacationRepoPG) Create(ctx context.Context, v *Vacation) error {
	v.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO vacation (id, practitioner_id, start_date, end_date, title, notes, color, created_by)
		VALUES ($1,$2,$3,$4,COALESCE(NULLIF($5, ''), 'Vacaciones'),$6,$7,$8)
		RETURNING title, created_at, updated_at`,
		v.ID, v.PractitionerID, v.StartDate.Time, v.EndDate.Time, v.Title, v.Notes, v.Color, v.CreatedBy,
	).Scan(&v.Title, &v.CreatedAt, &v.UpdatedAt)
	return mapErr(err)
}

func (r *vacationRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Vacation, error) {
	return scanVacation(db.Conn(ctx, r.pool).QueryRow(ctx, vacSelect+` WHERE v.id = $1`, id))
}

func (r *vacationRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM vacation WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *vacationRepoPG) List(ctx context.Context, practitionerID *uuid.UUID) ([]*Vacation, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, vacSelect+`
		WHERE ($1::uuid IS NULL OR v.practitioner_id = $1)
		ORDER BY v.start_date DESC, v.id`, practitionerID)
	if err != nil {
		return nil, err
	}
	return collectVacations(rows)
}

func (r *vacationRepoPG) ListInRange(ctx context.Context, practitionerID *uuid.UUID, dr DateRange) ([]*Vacation, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, vacSelect+`
		WHERE ($1::uuid IS NULL OR v.practitioner_id = $1)
		  AND v.start_date <= $3 AND v.end_date >= $2
		ORDER BY v.start_date, v.id`,
		practitionerID, dr.Start.Time, dr.End.Time)
	if err != nil {
		return nil, err
	}
	return collectVacations(rows)
}

func (r *vacationRepoPG) FindOverlapping(ctx context.Context, practitionerID uuid.UUID, dr DateRange) (*Vacation, error) {
	v, err := scanVacation(db.Conn(ctx, r.pool).QueryRow(ctx, vacSelect+`
		WHERE v.practitioner_id = $1 AND v.start_date <= $3 AND v.end_date >= $2
		ORDER BY v.start_date
		LIMIT 1`,
		practitionerID, dr.Start.Time, dr.End.Time))
	if err == ErrNotFound {
		return nil, nil
	}
	return v, err
}

// =========== Vacation Request Repository ===========

type vacationRequestRepoPG struct{ pool *pgxpool.Pool }

func NewVacationRequestRepoPG(pool *pgxpool.Pool) VacationRequestRepository {
	return &vacationRequestRepoPG{pool: pool}
}

const reqSelect = `
	SELECT r.id, r.practitioner_id, r.start_date, r.end_date, r.message, r.status,
		r.resolved_by, r.resolved_at, r.vacation_id, r.created_by, r.created_at, r.updated_at,
		` + practitionerNameSQL + `, pr.email
	FROM vacation_request r
	JOIN practitioner pr ON pr.id = r.practitioner_id`

func scanRequest(row pgx.Row) (*VacationRequest, error) {
	var vr VacationRequest
	var status string
	if err := row.Scan(&vr.ID, &vr.PractitionerID, &vr.StartDate.Time, &vr.EndDate.Time, &vr.Message, &status,
		&vr.ResolvedBy, &vr.ResolvedAt, &vr.VacationID, &vr.CreatedBy, &vr.CreatedAt, &vr.UpdatedAt,
		&vr.PractitionerName, &vr.PractitionerEmail); err != nil {
		return nil, mapErr(err)
	}
	vr.Status = RequestStatus(status)
	return &vr, nil
}

func collectRequests(rows pgx.Rows) ([]*VacationRequest, error) {
	defer rows.Close()
	var items []*VacationRequest
	for rows.Next() {
		vr, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, vr)
	}
	return items, rows.Err()
}

func (r *vacationRequestRepoPG) Create(ctx context.Context, vr *VacationRequest) error {
	vr.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO vacation_request (id, practitioner_id, start_date, end_date, message, status, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at, updated_at`,
		vr.ID, vr.PractitionerID, vr.StartDate.Time, vr.EndDate.Time, vr.Message, string(vr.Status), vr.CreatedBy,
	).Scan(&vr.CreatedAt, &vr.UpdatedAt)
	return mapErr(err)
}

func (r *vacationRequestRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*VacationRequest, error) {
	return scanRequest(db.Conn(ctx, r.pool).QueryRow(ctx, reqSelect+` WHERE r.id = $1`, id))
}

func (r *vacationRequestRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*VacationRequest, error) {
	return scanRequest(db.Conn(ctx, r.pool).QueryRow(ctx, reqSelect+` WHERE r.id = $1 FOR UPDATE OF r`, id))
}

func (r *vacationRequestRepoPG) Update(ctx context.Context, vr *VacationRequest) error {
	var updated time.Time
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE vacation_request SET status=$2, resolved_by=$3, resolved_at=$4, vacation_id=$5, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		vr.ID, string(vr.Status), vr.ResolvedBy, vr.ResolvedAt, vr.VacationID,
	).Scan(&updated)
	if err != nil {
		return mapErr(err)
	}
	vr.UpdatedAt = updated
	return nil
}

func (r *vacationRequestRepoPG) ListByPractitioner(ctx context.Context, practitionerID uuid.UUID) ([]*VacationRequest, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, reqSelect+`
		WHERE r.practitioner_id = $1
		ORDER BY r.created_at DESC, r.id`, practitionerID)
	if err != nil {
		return nil, err
	}
	return collectRequests(rows)
}

func (r *vacationRequestRepoPG) ListByStatus(ctx context.Context, status RequestStatus) ([]*VacationRequest, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, reqSelect+`
		WHERE r.status = $1
		ORDER BY r.created_at, r.id`, string(status))
	if err != nil {
		return nil, err
	}
	return collectRequests(rows)
}
