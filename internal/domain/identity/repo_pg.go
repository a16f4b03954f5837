package identity

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fisioclinic/clinic/internal/platform/db"
)

// likeEscape escapes LIKE wildcards so user text matches literally.
func likeEscape(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case db.IsNoRows(err):
		return ErrNotFound
	case db.IsUniqueViolation(err, "practitioner_email_key"):
		return ErrDuplicateEmail
	}
	return err
}

// =========== Practitioner Repository ===========

type practitionerRepoPG struct{ pool *pgxpool.Pool }

func NewPractitionerRepoPG(pool *pgxpool.Pool) PractitionerRepository {
	return &practitionerRepoPG{pool: pool}
}

const practCols = `id, first_name, last_name, email, phone, specialties, active, created_at, updated_at`

func scanPractitioner(row pgx.Row) (*Practitioner, error) {
	var p Practitioner
	var specs []string
	if err := row.Scan(&p.ID, &p.FirstName, &p.LastName, &p.Email, &p.Phone, &specs,
		&p.Active, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, mapErr(err)
	}
	p.Specialties = cleanList(specs)
	return &p, nil
}

func (r *practitionerRepoPG) Create(ctx context.Context, p *Practitioner) error {
	p.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO practitioner (id, first_name, last_name, email, phone, specialties, active)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at, updated_at`,
		p.ID, p.FirstName, p.LastName, p.Email, p.Phone, []string(p.Specialties), p.Active,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	return mapErr(err)
}

func (r *practitionerRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Practitioner, error) {
	return scanPractitioner(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+practCols+` FROM practitioner WHERE id = $1`, id))
}

func (r *practitionerRepoPG) GetByEmail(ctx context.Context, email string) (*Practitioner, error) {
	return scanPractitioner(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+practCols+` FROM practitioner WHERE email = lower($1)`, email))
}

func (r *practitionerRepoPG) Update(ctx context.Context, p *Practitioner) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE practitioner SET first_name=$2, last_name=$3, email=$4, phone=$5,
			specialties=$6, active=$7, updated_at=NOW()
		WHERE id = $1
		RETURNING created_at, updated_at`,
		p.ID, p.FirstName, p.LastName, p.Email, p.Phone, []string(p.Specialties), p.Active,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	return mapErr(err)
}

func (r *practitionerRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM practitioner WHERE id = $1`, id)
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return fmt.Errorf("%w: practitioner still has appointments or follow-ups", ErrValidation)
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *practitionerRepoPG) Search(ctx context.Context, q ListQuery) ([]*Practitioner, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	if term := q.SearchTerm(); term != "" {
		args = append(args, "%"+likeEscape(term)+"%")
		where += ` AND (first_name ILIKE $1 OR last_name ILIKE $1 OR email ILIKE $1 OR phone ILIKE $1
			OR EXISTS (SELECT 1 FROM unnest(specialties) s WHERE s ILIKE $1))`
	}

	var total int
	if err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM practitioner`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	order := ` ORDER BY first_name, last_name, id`
	if q.Sort == "date" {
		order = ` ORDER BY created_at DESC, id`
	}
	query := `SELECT ` + practCols + ` FROM practitioner` + where + order +
		fmt.Sprintf(` LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, q.Limit, q.Offset)

	rows, err := db.Conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Practitioner
	for rows.Next() {
		p, err := scanPractitioner(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}

// =========== Patient Repository ===========

type patientRepoPG struct{ pool *pgxpool.Pool }

func NewPatientRepoPG(pool *pgxpool.Pool) PatientRepository {
	return &patientRepoPG{pool: pool}
}

const patientCols = `id, first_name, last_name, email, phone, birth_date, medical_history, created_at, updated_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	if err := row.Scan(&p.ID, &p.FirstName, &p.LastName, &p.Email, &p.Phone, &p.BirthDate,
		&p.MedicalHistory, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, mapErr(err)
	}
	return &p, nil
}

func (r *patientRepoPG) Create(ctx context.Context, p *Patient) error {
	p.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO patient (id, first_name, last_name, email, phone, birth_date, medical_history)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at, updated_at`,
		p.ID, p.FirstName, p.LastName, p.Email, p.Phone, p.BirthDate, p.MedicalHistory,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	return mapErr(err)
}

func (r *patientRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return scanPatient(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+patientCols+` FROM patient WHERE id = $1`, id))
}

func (r *patientRepoPG) Update(ctx context.Context, p *Patient) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE patient SET first_name=$2, last_name=$3, email=$4, phone=$5, birth_date=$6,
			medical_history=$7, updated_at=NOW()
		WHERE id = $1
		RETURNING created_at, updated_at`,
		p.ID, p.FirstName, p.LastName, p.Email, p.Phone, p.BirthDate, p.MedicalHistory,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	return mapErr(err)
}

func (r *patientRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM patient WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *patientRepoPG) Search(ctx context.Context, q ListQuery) ([]*Patient, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	if term := q.SearchTerm(); term != "" {
		args = append(args, "%"+likeEscape(term)+"%")
		where += ` AND (first_name ILIKE $1 OR last_name ILIKE $1 OR email ILIKE $1 OR phone ILIKE $1)`
	}

	var total int
	if err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM patient`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	order := ` ORDER BY first_name, last_name, id`
	if q.Sort == "date" {
		order = ` ORDER BY created_at DESC, id`
	}
	query := `SELECT ` + patientCols + ` FROM patient` + where + order +
		fmt.Sprintf(` LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, q.Limit, q.Offset)

	rows, err := db.Conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}

func (r *patientRepoPG) FindByEmail(ctx context.Context, email string) (*Patient, error) {
	return scanPatient(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+patientCols+` FROM patient WHERE lower(email) = lower($1)
		 ORDER BY created_at LIMIT 1`, email))
}

func (r *patientRepoPG) FindByName(ctx context.Context, firstPrefix, lastContains string) (*Patient, error) {
	return scanPatient(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+patientCols+` FROM patient
		 WHERE first_name ILIKE $1 AND ($2 = '' OR last_name ILIKE '%' || $2 || '%')
		 ORDER BY created_at LIMIT 1`,
		likeEscape(firstPrefix)+"%", likeEscape(lastContains)))
}

func (r *patientRepoPG) FindByExact(ctx context.Context, text string) (*Patient, error) {
	return scanPatient(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+patientCols+` FROM patient
		 WHERE lower(first_name) = lower($1) OR lower(last_name) = lower($1) OR lower(email) = lower($1)
		 ORDER BY created_at LIMIT 1`, text))
}

// =========== Attachment Repository ===========

type attachmentRepoPG struct{ pool *pgxpool.Pool }

func NewAttachmentRepoPG(pool *pgxpool.Pool) AttachmentRepository {
	return &attachmentRepoPG{pool: pool}
}

const attachmentCols = `id, patient_id, original_name, file_name, mime_type, size, storage, path, sha256, uploaded_by, created_at`

func scanAttachment(row pgx.Row) (*Attachment, error) {
	var a Attachment
	if err := row.Scan(&a.ID, &a.PatientID, &a.OriginalName, &a.FileName, &a.MimeType, &a.Size,
		&a.Storage, &a.Path, &a.SHA256, &a.UploadedBy, &a.CreatedAt); err != nil {
		return nil, mapErr(err)
	}
	return &a, nil
}

func (r *attachmentRepoPG) Create(ctx context.Context, a *Attachment) error {
	a.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO attachment (id, patient_id, original_name, file_name, mime_type, size, storage, path, sha256, uploaded_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING created_at`,
		a.ID, a.PatientID, a.OriginalName, a.FileName, a.MimeType, a.Size, a.Storage, a.Path, a.SHA256, a.UploadedBy,
	).Scan(&a.CreatedAt)
	if db.IsForeignKeyViolation(err) {
		return ErrNotFound
	}
	return mapErr(err)
}

func (r *attachmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Attachment, error) {
	return scanAttachment(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+attachmentCols+` FROM attachment WHERE id = $1`, id))
}

func (r *attachmentRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM attachment WHERE id = $1`, id)
	return err
}

func (r *attachmentRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Attachment, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx,
		`SELECT `+attachmentCols+` FROM attachment WHERE patient_id = $1 ORDER BY created_at DESC`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Attachment
	for rows.Next() {
		a, err := scanAttachment(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}
