package scheduling

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fisioclinic/clinic/internal/domain/identity"
	"github.com/fisioclinic/clinic/internal/platform/blobstore"
	"github.com/fisioclinic/clinic/internal/platform/db"
	"github.com/fisioclinic/clinic/internal/platform/events"
)

// pgSetup connects to DATABASE_URL, applies the migrations and returns a
// service wired to PostgreSQL. Tests skip when no database is configured.
func pgSetup(t *testing.T) (*Service, *identity.Practitioner, *pgxpool.Pool) {
	t.Helper()
	_ = godotenv.Load("../../../.env")
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, dbURL, 8, 1)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = db.NewMigrator(pool, "../../../migrations").Up(ctx)
	require.NoError(t, err)

	people := identity.NewService(identity.NewPractitionerRepoPG(pool), identity.NewPatientRepoPG(pool),
		identity.NewAttachmentRepoPG(pool), blobstore.NewMemoryStore(), zerolog.Nop())
	p := &identity.Practitioner{
		FirstName: "Test",
		LastName:  "Physio",
		Email:     fmt.Sprintf("physio-%s@test.clinic", uuid.NewString()[:8]),
		Active:    true,
	}
	require.NoError(t, people.CreatePractitioner(ctx, p))
	t.Cleanup(func() {
		_, _ = pool.Exec(ctx, `DELETE FROM appointment WHERE practitioner_id = $1`, p.ID)
		_, _ = pool.Exec(ctx, `DELETE FROM vacation_request WHERE practitioner_id = $1`, p.ID)
		_, _ = pool.Exec(ctx, `DELETE FROM vacation WHERE practitioner_id = $1`, p.ID)
		_, _ = pool.Exec(ctx, `DELETE FROM practitioner WHERE id = $1`, p.ID)
	})

	svc := NewService(NewAppointmentRepoPG(pool), NewVacationRepoPG(pool), NewVacationRequestRepoPG(pool),
		people, db.NewTransactor(pool), &events.Recorder{}, clinicZone, zerolog.Nop())
	return svc, p, pool
}

func TestPG_ExclusionConstraintsBackstop(t *testing.T) {
	svc, p, pool := pgSetup(t)
	ctx := context.Background()

	_, err := svc.CreateAppointment(ctx, adminActor, booking(p.ID, "Ana", at(2, 9, 0), 30))
	require.NoError(t, err)

	repo := NewAppointmentRepoPG(pool)
	err = repo.Create(ctx, &Appointment{PractitionerID: p.ID, PatientName: "Luis", Start: at(2, 9, 15), End: at(2, 9, 45)})
	assert.ErrorIs(t, err, ErrAppointmentOverlap, "direct inserts hit appointment_no_overlap")
	err = repo.Create(ctx, &Appointment{PractitionerID: p.ID, PatientName: "Luis", Start: at(2, 9, 30), End: at(2, 10, 0)})
	assert.NoError(t, err, "touching ranges satisfy the constraint")

	vacs := NewVacationRepoPG(pool)
	first := &Vacation{PractitionerID: p.ID, StartDate: NewDate(2025, 9, 1), EndDate: NewDate(2025, 9, 10)}
	require.NoError(t, vacs.Create(ctx, first))
	assert.Equal(t, DefaultVacationTitle, first.Title, "empty titles fall back to the column default")
	err = vacs.Create(ctx, &Vacation{PractitionerID: p.ID, StartDate: NewDate(2025, 9, 10), EndDate: NewDate(2025, 9, 12)})
	assert.ErrorIs(t, err, ErrVacationOverlap, "direct inserts hit vacation_no_overlap")
}

func TestPG_ConcurrentBookingsSerialized(t *testing.T) {
	svc, p, _ := pgSetup(t)
	ctx := context.Background()

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.CreateAppointment(ctx, adminActor, booking(p.ID, "Ana", at(3, 9, i), 30))
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
		} else {
			assert.ErrorIs(t, err, ErrAppointmentOverlap)
		}
	}
	assert.Equal(t, 1, ok)
}

func TestPG_ResolveApproveConflictRollsBack(t *testing.T) {
	svc, p, _ := pgSetup(t)
	ctx := context.Background()
	physio := actorFor(p)

	vr, err := svc.SubmitVacationRequest(ctx, physio, VacationRequestInput{StartDate: NewDate(2025, 10, 6), EndDate: NewDate(2025, 10, 10)})
	require.NoError(t, err)
	_, err = svc.CreateVacation(ctx, adminActor, VacationInput{PractitionerID: &p.ID, StartDate: NewDate(2025, 10, 10), EndDate: NewDate(2025, 10, 12)})
	require.NoError(t, err)

	_, err = svc.ResolveVacationRequest(ctx, adminActor, vr.ID, ActionApprove)
	require.ErrorIs(t, err, ErrVacationOverlap)

	mine, err := svc.MyVacationRequests(ctx, physio)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, StatusPending, mine[0].Status)

	res, err := svc.ResolveVacationRequest(ctx, adminActor, vr.ID, ActionReject)
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, res.Request.Status)
}
