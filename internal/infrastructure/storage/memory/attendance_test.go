package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	"mealcheck/internal/domain/attendance"
	"mealcheck/internal/domain/checkin"
)

func seeded() *AttendanceRepository {
	repo := NewAttendanceRepository()
	repo.Seed(checkin.RegistrationPayload{
		RegistrationID: "R1",
		EventID:        "E1",
		FullName:       "Ada Lovelace",
		Email:          "ada@example.com",
		CreatedBy:      "import",
	})
	return repo
}

func scan(regID, session string) checkin.MealScanPayload {
	return checkin.MealScanPayload{
		ScanEventID:    "s-" + regID,
		RegistrationID: regID,
		EventID:        "E1",
		MealSessionID:  session,
		ScannedBy:      "desk-1",
		ScannedAt:      time.Now(),
	}
}

func TestAttendanceRepository_SaveMealScan(t *testing.T) {
	ctx := context.Background()
	repo := seeded()

	require.NoError(t, repo.SaveMealScan(ctx, "a1", scan("R1", "M1")))
	assert.ErrorIs(t, repo.SaveMealScan(ctx, "a1", scan("R1", "M1")), attendance.ErrDuplicateAction)
	assert.ErrorIs(t, repo.SaveMealScan(ctx, "a2", scan("R1", "M1")), attendance.ErrAlreadyCheckedIn)
	require.NoError(t, repo.SaveMealScan(ctx, "a3", scan("R1", "M2")))

	n, err := repo.CountAttendance(ctx, "R1", "M1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	o, err := repo.FindOutcome(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, checkin.SubmitApplied, o.Status)

	_, err = repo.FindOutcome(ctx, "a2")
	assert.ErrorIs(t, err, attendance.ErrNotFound)

	assert.ErrorIs(t, repo.SaveMealScan(ctx, "a4", scan("R404", "M1")), attendance.ErrUnknownRegistration)
}

func TestAttendanceRepository_SaveRegistration(t *testing.T) {
	ctx := context.Background()
	repo := seeded()

	reg := checkin.RegistrationPayload{RegistrationID: "R2", EventID: "E1", Email: "bob@example.com"}
	require.NoError(t, repo.SaveRegistration(ctx, "r1", reg))

	exists, err := repo.RegistrationExists(ctx, "R2")
	require.NoError(t, err)
	assert.True(t, exists)

	same := reg
	same.RegistrationID = "R3"
	assert.ErrorIs(t, repo.SaveRegistration(ctx, "r2", same), attendance.ErrDuplicateRegistration)
}

func TestService_Idempotence(t *testing.T) {
	ctx := context.Background()
	svc := attendance.NewService(seeded(), slog.Default())
	req := checkin.MealScanRequest{ClientActionID: "a1", Payload: scan("R1", "M1")}

	first, err := svc.SubmitMealScan(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, checkin.SubmitApplied, first.Status)

	for i := 0; i < 3; i++ {
		again, err := svc.SubmitMealScan(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, checkin.SubmitAlreadyApplied, again.Status)
	}

	other, err := svc.SubmitMealScan(ctx, checkin.MealScanRequest{ClientActionID: "a2", Payload: scan("R1", "M1")})
	require.NoError(t, err)
	assert.Equal(t, checkin.SubmitRejected, other.Status)
	assert.Equal(t, checkin.ReasonAlreadyCheckedIn, other.Reason)

	// повтор отклоненного действия возвращает ту же причину
	replay, err := svc.SubmitMealScan(ctx, checkin.MealScanRequest{ClientActionID: "a2", Payload: scan("R1", "M1")})
	require.NoError(t, err)
	assert.Equal(t, other, replay)
}

func TestService_ConcurrentDevicesFirstScanWins(t *testing.T) {
	ctx := context.Background()
	repo := seeded()
	svc := attendance.NewService(repo, slog.Default())

	const devices = 8
	results := make([]checkin.SubmitResponse, devices)
	var wg sync.WaitGroup
	for i := 0; i < devices; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := "dev-" + string(rune('a'+i))
			resp, err := svc.SubmitMealScan(ctx, checkin.MealScanRequest{ClientActionID: id, Payload: scan("R1", "M1")})
			assert.NoError(t, err)
			results[i] = resp
		}(i)
	}
	wg.Wait()

	applied := 0
	for _, r := range results {
		if r.Status == checkin.SubmitApplied {
			applied++
		} else {
			assert.Equal(t, checkin.ReasonAlreadyCheckedIn, r.Reason)
		}
	}
	assert.Equal(t, 1, applied)

	n, err := repo.CountAttendance(ctx, "R1", "M1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
