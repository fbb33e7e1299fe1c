package client

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mealcheck/internal/domain/checkin"
	"mealcheck/internal/domain/qr"
)

var lunch = checkin.ScanContext{EventID: "E1", MealSessionID: "M1"}

func auditResults(t *testing.T, store Store) []checkin.DecodeResult {
	t.Helper()
	var out []checkin.DecodeResult
	for _, a := range pendingOf(t, store, checkin.KindAuditWrite) {
		var p checkin.AuditPayload
		require.NoError(t, json.Unmarshal(a.Payload, &p))
		out = append(out, p.DecodeResult)
	}
	return out
}

func TestApp_OfflineRoundTrip(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	seedRegistration(remote, "R1", "E1")
	remote.setOffline(true)
	store := NewMemoryStore()
	app := newTestApp(t, remote, store)

	res := app.RecordScan(ctx, issueCode(t, "R1", "E1", time.Hour), lunch)
	require.True(t, res.Recorded)
	assert.Equal(t, checkin.ModeQueued, res.Mode)
	assert.Equal(t, "desk-1", res.Event.ScannedBy)

	scans := pendingOf(t, store, checkin.KindMealScan)
	require.Len(t, scans, 1)
	assert.Equal(t, checkin.StatusPending, scans[0].Status)
	assert.Equal(t, "R1", scans[0].RegistrationID)

	stats, err := app.GetSyncStats(ctx)
	require.NoError(t, err)
	assert.False(t, stats.IsOnline)
	assert.Equal(t, 1, stats.PendingScans)
	assert.Equal(t, 1, stats.TotalPending)

	remote.setOffline(false)
	app.NotifyConnectivity(ctx, true)
	require.True(t, app.State().IsOnline)

	result := app.ForceSyncNow(ctx)
	assert.True(t, result.Success)
	assert.Equal(t, 1, result.SyncedScans)
	assert.Empty(t, result.Errors)

	stats, err = app.GetSyncStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.PendingScans)
	assert.Equal(t, 0, stats.TotalPending)
	assert.False(t, stats.LastSyncAt.IsZero())

	_, err = store.Get(ctx, scans[0].ClientActionID)
	assert.ErrorIs(t, err, checkin.ErrNotFound)

	n, err := remote.repo.CountAttendance(ctx, "R1", "M1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestApp_ExpiredCode(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	seedRegistration(remote, "R2", "E1")
	remote.setOffline(true)
	store := NewMemoryStore()
	app := newTestApp(t, remote, store)

	res := app.RecordScan(ctx, issueCode(t, "R2", "E1", -time.Hour), lunch)
	assert.False(t, res.Recorded)
	assert.Equal(t, checkin.ResultExpired, res.Reason)
	assert.Equal(t, "R2", res.Event.RegistrationID)

	assert.Empty(t, pendingOf(t, store, checkin.KindMealScan))
	assert.Equal(t, []checkin.DecodeResult{checkin.ResultExpired}, auditResults(t, store))
}

func TestApp_StationClock(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	seedRegistration(remote, "R2", "E1")
	store := NewMemoryStore()

	key, err := qr.DeriveKey(testSecret)
	require.NoError(t, err)
	later := func() time.Time { return time.Now().Add(3 * time.Hour) }

	app, err := New(ctx, testConfig(), discardLogger(),
		WithStore(store),
		WithRemote(remote),
		WithDecoder(qr.NewDecoder(key, qr.WithClock(later))),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })

	// код действует час по часам станции выпуска
	res := app.RecordScan(ctx, issueCode(t, "R2", "E1", time.Hour), lunch)
	assert.False(t, res.Recorded)
	assert.Equal(t, checkin.ResultExpired, res.Reason)
	for _, c := range remote.submitted() {
		assert.NotEqual(t, checkin.KindMealScan, c.kind)
	}
	assert.Empty(t, pendingOf(t, store, checkin.KindMealScan))
}

func TestApp_MalformedNeverQueued(t *testing.T) {
	otherKey, err := qr.DeriveKey("another-secret")
	require.NoError(t, err)
	forged, err := qr.NewSigner(otherKey).Sign(qr.Claim{
		RegistrationID: "R1",
		EventID:        "E1",
		NotBefore:      time.Now().Add(-time.Hour).Unix(),
		ExpiresAt:      time.Now().Add(time.Hour).Unix(),
	})
	require.NoError(t, err)

	tests := []struct {
		name   string
		online bool
		raw    string
	}{
		{name: "forged checksum offline", online: false, raw: forged},
		{name: "forged checksum online", online: true, raw: forged},
		{name: "garbage offline", online: false, raw: "not a code"},
		{name: "garbage online", online: true, raw: "MC1.e30"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			remote := newFakeRemote()
			seedRegistration(remote, "R1", "E1")
			remote.setOffline(!tt.online)
			store := NewMemoryStore()
			app := newTestApp(t, remote, store)
			app.Probe(ctx)

			res := app.RecordScan(ctx, tt.raw, lunch)
			assert.False(t, res.Recorded)
			assert.Equal(t, checkin.ResultMalformed, res.Reason)
			assert.Empty(t, pendingOf(t, store, checkin.KindMealScan))

			if tt.online {
				entries := remote.repo.AuditEntries()
				require.Len(t, entries, 1)
				assert.Equal(t, checkin.ResultMalformed, entries[0].DecodeResult)
				assert.Equal(t, tt.raw, entries[0].QRPayloadRaw)
				for _, c := range remote.submitted() {
					assert.Equal(t, checkin.KindAuditWrite, c.kind)
				}
			} else {
				assert.Equal(t, []checkin.DecodeResult{checkin.ResultMalformed}, auditResults(t, store))
			}
		})
	}
}

func TestApp_DuplicateSuppressionOffline(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	remote.setOffline(true)
	store := NewMemoryStore()
	app := newTestApp(t, remote, store)
	code := issueCode(t, "R1", "E1", time.Hour)

	first := app.RecordScan(ctx, code, lunch)
	second := app.RecordScan(ctx, code, lunch)

	assert.True(t, first.Recorded)
	assert.False(t, second.Recorded)
	assert.Equal(t, checkin.ResultAlreadyCheckedIn, second.Reason)
	assert.NotEqual(t, first.Event.ID, second.Event.ID)

	assert.Len(t, pendingOf(t, store, checkin.KindMealScan), 1)
	assert.Equal(t, []checkin.DecodeResult{checkin.ResultAlreadyCheckedIn}, auditResults(t, store))

	// другая сессия питания того же участника не считается повтором
	dinner := app.RecordScan(ctx, code, checkin.ScanContext{EventID: "E1", MealSessionID: "M2"})
	assert.True(t, dinner.Recorded)
	assert.Len(t, pendingOf(t, store, checkin.KindMealScan), 2)
}

func TestApp_OrderingRegistrationBeforeScan(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	remote.setOffline(true)
	app := newTestApp(t, remote, NewMemoryStore())

	reg := app.RegisterParticipant(ctx, checkin.RegistrationForm{
		EventID:  "E1",
		FullName: "Grace Hopper",
		Email:    "grace@example.com",
	})
	require.True(t, reg.Recorded)
	assert.Equal(t, checkin.ModeQueued, reg.Mode)
	regID := reg.Event.RegistrationID
	require.NotEmpty(t, regID)

	scan := app.RecordScan(ctx, issueCode(t, regID, "E1", time.Hour), lunch)
	require.True(t, scan.Recorded)

	stats, err := app.GetSyncStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.PendingRegistrations)
	assert.Equal(t, 1, stats.PendingScans)

	remote.setOffline(false)
	result := app.ForceSyncNow(ctx)
	assert.True(t, result.Success)
	assert.Equal(t, 1, result.SyncedRegistrations)
	assert.Equal(t, 1, result.SyncedScans)

	calls := remote.submitted()
	require.Len(t, calls, 2)
	assert.Equal(t, checkin.KindRegistrationCreate, calls[0].kind)
	assert.Equal(t, checkin.KindMealScan, calls[1].kind)

	n, err := remote.repo.CountAttendance(ctx, regID, "M1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestApp_OrderingBarrierOnRetry(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	remote.setOffline(true)
	app := newTestApp(t, remote, NewMemoryStore())

	reg := app.RegisterParticipant(ctx, checkin.RegistrationForm{EventID: "E1", FullName: "Alan Turing", Email: "alan@example.com"})
	require.True(t, reg.Recorded)
	regID := reg.Event.RegistrationID
	require.True(t, app.RecordScan(ctx, issueCode(t, regID, "E1", time.Hour), lunch).Recorded)

	remote.setOffline(false)
	remote.failTransient(1)

	first := app.ForceSyncNow(ctx)
	assert.False(t, first.Success)
	require.Len(t, first.Errors, 1)
	assert.True(t, first.Errors[0].Retryable)
	assert.Equal(t, checkin.KindRegistrationCreate, first.Errors[0].Kind)
	// скан этой регистрации не отправлялся раньше нее
	assert.Len(t, remote.submitted(), 1)

	require.Eventually(t, func() bool {
		return app.ForceSyncNow(ctx).Success
	}, time.Second, 5*time.Millisecond)

	stats, err := app.GetSyncStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalPending)

	n, err := remote.repo.CountAttendance(ctx, regID, "M1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestApp_IdempotentRetryAfterLostReply(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	seedRegistration(remote, "R1", "E1")
	remote.setOffline(true)
	app := newTestApp(t, remote, NewMemoryStore())

	require.True(t, app.RecordScan(ctx, issueCode(t, "R1", "E1", time.Hour), lunch).Recorded)

	remote.setOffline(false)
	remote.loseReplies(1)

	first := app.ForceSyncNow(ctx)
	assert.False(t, first.Success)
	require.Len(t, first.Errors, 1)
	assert.True(t, first.Errors[0].Retryable)

	var second checkin.SyncResult
	require.Eventually(t, func() bool {
		second = app.ForceSyncNow(ctx)
		return second.Success
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, second.SyncedScans)

	calls := remote.submitted()
	require.Len(t, calls, 2)
	assert.Equal(t, calls[0].clientActionID, calls[1].clientActionID)

	n, err := remote.repo.CountAttendance(ctx, "R1", "M1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestApp_ScanWaitsForQueuedRegistration(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	store := NewMemoryStore()
	app := newTestApp(t, remote, store)
	require.True(t, app.Probe(ctx))

	remote.failTransient(1)
	reg := app.RegisterParticipant(ctx, checkin.RegistrationForm{EventID: "E1", FullName: "Katherine Johnson", Email: "katherine@example.com"})
	require.True(t, reg.Recorded)
	assert.Equal(t, checkin.ModeQueued, reg.Mode)
	regID := reg.Event.RegistrationID

	// станция онлайн, но регистрация еще в очереди: скан встает за ней
	scan := app.RecordScan(ctx, issueCode(t, regID, "E1", time.Hour), lunch)
	require.True(t, scan.Recorded)
	assert.Equal(t, checkin.ModeQueued, scan.Mode)
	assert.Len(t, remote.submitted(), 1)

	result := app.ForceSyncNow(ctx)
	assert.True(t, result.Success)
	assert.Equal(t, 1, result.SyncedRegistrations)
	assert.Equal(t, 1, result.SyncedScans)
	assert.Empty(t, result.Errors)

	calls := remote.submitted()
	require.Len(t, calls, 3)
	assert.Equal(t, checkin.KindRegistrationCreate, calls[1].kind)
	assert.Equal(t, checkin.KindMealScan, calls[2].kind)

	n, err := remote.repo.CountAttendance(ctx, regID, "M1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, remote.repo.AuditEntries())

	// после синхронизации следующая сессия идет на сервер напрямую
	dinner := app.RecordScan(ctx, issueCode(t, regID, "E1", time.Hour), checkin.ScanContext{EventID: "E1", MealSessionID: "M2"})
	require.True(t, dinner.Recorded)
	assert.Equal(t, checkin.ModeRemote, dinner.Mode)
}

func TestApp_RescanAfterServerRejection(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	remote.setOffline(true)
	store := NewMemoryStore()
	app := newTestApp(t, remote, store)
	code := issueCode(t, "R9", "E1", time.Hour)

	require.True(t, app.RecordScan(ctx, code, lunch).Recorded)

	remote.setOffline(false)
	result := app.ForceSyncNow(ctx)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, checkin.ReasonUnknownRegistration, result.Errors[0].Reason)
	assert.False(t, result.Errors[0].Retryable)

	// администратор добавил участника, повторный скан доходит до сервера
	seedRegistration(remote, "R9", "E1")
	rescan := app.RecordScan(ctx, code, lunch)
	require.True(t, rescan.Recorded)
	assert.Equal(t, checkin.ModeRemote, rescan.Mode)

	calls := remote.submitted()
	assert.Equal(t, checkin.KindMealScan, calls[len(calls)-1].kind)

	n, err := remote.repo.CountAttendance(ctx, "R9", "M1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// отклоненная запись остается для разбора оператором
	failed, err := app.FailedActions(ctx)
	require.NoError(t, err)
	assert.Len(t, failed, 1)
}

func TestApp_ConcurrentStationsFirstScanWins(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	seedRegistration(remote, "R1", "E1")
	remote.setOffline(true)

	storeB := NewMemoryStore()
	stationA := newTestApp(t, remote, NewMemoryStore())
	stationB := newTestApp(t, remote, storeB)
	code := issueCode(t, "R1", "E1", time.Hour)

	require.True(t, stationA.RecordScan(ctx, code, lunch).Recorded)
	require.True(t, stationB.RecordScan(ctx, code, lunch).Recorded)

	remote.setOffline(false)
	a := stationA.ForceSyncNow(ctx)
	assert.True(t, a.Success)
	assert.Equal(t, 1, a.SyncedScans)

	b := stationB.ForceSyncNow(ctx)
	assert.False(t, b.Success)
	require.Len(t, b.Errors, 1)
	assert.Equal(t, checkin.ReasonAlreadyCheckedIn, b.Errors[0].Reason)
	assert.False(t, b.Errors[0].Retryable)

	failed, err := stationB.FailedActions(ctx)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, checkin.StatusFailedPermanent, failed[0].Status)
	assert.Equal(t, checkin.KindMealScan, failed[0].Kind)

	stats, err := stationB.GetSyncStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FailedPermanent)
	assert.Equal(t, 0, stats.TotalPending)

	entries := remote.repo.AuditEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, checkin.ResultAlreadyCheckedIn, entries[0].DecodeResult)

	n, err := remote.repo.CountAttendance(ctx, "R1", "M1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// повтор по команде оператора получает тот же отказ
	requeued, err := stationB.RetryFailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, requeued)
	again := stationB.ForceSyncNow(ctx)
	require.Len(t, again.Errors, 1)
	assert.Equal(t, checkin.ReasonAlreadyCheckedIn, again.Errors[0].Reason)
	assert.Len(t, remote.repo.AuditEntries(), 1)
}

func TestApp_RecoversAfterRestart(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	remote.setOffline(true)
	store := NewMemoryStore()
	code := issueCode(t, "R1", "E1", time.Hour)

	first := newTestApp(t, remote, store)
	require.True(t, first.RecordScan(ctx, code, lunch).Recorded)

	// процесс упал посреди отправки
	scans := pendingOf(t, store, checkin.KindMealScan)
	require.Len(t, scans, 1)
	scans[0].Status = checkin.StatusSyncing
	require.NoError(t, store.Put(ctx, scans[0]))

	restarted := newTestApp(t, remote, store)
	stats, err := restarted.GetSyncStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.PendingScans)
	assert.Len(t, pendingOf(t, store, checkin.KindMealScan), 1)

	res := restarted.RecordScan(ctx, code, lunch)
	assert.False(t, res.Recorded)
	assert.Equal(t, checkin.ResultAlreadyCheckedIn, res.Reason)
}

func TestApp_SQLiteQueueSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	seedRegistration(remote, "R1", "E1")
	remote.setOffline(true)

	cfg := testConfig()
	cfg.DataPath = filepath.Join(t.TempDir(), "queue.db")

	app, err := New(ctx, cfg, discardLogger(), WithRemote(remote))
	require.NoError(t, err)
	require.True(t, app.RecordScan(ctx, issueCode(t, "R1", "E1", time.Hour), lunch).Recorded)
	require.NoError(t, app.Close())

	reopened, err := New(ctx, cfg, discardLogger(), WithRemote(remote))
	require.NoError(t, err)
	defer reopened.Close()

	stats, err := reopened.GetSyncStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.PendingScans)

	remote.setOffline(false)
	result := reopened.ForceSyncNow(ctx)
	assert.True(t, result.Success)
	assert.Equal(t, 1, result.SyncedScans)
}

func TestApp_ForceSyncWhileOffline(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	remote.setOffline(true)
	app := newTestApp(t, remote, NewMemoryStore())

	result := app.ForceSyncNow(ctx)
	assert.True(t, result.Offline)
	assert.False(t, result.Success)
	assert.Empty(t, remote.submitted())
}

func TestApp_Subscribe(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	app := newTestApp(t, remote, NewMemoryStore())

	updates, cancel := app.Subscribe()
	defer cancel()

	require.True(t, app.Probe(ctx))

	select {
	case st := <-updates:
		assert.True(t, st.IsOnline)
	case <-time.After(time.Second):
		t.Fatal("no state update after going online")
	}

	app.NotifyConnectivity(ctx, false)
	select {
	case st := <-updates:
		assert.False(t, st.IsOnline)
	case <-time.After(time.Second):
		t.Fatal("no state update after going offline")
	}
}
