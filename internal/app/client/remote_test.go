package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	"mealcheck/internal/app/client/config"
	"mealcheck/internal/domain/attendance"
	"mealcheck/internal/domain/checkin"
	"mealcheck/internal/domain/qr"
	"mealcheck/internal/infrastructure/storage/memory"
)

const testSecret = "station-secret"

// MockRemote мок сервиса регистрации
type MockRemote struct {
	mock.Mock
}

func (m *MockRemote) Submit(ctx context.Context, kind checkin.ActionKind, clientActionID string, payload json.RawMessage) (checkin.SubmitResponse, error) {
	args := m.Called(ctx, kind, clientActionID, payload)
	return args.Get(0).(checkin.SubmitResponse), args.Error(1)
}

func (m *MockRemote) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

type submitCall struct {
	kind           checkin.ActionKind
	clientActionID string
}

// fakeRemote настоящий attendance.Service поверх хранилища в памяти
// с управляемой доступностью
type fakeRemote struct {
	repo *memory.AttendanceRepository
	svc  *attendance.Service

	mu          sync.Mutex
	offline     bool
	failNext    int
	lostReplies int
	calls       []submitCall
	submitHook  func()
}

func newFakeRemote() *fakeRemote {
	repo := memory.NewAttendanceRepository()
	return &fakeRemote{
		repo: repo,
		svc:  attendance.NewService(repo, discardLogger()),
	}
}

func (f *fakeRemote) setOffline(offline bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offline = offline
}

// failTransient следующие n отправок завершатся сетевой ошибкой
func (f *fakeRemote) failTransient(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failNext = n
}

// loseReplies следующие n отправок применятся на сервере, но ответ не дойдет
func (f *fakeRemote) loseReplies(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lostReplies = n
}

func (f *fakeRemote) submitted() []submitCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]submitCall(nil), f.calls...)
}

func (f *fakeRemote) Ping(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.offline {
		return checkin.Transient(errors.New("connection refused"))
	}
	return nil
}

func (f *fakeRemote) Submit(ctx context.Context, kind checkin.ActionKind, clientActionID string, payload json.RawMessage) (checkin.SubmitResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, submitCall{kind: kind, clientActionID: clientActionID})
	hook := f.submitHook
	if f.offline {
		f.mu.Unlock()
		return checkin.SubmitResponse{}, checkin.Transient(errors.New("connection refused"))
	}
	if f.failNext > 0 {
		f.failNext--
		f.mu.Unlock()
		return checkin.SubmitResponse{}, checkin.Transient(errors.New("gateway timeout"))
	}
	lost := f.lostReplies > 0
	if lost {
		f.lostReplies--
	}
	f.mu.Unlock()

	if hook != nil {
		hook()
	}

	resp, err := f.apply(ctx, kind, clientActionID, payload)
	if err != nil {
		return resp, err
	}
	if lost {
		return checkin.SubmitResponse{}, checkin.Transient(context.DeadlineExceeded)
	}
	return resp, nil
}

func (f *fakeRemote) apply(ctx context.Context, kind checkin.ActionKind, id string, payload json.RawMessage) (checkin.SubmitResponse, error) {
	switch kind {
	case checkin.KindRegistrationCreate:
		var p checkin.RegistrationPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return checkin.SubmitResponse{}, err
		}
		return f.svc.SubmitRegistration(ctx, checkin.RegistrationRequest{ClientActionID: id, Payload: p})
	case checkin.KindMealScan:
		var p checkin.MealScanPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return checkin.SubmitResponse{}, err
		}
		return f.svc.SubmitMealScan(ctx, checkin.MealScanRequest{ClientActionID: id, Payload: p})
	case checkin.KindAuditWrite:
		var p checkin.AuditPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return checkin.SubmitResponse{}, err
		}
		return f.svc.SubmitAuditEntry(ctx, checkin.AuditRequest{ClientActionID: id, Payload: p})
	}
	return checkin.SubmitResponse{}, fmt.Errorf("unknown kind %s", kind)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *config.Config {
	return &config.Config{
		Env:                    config.EnvLocal,
		ServerAddress:          "localhost:8080",
		StationID:              "desk-1",
		QRSecret:               testSecret,
		SyncInterval:           time.Hour,
		ProbeInterval:          time.Hour,
		RequestTimeout:         time.Second,
		BaseBackoff:            time.Millisecond,
		MaxBackoff:             4 * time.Millisecond,
		MaxConsecutiveFailures: 3,
	}
}

func newTestApp(t *testing.T, remote Remote, store Store) *App {
	t.Helper()
	app, err := New(context.Background(), testConfig(), discardLogger(), WithStore(store), WithRemote(remote))
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })
	return app
}

// issueCode подписывает QR-код участника, действующий ttl от текущего момента
func issueCode(t *testing.T, registrationID, eventID string, ttl time.Duration) string {
	t.Helper()
	key, err := qr.DeriveKey(testSecret)
	require.NoError(t, err)

	now := time.Now()
	claim := qr.Claim{
		RegistrationID: registrationID,
		EventID:        eventID,
		NotBefore:      now.Add(-2 * time.Hour).Unix(),
		ExpiresAt:      now.Add(ttl).Unix(),
	}
	code, err := qr.NewSigner(key).Sign(claim)
	require.NoError(t, err)
	return code
}

func seedRegistration(remote *fakeRemote, registrationID, eventID string) {
	remote.repo.Seed(checkin.RegistrationPayload{
		RegistrationID: registrationID,
		EventID:        eventID,
		FullName:       "Participant " + registrationID,
		Email:          registrationID + "@example.com",
		CreatedBy:      "import",
	})
}

func pendingOf(t *testing.T, store Store, kind checkin.ActionKind) []*checkin.PendingAction {
	t.Helper()
	actions, err := store.List(context.Background(), checkin.StatusPending)
	require.NoError(t, err)
	var out []*checkin.PendingAction
	for _, a := range actions {
		if a.Kind == kind {
			out = append(out, a)
		}
	}
	return out
}
