package client

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"mealcheck/internal/domain/checkin"
)

func newTestAuditor(remote Remote, store Store, online bool) *Auditor {
	state := NewStateHolder()
	state.SetOnline(online)
	return NewAuditor(remote, newTestQueue(store), state, time.Second, discardLogger())
}

func failedEvent(id string) checkin.ScanEvent {
	return checkin.ScanEvent{
		ID:           id,
		QRPayloadRaw: "garbage",
		DecodeResult: checkin.ResultMalformed,
		EventID:      "E1",
		ScannedBy:    "desk-1",
		ScannedAt:    time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC),
		Reason:       "unexpected payload structure",
	}
}

func TestAuditor_RecordFailedScan(t *testing.T) {
	ctx := context.Background()

	t.Run("written remotely", func(t *testing.T) {
		remote := new(MockRemote)
		store := NewMemoryStore()
		a := newTestAuditor(remote, store, true)

		remote.On("Submit", mock.Anything, checkin.KindAuditWrite, "ev-1", mock.MatchedBy(func(p json.RawMessage) bool {
			var entry checkin.AuditPayload
			return json.Unmarshal(p, &entry) == nil &&
				entry.DecodeResult == checkin.ResultMalformed &&
				entry.QRPayloadRaw == "garbage"
		})).Return(applied, nil).Once()

		a.RecordFailedScan(ctx, failedEvent("ev-1"))

		assert.Empty(t, pendingOf(t, store, checkin.KindAuditWrite))
		remote.AssertExpectations(t)
	})

	t.Run("queued on transient failure", func(t *testing.T) {
		remote := new(MockRemote)
		store := NewMemoryStore()
		a := newTestAuditor(remote, store, true)
		remote.On("Submit", mock.Anything, checkin.KindAuditWrite, "ev-1", mock.Anything).Return(checkin.SubmitResponse{}, timedOut).Once()

		a.RecordFailedScan(ctx, failedEvent("ev-1"))

		audits := pendingOf(t, store, checkin.KindAuditWrite)
		require.Len(t, audits, 1)
		assert.Equal(t, "ev-1", audits[0].ClientActionID)
	})

	t.Run("queued offline once", func(t *testing.T) {
		remote := new(MockRemote)
		store := NewMemoryStore()
		a := newTestAuditor(remote, store, false)

		a.RecordFailedScan(ctx, failedEvent("ev-1"))
		a.RecordFailedScan(ctx, failedEvent("ev-1"))

		assert.Len(t, pendingOf(t, store, checkin.KindAuditWrite), 1)
		remote.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("rejected entry kept for review", func(t *testing.T) {
		remote := new(MockRemote)
		store := NewMemoryStore()
		a := newTestAuditor(remote, store, true)
		remote.On("Submit", mock.Anything, checkin.KindAuditWrite, "ev-1", mock.Anything).
			Return(checkin.SubmitResponse{Status: checkin.SubmitRejected, Reason: checkin.ReasonInvalidPayload}, nil).Once()

		a.RecordFailedScan(ctx, failedEvent("ev-1"))

		failed, err := store.List(ctx, checkin.StatusFailedPermanent)
		require.NoError(t, err)
		require.Len(t, failed, 1)
		assert.Equal(t, checkin.ReasonInvalidPayload, failed[0].LastError)
		assert.Empty(t, pendingOf(t, store, checkin.KindAuditWrite))
	})

	t.Run("storage failure does not panic", func(t *testing.T) {
		a := newTestAuditor(new(MockRemote), brokenStore{}, false)
		assert.NotPanics(t, func() {
			a.RecordFailedScan(ctx, failedEvent("ev-1"))
		})
	})
}
