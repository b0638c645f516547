package scheduling

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whatsapp-web-enhancement/timed-messages/internal/clock"
	"github.com/whatsapp-web-enhancement/timed-messages/internal/models"
	"github.com/whatsapp-web-enhancement/timed-messages/internal/repository"
)

type fakeTransport struct {
	sendFunc func(ctx context.Context, chatID, text, quotedMessageID, messageID string) (string, error)
	calls    []string
}

func (f *fakeTransport) Send(ctx context.Context, chatID, text, quotedMessageID, messageID string) (string, error) {
	f.calls = append(f.calls, chatID+"|"+text)
	if f.sendFunc != nil {
		return f.sendFunc(ctx, chatID, text, quotedMessageID, messageID)
	}
	return "gw-msg-1", nil
}

func newTestService(t *testing.T, opts Options) (*Service, *repository.MemoryRepository, *clock.Fake) {
	t.Helper()
	repo := repository.NewMemoryRepository()
	fc := clock.NewFake(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	return NewService(repo, fc, nil, opts), repo, fc
}

func TestService_ScheduleRejectsPastSendAt(t *testing.T) {
	svc, _, fc := newTestService(t, Options{})
	_, err := svc.Schedule(context.Background(), "to", "from", "hi", fc.Now().Add(-time.Minute), "key", "whatsapp", "")
	require.Error(t, err)
	assert.Equal(t, "invalid_send_at", ReasonOf(err))
}

func TestService_ScheduleIsIdempotent(t *testing.T) {
	svc, _, fc := newTestService(t, Options{})
	ctx := context.Background()
	first, err := svc.Schedule(ctx, "to", "from", "hi", fc.Now().Add(time.Hour), "dup-key", "whatsapp", "")
	require.NoError(t, err)

	second, err := svc.Schedule(ctx, "to", "from", "a different message", fc.Now().Add(2*time.Hour), "dup-key", "whatsapp", "")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "hi", second.Text, "idempotent replay must return the original record unchanged")
}

func TestService_ScheduleEnforcesAssistantWindow(t *testing.T) {
	svc, _, fc := newTestService(t, Options{AssistantMode: true, MaxAssistantWindow: 24 * time.Hour})
	ctx := context.Background()

	_, err := svc.Schedule(ctx, "to", "from", "hi", fc.Now().Add(48*time.Hour), "key", "whatsapp", "")
	require.Error(t, err)
	assert.Equal(t, "schedule_window_exceeded", ReasonOf(err))

	_, err = svc.Schedule(ctx, "to", "", "hi", fc.Now().Add(time.Hour), "key2", "whatsapp", "")
	require.Error(t, err)
	assert.Equal(t, "missing_from_chat_id", ReasonOf(err))
}

func TestService_CancelIsIdempotentAndIgnoresUnknownID(t *testing.T) {
	svc, _, fc := newTestService(t, Options{})
	ctx := context.Background()
	msg, err := svc.Schedule(ctx, "to", "from", "hi", fc.Now().Add(time.Hour), "key", "whatsapp", "")
	require.NoError(t, err)

	require.NoError(t, svc.Cancel(ctx, msg.ID))
	require.NoError(t, svc.Cancel(ctx, msg.ID), "cancelling twice must be a silent no-op")

	unknown := msg.ID
	unknown[0] ^= 0xFF
	require.NoError(t, svc.Cancel(ctx, unknown), "cancelling an unknown id must be a silent no-op")
}

func TestService_CancelRejectsSentMessage(t *testing.T) {
	svc, _, fc := newTestService(t, Options{})
	ctx := context.Background()
	msg, err := svc.Schedule(ctx, "to", "from", "hi", fc.Now().Add(time.Minute), "key", "whatsapp", "")
	require.NoError(t, err)

	fc.Advance(2 * time.Minute)
	transport := &fakeTransport{}
	require.NoError(t, svc.Dispatch(ctx, msg.ID, transport, ""))

	err = svc.Cancel(ctx, msg.ID)
	require.Error(t, err)
	assert.Equal(t, "cannot_cancel_sent", ReasonOf(err))
}

func TestService_DispatchNonAssistantSendsVerbatim(t *testing.T) {
	svc, repo, fc := newTestService(t, Options{})
	ctx := context.Background()
	msg, err := svc.Schedule(ctx, "recipient@s.whatsapp.net", "sender", "hello there", fc.Now().Add(time.Minute), "key", "whatsapp", "")
	require.NoError(t, err)

	fc.Advance(2 * time.Minute)
	transport := &fakeTransport{}
	require.NoError(t, svc.Dispatch(ctx, msg.ID, transport, ""))

	require.Len(t, transport.calls, 1)
	assert.Equal(t, "recipient@s.whatsapp.net|hello there", transport.calls[0])

	got, err := repo.GetByID(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSent, got.Status)
}

func TestService_DispatchAssistantModeRoutesToSenderWithNotice(t *testing.T) {
	svc, _, fc := newTestService(t, Options{AssistantMode: true, MaxAssistantWindow: 24 * time.Hour})
	ctx := context.Background()
	msg, err := svc.Schedule(ctx, "recipient@s.whatsapp.net", "15551234999", "hello there", fc.Now().Add(time.Minute), "key", "whatsapp", "")
	require.NoError(t, err)

	fc.Advance(2 * time.Minute)
	transport := &fakeTransport{}
	require.NoError(t, svc.Dispatch(ctx, msg.ID, transport, ""))

	require.Len(t, transport.calls, 1)
	assert.Contains(t, transport.calls[0], "15551234999|")
	assert.NotEqual(t, "15551234999|hello there", transport.calls[0], "assistant mode must notify the sender, not relay the raw text verbatim")
}

func TestService_DispatchMarksFailedOnTransportError(t *testing.T) {
	svc, repo, fc := newTestService(t, Options{})
	ctx := context.Background()
	msg, err := svc.Schedule(ctx, "to", "from", "hi", fc.Now().Add(time.Minute), "key", "whatsapp", "")
	require.NoError(t, err)

	fc.Advance(2 * time.Minute)
	transport := &fakeTransport{sendFunc: func(ctx context.Context, chatID, text, quotedMessageID, messageID string) (string, error) {
		return "", assert.AnError
	}}
	err = svc.Dispatch(ctx, msg.ID, transport, "")
	require.Error(t, err)

	got, err := repo.GetByID(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, 1, got.AttemptCount)
}

func TestService_DispatchSkipsNotYetDueMessages(t *testing.T) {
	svc, repo, fc := newTestService(t, Options{})
	ctx := context.Background()
	msg, err := svc.Schedule(ctx, "to", "from", "hi", fc.Now().Add(time.Hour), "key", "whatsapp", "")
	require.NoError(t, err)

	transport := &fakeTransport{}
	require.NoError(t, svc.Dispatch(ctx, msg.ID, transport, ""))
	assert.Empty(t, transport.calls)

	got, err := repo.GetByID(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusScheduled, got.Status)
}
