package events

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whatsapp-web-enhancement/timed-messages/internal/auth"
	"github.com/whatsapp-web-enhancement/timed-messages/internal/clock"
	"github.com/whatsapp-web-enhancement/timed-messages/internal/flow"
	"github.com/whatsapp-web-enhancement/timed-messages/internal/repository"
	"github.com/whatsapp-web-enhancement/timed-messages/internal/runtimeconfig"
	"github.com/whatsapp-web-enhancement/timed-messages/internal/scheduling"
)

type fakeTransport struct {
	replies []string
	nextID  int
}

func (f *fakeTransport) Send(ctx context.Context, chatID, text, quotedMessageID, messageID string) (string, error) {
	f.replies = append(f.replies, chatID+"|"+text)
	f.nextID++
	return fmt.Sprintf("gw-%d", f.nextID), nil
}

type fixedCodeGen struct{ code string }

func (f fixedCodeGen) Generate() string { return f.code }

type testHarness struct {
	svc       *Service
	transport *fakeTransport
	repo      *repository.MemoryRepository
	runtime   *runtimeconfig.RuntimeConfig
	authSvc   *auth.Service
	fc        *clock.Fake
}

func newHarnessWithCodeGen(t *testing.T, assistantMode bool, codeGen auth.CodeGenerator) *testHarness {
	t.Helper()
	dir := t.TempDir()
	runtime := runtimeconfig.NewRuntimeConfig(
		filepath.Join(dir, "common.json"),
		filepath.Join(dir, "timed_messages.json"),
		nil,
	)
	fc := clock.NewFake(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	repo := repository.NewMemoryRepository()
	schedulingSvc := scheduling.NewService(repo, fc, nil, scheduling.Options{AssistantMode: assistantMode, MaxAssistantWindow: 24 * time.Hour})
	transport := &fakeTransport{}
	flowStore := flow.NewInMemoryStore(30*time.Minute, fc)
	authSvc := auth.NewService(runtime, auth.NewInMemoryPendingStore(30*time.Minute, fc), codeGen, nil)

	svc := NewService(schedulingSvc, transport, flowStore, authSvc, runtime, fc, assistantMode, "UTC", nil)
	return &testHarness{svc: svc, transport: transport, repo: repo, runtime: runtime, authSvc: authSvc, fc: fc}
}

func newHarness(t *testing.T, assistantMode bool) *testHarness {
	return newHarnessWithCodeGen(t, assistantMode, nil)
}

func TestHandleInboundEvent_NonAssistantAddFlowHappyPath(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	require.NoError(t, h.runtime.SetSchedulingGroup("group-chat"))

	base := InboundEvent{ChatID: "group-chat", SenderID: "15551234567", MessageID: "m1"}

	ev := base
	ev.Text = "add"
	accepted, reason := h.svc.HandleInboundEvent(ctx, ev)
	require.True(t, accepted, reason)

	ev.Text = "15559998888"
	accepted, reason = h.svc.HandleInboundEvent(ctx, ev)
	require.True(t, accepted, reason)

	ev.Text = "2024-01-01 18:30"
	accepted, reason = h.svc.HandleInboundEvent(ctx, ev)
	require.True(t, accepted, reason)

	ev.Text = "don't forget the meeting"
	accepted, reason = h.svc.HandleInboundEvent(ctx, ev)
	require.True(t, accepted, reason)

	list, err := h.repo.ListBySender(ctx, "15551234567", 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "15559998888@s.whatsapp.net", list[0].ChatID)
	assert.Equal(t, "don't forget the meeting", list[0].Text)

	require.Len(t, h.transport.replies, 4)
	assert.Contains(t, h.transport.replies[3], "Scheduled")
}

func TestHandleInboundEvent_CancelByIDPrefixIsIdempotent(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	require.NoError(t, h.runtime.SetSchedulingGroup("group-chat"))

	msg, err := h.svc.scheduling.Schedule(ctx, "to@s.whatsapp.net", "15551234567", "hi", h.fc.Now().Add(time.Hour), "key", "whatsapp", "")
	require.NoError(t, err)

	event := InboundEvent{ChatID: "group-chat", SenderID: "15551234567", MessageID: "m2", Text: "cancel " + msg.IDPrefix()}
	accepted, reason := h.svc.HandleInboundEvent(ctx, event)
	require.True(t, accepted, reason)

	got, err := h.repo.GetByID(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, "CANCELLED", string(got.Status))

	// Cancelling the same id again is still accepted (idempotent no-op).
	accepted, reason = h.svc.HandleInboundEvent(ctx, event)
	assert.True(t, accepted, reason)
}

func TestHandleInboundEvent_AssistantModeGatesUnapprovedSenders(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	event := InboundEvent{ChatID: "dm-1", SenderID: "15550000000", MessageID: "m3", Text: "add"}
	accepted, reason := h.svc.HandleInboundEvent(ctx, event)
	assert.False(t, accepted)
	assert.Equal(t, "unauthorized_sender", reason)
	require.Len(t, h.transport.replies, 1)
	assert.Contains(t, h.transport.replies[0], "Unauthorized")
}

func TestHandleInboundEvent_AuthRoundTripWrongThenRightCode(t *testing.T) {
	h := newHarnessWithCodeGen(t, true, fixedCodeGen{code: "654321"})
	ctx := context.Background()

	setupCode, err := h.runtime.AdminSetupCode()
	require.NoError(t, err)
	adminEvent := InboundEvent{ChatID: "admin-dm", SenderID: "15551110000", MessageID: "m0", Text: "!whoami " + setupCode}
	accepted, reason := h.svc.HandleInboundEvent(ctx, adminEvent)
	require.True(t, accepted, reason)

	requester := InboundEvent{ChatID: "dm-2", SenderID: "15552220000", MessageID: "m4", Text: "!auth"}
	accepted, reason = h.svc.HandleInboundEvent(ctx, requester)
	require.True(t, accepted, reason)

	wrongCode := requester
	wrongCode.Text = "!auth 111111"
	accepted, reason = h.svc.HandleInboundEvent(ctx, wrongCode)
	assert.False(t, accepted)
	assert.Equal(t, "invalid_auth_code", reason)
	assert.False(t, h.authSvc.IsSenderApproved("15552220000"))

	rightCode := requester
	rightCode.Text = "!auth 654321"
	accepted, reason = h.svc.HandleInboundEvent(ctx, rightCode)
	assert.True(t, accepted, reason)
	assert.True(t, h.authSvc.IsSenderApproved("15552220000"))
}

func TestHandleInboundEvent_CancelByQuotedConfirmationMessageID(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	require.NoError(t, h.runtime.SetSchedulingGroup("group-chat"))

	msg, err := h.svc.scheduling.Schedule(ctx, "to@s.whatsapp.net", "15551234567", "hi", h.fc.Now().Add(time.Hour), "key", "whatsapp", "")
	require.NoError(t, err)
	require.NoError(t, h.svc.scheduling.SetConfirmationMessageID(ctx, msg.ID, "confirm-msg-1"))

	event := InboundEvent{
		ChatID:          "group-chat",
		SenderID:        "15551234567",
		MessageID:       "m5",
		Text:            "cancel",
		QuotedMessageID: "confirm-msg-1",
	}
	accepted, reason := h.svc.HandleInboundEvent(ctx, event)
	require.True(t, accepted, reason)

	got, err := h.repo.GetByID(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, "CANCELLED", string(got.Status))
}
