package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whatsapp-web-enhancement/timed-messages/internal/clock"
	"github.com/whatsapp-web-enhancement/timed-messages/internal/models"
	"github.com/whatsapp-web-enhancement/timed-messages/internal/repository"
	"github.com/whatsapp-web-enhancement/timed-messages/internal/scheduling"
)

type fakeTransport struct {
	sent []string
}

func (f *fakeTransport) Send(ctx context.Context, chatID, text, quotedMessageID, messageID string) (string, error) {
	f.sent = append(f.sent, messageID)
	return "gw-id", nil
}

func TestWorker_ReclaimsStaleLeaseAfterCrash(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	fc := clock.NewFake(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	leaseTimeout := 300 * time.Second
	svc := scheduling.NewService(repo, fc, nil, scheduling.Options{LeaseTimeout: leaseTimeout})

	msg, err := svc.Schedule(ctx, "to", "from", "hi", fc.Now().Add(time.Minute), "key", "whatsapp", "")
	require.NoError(t, err)
	fc.Advance(2 * time.Minute)

	// Worker A locks the record and then "crashes" (never calls Send or
	// finalizes), leaving the lease to expire.
	ok, err := repo.LockForSending(ctx, msg.ID, fc.Now(), leaseTimeout)
	require.NoError(t, err)
	require.True(t, ok)

	transport := &fakeTransport{}
	w := New(svc, transport, nil, Options{BatchSize: 10, PollInterval: time.Millisecond})

	// Before the lease expires, the record is not yet due for reclaiming.
	w.runOnce(ctx)
	assert.Empty(t, transport.sent)

	// 301s later, a second poll (worker B) reclaims and completes it.
	fc.Advance(301 * time.Second)
	w.runOnce(ctx)
	require.Len(t, transport.sent, 1)
	assert.Equal(t, msg.ID.String(), transport.sent[0])

	got, err := repo.GetByID(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSent, got.Status)
}

func TestWorker_SkipsWhenNothingDue(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	fc := clock.NewFake(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	svc := scheduling.NewService(repo, fc, nil, scheduling.Options{})
	transport := &fakeTransport{}
	w := New(svc, transport, nil, Options{PollInterval: time.Millisecond})

	w.runOnce(ctx)
	assert.Empty(t, transport.sent)
}
