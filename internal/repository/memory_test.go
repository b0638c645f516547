package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whatsapp-web-enhancement/timed-messages/internal/models"
)

func TestMemoryRepository_CreateAndIdempotency(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	msg := models.New("to@s.whatsapp.net", "from", "hi", now.Add(time.Hour), "key-1", "whatsapp")
	created, err := repo.Create(ctx, msg)
	require.NoError(t, err)
	assert.Equal(t, models.StatusScheduled, created.Status)
	assert.True(t, created.SendAt.After(now))

	existing, err := repo.FindByIdempotencyKey(ctx, "key-1")
	require.NoError(t, err)
	require.NotNil(t, existing)
	assert.Equal(t, msg.ID, existing.ID)

	missing, err := repo.FindByIdempotencyKey(ctx, "key-2")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestMemoryRepository_LockForSendingIsExclusive(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	msg := models.New("to", "from", "hi", now.Add(time.Second), "key", "whatsapp")
	_, err := repo.Create(ctx, msg)
	require.NoError(t, err)

	due := now.Add(time.Minute)
	const workers = 8
	results := make(chan bool, workers)
	for i := 0; i < workers; i++ {
		go func() {
			ok, err := repo.LockForSending(ctx, msg.ID, due, 300*time.Second)
			require.NoError(t, err)
			results <- ok
		}()
	}
	wins := 0
	for i := 0; i < workers; i++ {
		if <-results {
			wins++
		}
	}
	assert.Equal(t, 1, wins)
}

func TestMemoryRepository_StaleLeaseIsReclaimable(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	msg := models.New("to", "from", "hi", now.Add(time.Second), "key", "whatsapp")
	_, err := repo.Create(ctx, msg)
	require.NoError(t, err)

	lockTime := now.Add(time.Minute)
	ok, err := repo.LockForSending(ctx, msg.ID, lockTime, 300*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	staleCheck := lockTime.Add(299 * time.Second)
	upcoming, err := repo.ListUpcoming(ctx, staleCheck, 300*time.Second, 10)
	require.NoError(t, err)
	assert.Empty(t, upcoming)

	expiredCheck := lockTime.Add(301 * time.Second)
	upcoming, err = repo.ListUpcoming(ctx, expiredCheck, 300*time.Second, 10)
	require.NoError(t, err)
	require.Len(t, upcoming, 1)

	ok, err = repo.LockForSending(ctx, msg.ID, expiredCheck, 300*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryRepository_TerminalStatusesNeverChange(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	msg := models.New("to", "from", "hi", now.Add(time.Second), "key", "whatsapp")
	_, err := repo.Create(ctx, msg)
	require.NoError(t, err)

	ok, err := repo.LockForSending(ctx, msg.ID, now, 300*time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, repo.MarkSent(ctx, msg.ID, now))

	cancelled, err := repo.Cancel(ctx, msg.ID)
	require.NoError(t, err)
	assert.False(t, cancelled, "cancelling a SENT record must be a no-op")

	got, err := repo.GetByID(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSent, got.Status)
}

func TestMemoryRepository_MarkFailedIncrementsAttemptCount(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	msg := models.New("to", "from", "hi", now.Add(time.Second), "key", "whatsapp")
	_, err := repo.Create(ctx, msg)
	require.NoError(t, err)

	_, err = repo.LockForSending(ctx, msg.ID, now, 300*time.Second)
	require.NoError(t, err)
	require.NoError(t, repo.MarkFailed(ctx, msg.ID, "gateway timeout"))
	require.NoError(t, repo.MarkFailed(ctx, msg.ID, "gateway timeout"))

	got, err := repo.GetByID(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.AttemptCount)
	assert.Equal(t, "gateway timeout", got.LastError)
}

func TestMemoryRepository_ListBySenderFiltersBySender(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	a := models.New("to", "15551234567", "a", now.Add(time.Hour), "key-a", "whatsapp")
	b := models.New("to", "15559998888", "b", now.Add(time.Hour), "key-b", "whatsapp")
	_, err := repo.Create(ctx, a)
	require.NoError(t, err)
	_, err = repo.Create(ctx, b)
	require.NoError(t, err)

	list, err := repo.ListBySender(ctx, "15551234567", 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, a.ID, list[0].ID)
}

func TestMemoryRepository_FindByIDPrefixScoping(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	msg := models.New("to", "15551234567", "hi", now.Add(time.Hour), "key", "whatsapp")
	_, err := repo.Create(ctx, msg)
	require.NoError(t, err)
	prefix := msg.IDPrefix()

	found, err := repo.FindByIDPrefix(ctx, prefix)
	require.NoError(t, err)
	assert.Equal(t, msg.ID, found.ID)

	found, err = repo.FindByIDPrefixForSender(ctx, "15551234567", prefix)
	require.NoError(t, err)
	assert.Equal(t, msg.ID, found.ID)

	// Another sender can't resolve someone else's prefix.
	_, err = repo.FindByIDPrefixForSender(ctx, "15559998888", prefix)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = repo.FindByIDPrefix(ctx, "ffffffffffff")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryRepository_FindByConfirmationMessageIDExcludesTerminal(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	msg := models.New("to", "from", "hi", now.Add(time.Hour), "key", "whatsapp")
	_, err := repo.Create(ctx, msg)
	require.NoError(t, err)
	require.NoError(t, repo.UpdateMetadata(ctx, msg.ID, "confirm-1"))

	found, err := repo.FindByConfirmationMessageIDForSender(ctx, "from", "confirm-1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, msg.ID, found.ID)

	_, err = repo.Cancel(ctx, msg.ID)
	require.NoError(t, err)

	_, err = repo.FindByConfirmationMessageIDForSender(ctx, "from", "confirm-1")
	assert.ErrorIs(t, err, ErrNotFound)
}
