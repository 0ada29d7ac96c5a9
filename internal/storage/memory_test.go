package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tasukuchiba/chat_presence_app/internal/models"
)

func TestMemoryStorage(t *testing.T) {
	runStorageSuite(t, func(t *testing.T) Storage {
		return NewMemoryStorage()
	})
}

func TestMemoryStorage_ListReturnsCopy(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, store.InsertParticipant(ctx, participant("alice", now)))
	require.NoError(t, store.InsertMessage(ctx, message("alice", models.BroadcastTarget, models.TypeMessage, now)))

	participants, err := store.ListParticipants(ctx)
	require.NoError(t, err)
	participants[0].Name = "Modified"

	messages, err := store.ListMessages(ctx, models.MessageFilter{})
	require.NoError(t, err)
	messages[0].Text = "Modified"

	_, err = store.GetParticipant(ctx, "alice")
	require.NoError(t, err, "ListParticipants should return a copy, not original data")

	original, err := store.GetMessage(ctx, messages[0].ID)
	require.NoError(t, err)
	assert.NotEqual(t, "Modified", original.Text, "ListMessages should return a copy, not original data")
}

// TestMemoryStorage_ImplementsStorage はMemoryStorageがStorageインターフェースを実装していることを確認する
func TestMemoryStorage_ImplementsStorage(t *testing.T) {
	var _ Storage = (*MemoryStorage)(nil)
}
