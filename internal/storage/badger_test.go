package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tasukuchiba/chat_presence_app/internal/models"
)

func TestBadgerStorage(t *testing.T) {
	runStorageSuite(t, func(t *testing.T) Storage {
		store, err := NewBadgerStorage(t.TempDir())
		require.NoError(t, err)
		t.Cleanup(func() { _ = store.Close() })
		return store
	})
}

func TestBadgerStorage_InMemory(t *testing.T) {
	runStorageSuite(t, func(t *testing.T) Storage {
		store, err := NewInMemoryBadgerStorage()
		require.NoError(t, err)
		t.Cleanup(func() { _ = store.Close() })
		return store
	})
}

// 再起動後もデータと登録順が保たれることを確認する
func TestBadgerStorage_Reopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	base := time.Now()

	store, err := NewBadgerStorage(dir)
	require.NoError(t, err)
	// 名前のキー順と登録順が逆になるようにする
	require.NoError(t, store.InsertParticipant(ctx, participant("zoe", base)))
	require.NoError(t, store.InsertParticipant(ctx, participant("adam", base.Add(time.Second))))
	first := message("zoe", models.BroadcastTarget, models.TypeStatus, base)
	second := message("adam", models.BroadcastTarget, models.TypeStatus, base.Add(time.Second))
	require.NoError(t, store.InsertMessage(ctx, first))
	require.NoError(t, store.InsertMessage(ctx, second))
	require.NoError(t, store.Close())

	store, err = NewBadgerStorage(dir)
	require.NoError(t, err)
	defer store.Close()

	participants, err := store.ListParticipants(ctx)
	require.NoError(t, err)
	require.Len(t, participants, 2)
	assert.Equal(t, "zoe", participants[0].Name)
	assert.Equal(t, "adam", participants[1].Name)

	// 再起動後の連番は以前の値より後ろから始まる
	third := message("zoe", models.BroadcastTarget, models.TypeMessage, base)
	require.NoError(t, store.InsertMessage(ctx, third))

	messages, err := store.ListMessages(ctx, models.MessageFilter{Viewer: "someone"})
	require.NoError(t, err)
	assert.Equal(t, []string{first.ID, second.ID, third.ID}, ids(messages))
}

func TestBadgerStorage_ImplementsStorage(t *testing.T) {
	var _ Storage = (*BadgerStorage)(nil)
}
