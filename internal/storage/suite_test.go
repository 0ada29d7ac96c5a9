package storage

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tasukuchiba/chat_presence_app/internal/models"
)

// runStorageSuite は全てのバックエンドに共通の振る舞いを検証する
func runStorageSuite(t *testing.T, newStore func(t *testing.T) Storage) {
	base := time.Now().Truncate(time.Millisecond)

	t.Run("InsertParticipant_RejectsDuplicateName", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		require.NoError(t, store.InsertParticipant(ctx, participant("alice", base)))
		require.NoError(t, store.InsertParticipant(ctx, participant("bob", base.Add(time.Second))))

		err := store.InsertParticipant(ctx, participant("alice", base.Add(2*time.Second)))
		require.ErrorIs(t, err, ErrConflict)

		participants, err := store.ListParticipants(ctx)
		require.NoError(t, err)
		require.Len(t, participants, 2)
		assert.Equal(t, "alice", participants[0].Name)
		assert.Equal(t, "bob", participants[1].Name)
	})

	t.Run("InsertParticipant_NamesAreCaseSensitive", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		require.NoError(t, store.InsertParticipant(ctx, participant("alice", base)))
		require.NoError(t, store.InsertParticipant(ctx, participant("Alice", base.Add(time.Second))))
	})

	t.Run("GetParticipant", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		require.NoError(t, store.InsertParticipant(ctx, participant("alice", base)))

		p, err := store.GetParticipant(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, "alice", p.Name)
		assert.True(t, p.LastSeen.Equal(base))

		_, err = store.GetParticipant(ctx, "nobody")
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("TouchParticipant", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		original := participant("alice", base)
		require.NoError(t, store.InsertParticipant(ctx, original))

		later := base.Add(5 * time.Second)
		require.NoError(t, store.TouchParticipant(ctx, "alice", later))
		require.NoError(t, store.TouchParticipant(ctx, "alice", later))

		p, err := store.GetParticipant(ctx, "alice")
		require.NoError(t, err)
		assert.True(t, p.LastSeen.Equal(later))
		assert.Equal(t, original.ID, p.ID)

		participants, err := store.ListParticipants(ctx)
		require.NoError(t, err)
		assert.Len(t, participants, 1)

		require.ErrorIs(t, store.TouchParticipant(ctx, "nobody", later), ErrNotFound)
	})

	t.Run("StaleParticipants", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		require.NoError(t, store.InsertParticipant(ctx, participant("alice", base)))
		require.NoError(t, store.InsertParticipant(ctx, participant("bob", base.Add(20*time.Second))))
		cutoff := base.Add(10 * time.Second)

		stale, err := store.ListStaleParticipants(ctx, cutoff)
		require.NoError(t, err)
		require.Len(t, stale, 1)
		assert.Equal(t, "alice", stale[0].Name)

		deleted, err := store.DeleteStaleParticipant(ctx, "bob", cutoff)
		require.NoError(t, err)
		assert.False(t, deleted)

		deleted, err = store.DeleteStaleParticipant(ctx, "alice", cutoff)
		require.NoError(t, err)
		assert.True(t, deleted)

		deleted, err = store.DeleteStaleParticipant(ctx, "alice", cutoff)
		require.NoError(t, err)
		assert.False(t, deleted)

		participants, err := store.ListParticipants(ctx)
		require.NoError(t, err)
		require.Len(t, participants, 1)
		assert.Equal(t, "bob", participants[0].Name)
	})

	t.Run("StaleParticipants_BoundaryIsInclusive", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		require.NoError(t, store.InsertParticipant(ctx, participant("alice", base)))

		stale, err := store.ListStaleParticipants(ctx, base)
		require.NoError(t, err)
		assert.Len(t, stale, 1)
	})

	t.Run("DeleteStaleParticipant_KeepsRefreshedParticipant", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		require.NoError(t, store.InsertParticipant(ctx, participant("alice", base)))
		cutoff := base.Add(10 * time.Second)

		stale, err := store.ListStaleParticipants(ctx, cutoff)
		require.NoError(t, err)
		require.Len(t, stale, 1)

		// スナップショット取得後に heartbeat が届いた場合
		require.NoError(t, store.TouchParticipant(ctx, "alice", base.Add(11*time.Second)))

		deleted, err := store.DeleteStaleParticipant(ctx, "alice", cutoff)
		require.NoError(t, err)
		assert.False(t, deleted)

		_, err = store.GetParticipant(ctx, "alice")
		require.NoError(t, err)
	})

	t.Run("ListMessages_Visibility", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		fixtures := []models.Message{
			message("alice", models.BroadcastTarget, models.TypeStatus, base),
			message("alice", "bob", models.TypePrivateMessage, base.Add(1*time.Second)),
			message("carol", "alice", models.TypeMessage, base.Add(2*time.Second)),
			message("dave", "erin", models.TypePublic, base.Add(3*time.Second)),
			message("bob", "carol", models.TypePrivateMessage, base.Add(4*time.Second)),
		}
		for _, msg := range fixtures {
			require.NoError(t, store.InsertMessage(ctx, msg))
		}

		cases := map[string][]string{
			"bob":   {fixtures[0].ID, fixtures[1].ID, fixtures[3].ID, fixtures[4].ID},
			"carol": {fixtures[0].ID, fixtures[2].ID, fixtures[3].ID, fixtures[4].ID},
			"frank": {fixtures[0].ID, fixtures[3].ID},
			"":      {fixtures[0].ID, fixtures[1].ID, fixtures[2].ID, fixtures[3].ID, fixtures[4].ID},
		}
		for viewer, want := range cases {
			got, err := store.ListMessages(ctx, models.MessageFilter{Viewer: viewer})
			require.NoError(t, err)
			assert.Equal(t, want, ids(got), "viewer %q", viewer)
		}
	})

	t.Run("ListMessages_Limit", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		var inserted []models.Message
		for i := 0; i < 5; i++ {
			msg := message("alice", models.BroadcastTarget, models.TypeMessage, base.Add(time.Duration(i)*time.Second))
			require.NoError(t, store.InsertMessage(ctx, msg))
			inserted = append(inserted, msg)
		}

		got, err := store.ListMessages(ctx, models.MessageFilter{Viewer: "bob", Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, ids(inserted[:2]), ids(got))
	})

	t.Run("ListMessages_SameInstantKeepsInsertionOrder", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		var inserted []models.Message
		for i := 0; i < 10; i++ {
			msg := message("alice", models.BroadcastTarget, models.TypeMessage, base)
			require.NoError(t, store.InsertMessage(ctx, msg))
			inserted = append(inserted, msg)
		}

		got, err := store.ListMessages(ctx, models.MessageFilter{Viewer: "bob", Limit: 3})
		require.NoError(t, err)
		assert.Equal(t, ids(inserted[:3]), ids(got))

		got, err = store.ListMessages(ctx, models.MessageFilter{Viewer: "bob"})
		require.NoError(t, err)
		assert.Equal(t, ids(inserted), ids(got))
	})

	t.Run("ListMessages_ClockStepBackKeepsInsertionOrder", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		first := message("alice", models.BroadcastTarget, models.TypeMessage, base.Add(time.Minute))
		second := message("alice", models.BroadcastTarget, models.TypeMessage, base)
		require.NoError(t, store.InsertMessage(ctx, first))
		require.NoError(t, store.InsertMessage(ctx, second))

		got, err := store.ListMessages(ctx, models.MessageFilter{Viewer: "bob", Limit: 1})
		require.NoError(t, err)
		assert.Equal(t, []string{first.ID}, ids(got))
	})

	t.Run("ListParticipants_SameInstantKeepsJoinOrder", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		names := []string{"zoe", "adam", "mia", "bob", "lee"}
		for _, name := range names {
			require.NoError(t, store.InsertParticipant(ctx, participant(name, base)))
		}

		participants, err := store.ListParticipants(ctx)
		require.NoError(t, err)
		got := make([]string, 0, len(participants))
		for _, p := range participants {
			got = append(got, p.Name)
		}
		assert.Equal(t, names, got)
	})

	t.Run("ListMessages_EmptyIsNotNil", func(t *testing.T) {
		store := newStore(t)
		got, err := store.ListMessages(context.Background(), models.MessageFilter{Viewer: "bob"})
		require.NoError(t, err)
		assert.NotNil(t, got)
		assert.Empty(t, got)
	})

	t.Run("GetMessage", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		msg := message("alice", "bob", models.TypeMessage, base)
		require.NoError(t, store.InsertMessage(ctx, msg))

		got, err := store.GetMessage(ctx, msg.ID)
		require.NoError(t, err)
		assert.Equal(t, msg.From, got.From)
		assert.Equal(t, msg.Text, got.Text)
		assert.Equal(t, msg.Time, got.Time)

		_, err = store.GetMessage(ctx, uuid.NewString())
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("UpdateMessage_OwnerOnly", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		msg := message("alice", "bob", models.TypeMessage, base)
		require.NoError(t, store.InsertMessage(ctx, msg))
		patch := models.MessagePatch{To: models.BroadcastTarget, Text: "edited", Type: models.TypePrivateMessage}

		_, err := store.UpdateMessage(ctx, msg.ID, "bob", patch)
		require.ErrorIs(t, err, ErrNotOwner)

		_, err = store.UpdateMessage(ctx, uuid.NewString(), "alice", patch)
		require.ErrorIs(t, err, ErrNotFound)

		updated, err := store.UpdateMessage(ctx, msg.ID, "alice", patch)
		require.NoError(t, err)
		assert.Equal(t, "alice", updated.From)
		assert.Equal(t, msg.Time, updated.Time)
		assert.Equal(t, "edited", updated.Text)

		got, err := store.GetMessage(ctx, msg.ID)
		require.NoError(t, err)
		assert.Equal(t, models.BroadcastTarget, got.To)
		assert.Equal(t, models.TypePrivateMessage, got.Type)
		assert.Equal(t, msg.Time, got.Time)
	})

	t.Run("DeleteMessage_OwnerOnly", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		msg := message("alice", "bob", models.TypeMessage, base)
		require.NoError(t, store.InsertMessage(ctx, msg))

		_, err := store.DeleteMessage(ctx, msg.ID, "bob")
		require.ErrorIs(t, err, ErrNotOwner)

		got, err := store.GetMessage(ctx, msg.ID)
		require.NoError(t, err)
		assert.Equal(t, msg.Text, got.Text)

		deleted, err := store.DeleteMessage(ctx, msg.ID, "alice")
		require.NoError(t, err)
		assert.Equal(t, msg.ID, deleted.ID)

		_, err = store.GetMessage(ctx, msg.ID)
		require.ErrorIs(t, err, ErrNotFound)

		_, err = store.DeleteMessage(ctx, msg.ID, "alice")
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func participant(name string, seen time.Time) models.Participant {
	return models.Participant{ID: uuid.NewString(), Name: name, LastSeen: seen}
}

func message(from, to string, msgType models.MessageType, at time.Time) models.Message {
	return models.Message{
		ID:        uuid.NewString(),
		From:      from,
		To:        to,
		Text:      "hello from " + from,
		Type:      msgType,
		Time:      at.Format(models.TimeLayout),
		CreatedAt: at,
	}
}

func ids(messages []models.Message) []string {
	result := make([]string, 0, len(messages))
	for _, m := range messages {
		result = append(result, m.ID)
	}
	return result
}
