package presence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/tasukuchiba/chat_presence_app/internal/models"
	"github.com/tasukuchiba/chat_presence_app/internal/storage"
	"github.com/tasukuchiba/chat_presence_app/internal/validation"
)

const (
	JoinText  = "entra na sala..."
	LeaveText = "sai da sala..."
)

var (
	// ErrNameTaken は同じ名前の参加者が既に存在する場合のエラー
	ErrNameTaken = errors.New("participant name already taken")

	// ErrParticipantNotFound は参加者が見つからない場合のエラー
	ErrParticipantNotFound = errors.New("participant not found")

	// ErrIdentityRequired は呼び出し元の名前が指定されていない場合のエラー
	ErrIdentityRequired = errors.New("identity required")

	// ErrStoreUnavailable はストレージへのアクセスに失敗した場合のエラー
	ErrStoreUnavailable = errors.New("store unavailable")
)

// Announcer は入退室のステータスメッセージを発行する
type Announcer interface {
	Announce(ctx context.Context, from, text string) error
}

// Registry は参加者の登録・生存確認・期限切れ削除を管理する
type Registry struct {
	store     storage.ParticipantStore
	clock     clockwork.Clock
	log       *slog.Logger
	announcer Announcer
}

type joinInput struct {
	Name string `json:"name" validate:"required,max=255"`
}

// NewRegistry は新しいRegistryを作成する
func NewRegistry(store storage.ParticipantStore, clock clockwork.Clock, log *slog.Logger) *Registry {
	return &Registry{store: store, clock: clock, log: log}
}

// SetAnnouncer はステータスメッセージの発行先を設定する
// サーバーの起動前に呼び出すこと
func (r *Registry) SetAnnouncer(a Announcer) {
	r.announcer = a
}

// Join は参加者を登録し、入室メッセージを発行する
func (r *Registry) Join(ctx context.Context, name string) error {
	input := joinInput{Name: validation.Sanitize(name)}
	if err := validation.Struct(input); err != nil {
		return err
	}

	p := models.Participant{
		ID:       uuid.NewString(),
		Name:     input.Name,
		LastSeen: r.clock.Now(),
	}
	if err := r.store.InsertParticipant(ctx, p); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return ErrNameTaken
		}
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	r.log.Info("Participant joined", "name", p.Name)
	r.announce(ctx, p.Name, JoinText)
	return nil
}

// List は全ての参加者を登録順に返す
func (r *Registry) List(ctx context.Context) ([]models.Participant, error) {
	participants, err := r.store.ListParticipants(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return participants, nil
}

// Lookup は指定された名前の参加者を返す
func (r *Registry) Lookup(ctx context.Context, name string) (models.Participant, error) {
	p, err := r.store.GetParticipant(ctx, name)
	if errors.Is(err, storage.ErrNotFound) {
		return models.Participant{}, ErrParticipantNotFound
	}
	if err != nil {
		return models.Participant{}, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return p, nil
}

// Heartbeat は参加者の lastSeen を現在時刻に更新する
func (r *Registry) Heartbeat(ctx context.Context, name string) error {
	if name == "" {
		return ErrIdentityRequired
	}
	err := r.store.TouchParticipant(ctx, name, r.clock.Now())
	if errors.Is(err, storage.ErrNotFound) {
		return ErrParticipantNotFound
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return nil
}

// Sweep は staleAfter 以上 heartbeat のない参加者を削除し、削除した名前を返す
// エラーはログに記録し、次回の実行に任せる
func (r *Registry) Sweep(ctx context.Context, staleAfter time.Duration) []string {
	cutoff := r.clock.Now().Add(-staleAfter)
	stale, err := r.store.ListStaleParticipants(ctx, cutoff)
	if err != nil {
		r.log.Error("Failed to list stale participants", "err", err)
		return nil
	}

	var evicted []string
	for _, p := range stale {
		deleted, err := r.store.DeleteStaleParticipant(ctx, p.Name, cutoff)
		if err != nil {
			r.log.Error("Failed to evict participant", "name", p.Name, "err", err)
			continue
		}
		if !deleted {
			r.log.Debug("Participant refreshed before eviction", "name", p.Name)
			continue
		}
		r.log.Info("Participant evicted", "name", p.Name, "lastSeen", p.LastSeen)
		r.announce(ctx, p.Name, LeaveText)
		evicted = append(evicted, p.Name)
	}
	return evicted
}

func (r *Registry) announce(ctx context.Context, name, text string) {
	if r.announcer == nil {
		return
	}
	if err := r.announcer.Announce(ctx, name, text); err != nil {
		r.log.Error("Failed to announce status", "name", name, "text", text, "err", err)
	}
}
