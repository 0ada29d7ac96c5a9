package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/tasukuchiba/chat_presence_app/internal/models"
	"github.com/tasukuchiba/chat_presence_app/internal/presence"
	"github.com/tasukuchiba/chat_presence_app/internal/storage"
	"github.com/tasukuchiba/chat_presence_app/internal/validation"
)

var (
	// ErrSenderUnknown は送信者が登録されていない場合のエラー
	ErrSenderUnknown = errors.New("sender is not a registered participant")

	// ErrMessageNotFound はメッセージが見つからない場合のエラー
	ErrMessageNotFound = errors.New("message not found")

	// ErrNotOwner はメッセージの送信者以外が変更しようとした場合のエラー
	ErrNotOwner = errors.New("message belongs to another participant")

	// ErrInvalidLimit は limit が正の整数でない場合のエラー
	ErrInvalidLimit = errors.New("limit must be a positive integer")
)

// Directory は参加者の存在確認と生存通知を提供する
type Directory interface {
	Lookup(ctx context.Context, name string) (models.Participant, error)
	Heartbeat(ctx context.Context, name string) error
}

// SendInput はユーザーが送信・編集するメッセージの内容
type SendInput struct {
	To   string             `json:"to" validate:"required,max=255"`
	Text string             `json:"text" validate:"required"`
	Type models.MessageType `json:"type" validate:"required,oneof=message private_message"`
}

// Router はメッセージの作成・閲覧・編集・削除を扱う
type Router struct {
	store     storage.MessageStore
	directory Directory
	publisher Publisher
	clock     clockwork.Clock
	log       *slog.Logger
}

// NewRouter は新しいRouterを作成する
func NewRouter(store storage.MessageStore, directory Directory, publisher Publisher, clock clockwork.Clock, log *slog.Logger) *Router {
	if publisher == nil {
		publisher = NopPublisher{}
	}
	return &Router{
		store:     store,
		directory: directory,
		publisher: publisher,
		clock:     clock,
		log:       log,
	}
}

// Send はユーザーのメッセージを作成する
func (r *Router) Send(ctx context.Context, from string, in SendInput) (models.Message, error) {
	if from == "" {
		return models.Message{}, presence.ErrIdentityRequired
	}
	in, err := normalize(in)
	if err != nil {
		return models.Message{}, err
	}
	if err := r.requireParticipant(ctx, from); err != nil {
		return models.Message{}, err
	}
	return r.create(ctx, from, in.To, in.Text, in.Type)
}

// requireParticipant は user が現在の参加者であることを確認する
func (r *Router) requireParticipant(ctx context.Context, user string) error {
	if _, err := r.directory.Lookup(ctx, user); err != nil {
		if errors.Is(err, presence.ErrParticipantNotFound) {
			return ErrSenderUnknown
		}
		return err
	}
	return nil
}

// Announce はシステムのステータスメッセージを全員宛てに作成する
func (r *Router) Announce(ctx context.Context, from, text string) error {
	_, err := r.create(ctx, from, models.BroadcastTarget, text, models.TypeStatus)
	return err
}

func (r *Router) create(ctx context.Context, from, to, text string, msgType models.MessageType) (models.Message, error) {
	now := r.clock.Now()
	msg := models.Message{
		ID:        uuid.NewString(),
		From:      from,
		To:        to,
		Text:      text,
		Type:      msgType,
		Time:      now.Format(models.TimeLayout),
		CreatedAt: now,
	}
	if err := r.store.InsertMessage(ctx, msg); err != nil {
		return models.Message{}, fmt.Errorf("%w: %w", presence.ErrStoreUnavailable, err)
	}

	r.log.Debug("Message created", "id", msg.ID, "from", msg.From, "to", msg.To, "type", msg.Type)
	r.publisher.Publish(Event{Kind: EventCreated, Message: msg})
	return msg, nil
}

// ParseLimit はクエリ文字列の limit を解釈する。空の場合は0（無制限）
func ParseLimit(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, ErrInvalidLimit
	}
	return limit, nil
}

// List は viewer が閲覧できるメッセージを古い順に最大 limit 件返す
func (r *Router) List(ctx context.Context, viewer string, limit int) ([]models.Message, error) {
	if viewer == "" {
		return nil, presence.ErrIdentityRequired
	}
	if limit < 0 {
		return nil, ErrInvalidLimit
	}
	messages, err := r.store.ListMessages(ctx, models.MessageFilter{Viewer: viewer, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", presence.ErrStoreUnavailable, err)
	}
	return messages, nil
}

// Delete は送信者本人の場合のみメッセージを削除する
func (r *Router) Delete(ctx context.Context, id, actor string) error {
	msg, err := r.store.DeleteMessage(ctx, id, actor)
	if err != nil {
		return mapStoreError(err)
	}

	r.log.Debug("Message deleted", "id", id, "user", actor)
	r.publisher.Publish(Event{Kind: EventDeleted, Message: msg})
	return nil
}

// Edit は送信者本人の場合のみメッセージの宛先・本文・種別を更新する
// 削除済みの参加者は自分のメッセージでも編集できない
func (r *Router) Edit(ctx context.Context, id, actor string, in SendInput) (models.Message, error) {
	if actor == "" {
		return models.Message{}, presence.ErrIdentityRequired
	}
	in, err := normalize(in)
	if err != nil {
		return models.Message{}, err
	}
	if err := r.requireParticipant(ctx, actor); err != nil {
		return models.Message{}, err
	}
	msg, err := r.store.UpdateMessage(ctx, id, actor, models.MessagePatch{
		To:   in.To,
		Text: in.Text,
		Type: in.Type,
	})
	if err != nil {
		return models.Message{}, mapStoreError(err)
	}

	r.log.Debug("Message edited", "id", id, "user", actor)
	r.publisher.Publish(Event{Kind: EventUpdated, Message: msg})
	return msg, nil
}

// Heartbeat は参加者の生存を通知する
func (r *Router) Heartbeat(ctx context.Context, user string) error {
	if user == "" {
		return presence.ErrIdentityRequired
	}
	return r.directory.Heartbeat(ctx, user)
}

func normalize(in SendInput) (SendInput, error) {
	in.To = validation.Sanitize(in.To)
	in.Text = validation.Sanitize(in.Text)
	if err := validation.Struct(in); err != nil {
		return SendInput{}, err
	}
	if !in.Type.UserSendable() {
		return SendInput{}, validation.NewError("type", "must be one of: message private_message")
	}
	return in, nil
}

func mapStoreError(err error) error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return ErrMessageNotFound
	case errors.Is(err, storage.ErrNotOwner):
		return ErrNotOwner
	default:
		return fmt.Errorf("%w: %w", presence.ErrStoreUnavailable, err)
	}
}
