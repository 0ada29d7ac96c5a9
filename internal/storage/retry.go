package storage

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/tasukuchiba/chat_presence_app/internal/models"
)

// Retrying は一時的なストレージエラーを指数バックオフで再試行するデコレータ
// ErrNotFound などの結果を表すエラーは再試行しない
// 応答だけが失われたときに結果が変わる操作（InsertMessage, DeleteMessage, DeleteStaleParticipant）は再試行しない
type Retrying struct {
	next       Storage
	maxRetries uint64
	interval   time.Duration
	log        *slog.Logger
}

// NewRetrying は next を包む Retrying を作成する
func NewRetrying(next Storage, maxRetries uint64, log *slog.Logger) *Retrying {
	return &Retrying{
		next:       next,
		maxRetries: maxRetries,
		interval:   50 * time.Millisecond,
		log:        log,
	}
}

func (r *Retrying) do(ctx context.Context, op string, fn func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.interval
	policy.MaxElapsedTime = 0

	attempt := 0
	return backoff.RetryNotify(func() error {
		attempt++
		err := fn()
		if err != nil && IsPermanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(policy, r.maxRetries), ctx), func(err error, wait time.Duration) {
		r.log.Warn("Store operation failed, retrying",
			"op", op, "attempt", attempt, "wait", wait, "err", err)
	})
}

// InsertParticipant は再試行時の ErrConflict が自分自身の登録によるものなら成功として扱う
func (r *Retrying) InsertParticipant(ctx context.Context, p models.Participant) error {
	retried := false
	return r.do(ctx, "InsertParticipant", func() error {
		err := r.next.InsertParticipant(ctx, p)
		if retried && errors.Is(err, ErrConflict) {
			if existing, getErr := r.next.GetParticipant(ctx, p.Name); getErr == nil && existing.ID == p.ID {
				return nil
			}
		}
		retried = true
		return err
	})
}

func (r *Retrying) ListParticipants(ctx context.Context) ([]models.Participant, error) {
	var result []models.Participant
	err := r.do(ctx, "ListParticipants", func() (err error) {
		result, err = r.next.ListParticipants(ctx)
		return err
	})
	return result, err
}

func (r *Retrying) GetParticipant(ctx context.Context, name string) (models.Participant, error) {
	var result models.Participant
	err := r.do(ctx, "GetParticipant", func() (err error) {
		result, err = r.next.GetParticipant(ctx, name)
		return err
	})
	return result, err
}

func (r *Retrying) TouchParticipant(ctx context.Context, name string, seen time.Time) error {
	return r.do(ctx, "TouchParticipant", func() error {
		return r.next.TouchParticipant(ctx, name, seen)
	})
}

func (r *Retrying) ListStaleParticipants(ctx context.Context, cutoff time.Time) ([]models.Participant, error) {
	var result []models.Participant
	err := r.do(ctx, "ListStaleParticipants", func() (err error) {
		result, err = r.next.ListStaleParticipants(ctx, cutoff)
		return err
	})
	return result, err
}

// DeleteStaleParticipant は再試行しない（失敗した参加者は次回の Sweep で再度対象になる）
func (r *Retrying) DeleteStaleParticipant(ctx context.Context, name string, cutoff time.Time) (bool, error) {
	return r.next.DeleteStaleParticipant(ctx, name, cutoff)
}

// InsertMessage は再試行しない（応答だけが失われた場合に二重登録になる）
func (r *Retrying) InsertMessage(ctx context.Context, msg models.Message) error {
	return r.next.InsertMessage(ctx, msg)
}

func (r *Retrying) ListMessages(ctx context.Context, filter models.MessageFilter) ([]models.Message, error) {
	var result []models.Message
	err := r.do(ctx, "ListMessages", func() (err error) {
		result, err = r.next.ListMessages(ctx, filter)
		return err
	})
	return result, err
}

func (r *Retrying) GetMessage(ctx context.Context, id string) (models.Message, error) {
	var result models.Message
	err := r.do(ctx, "GetMessage", func() (err error) {
		result, err = r.next.GetMessage(ctx, id)
		return err
	})
	return result, err
}

func (r *Retrying) UpdateMessage(ctx context.Context, id, from string, patch models.MessagePatch) (models.Message, error) {
	var result models.Message
	err := r.do(ctx, "UpdateMessage", func() (err error) {
		result, err = r.next.UpdateMessage(ctx, id, from, patch)
		return err
	})
	return result, err
}

// DeleteMessage は再試行しない（応答だけが失われた場合に ErrNotFound になる）
func (r *Retrying) DeleteMessage(ctx context.Context, id, from string) (models.Message, error) {
	return r.next.DeleteMessage(ctx, id, from)
}

func (r *Retrying) Close() error {
	return r.next.Close()
}
