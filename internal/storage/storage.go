//go:generate go run go.uber.org/mock/mockgen -destination=../mocks/mock_storage.go -package=mocks github.com/tasukuchiba/chat_presence_app/internal/storage Storage

package storage

import (
	"context"
	"errors"
	"time"

	"github.com/tasukuchiba/chat_presence_app/internal/models"
)

var (
	// ErrNotFound はレコードが見つからない場合のエラー
	ErrNotFound = errors.New("record not found")

	// ErrConflict は同じ名前の参加者が既に存在する場合のエラー
	ErrConflict = errors.New("record already exists")

	// ErrNotOwner はメッセージの送信者が一致しない場合のエラー
	ErrNotOwner = errors.New("record belongs to another participant")
)

// ParticipantStore は参加者コレクションのインターフェース
// 全ての操作は1レコード単位でアトミックでなければならない
type ParticipantStore interface {
	// InsertParticipant は参加者を保存する。同名の参加者が存在する場合は ErrConflict
	InsertParticipant(ctx context.Context, p models.Participant) error

	// ListParticipants は全ての参加者を登録順に取得する
	ListParticipants(ctx context.Context) ([]models.Participant, error)

	// GetParticipant は指定された名前の参加者を取得する
	GetParticipant(ctx context.Context, name string) (models.Participant, error)

	// TouchParticipant は参加者の lastSeen を seen に置き換える。存在しない場合は ErrNotFound
	TouchParticipant(ctx context.Context, name string, seen time.Time) error

	// ListStaleParticipants は lastSeen が cutoff 以前の参加者を取得する
	ListStaleParticipants(ctx context.Context, cutoff time.Time) ([]models.Participant, error)

	// DeleteStaleParticipant は lastSeen が cutoff 以前のままの場合のみ参加者を削除する
	DeleteStaleParticipant(ctx context.Context, name string, cutoff time.Time) (bool, error)
}

// MessageStore はメッセージコレクションのインターフェース
type MessageStore interface {
	// InsertMessage はメッセージを保存する
	InsertMessage(ctx context.Context, msg models.Message) error

	// ListMessages は条件に一致するメッセージを登録順に取得する
	ListMessages(ctx context.Context, filter models.MessageFilter) ([]models.Message, error)

	// GetMessage は指定されたIDのメッセージを取得する
	GetMessage(ctx context.Context, id string) (models.Message, error)

	// UpdateMessage は送信者が from の場合のみメッセージを更新し、更新後の内容を返す
	UpdateMessage(ctx context.Context, id, from string, patch models.MessagePatch) (models.Message, error)

	// DeleteMessage は送信者が from の場合のみメッセージを削除し、削除した内容を返す
	DeleteMessage(ctx context.Context, id, from string) (models.Message, error)
}

// Storage は参加者とメッセージの両コレクションを持つストレージ
type Storage interface {
	ParticipantStore
	MessageStore

	// Close は接続を閉じる
	Close() error
}

// IsPermanent はリトライしても結果が変わらないエラーかどうかを返す
func IsPermanent(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrNotOwner) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
