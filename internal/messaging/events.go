package messaging

import "github.com/tasukuchiba/chat_presence_app/internal/models"

// EventKind はメッセージの変更種別
type EventKind string

const (
	EventCreated EventKind = "message.created"
	EventUpdated EventKind = "message.updated"
	EventDeleted EventKind = "message.deleted"
)

// Event はメッセージの変更通知
type Event struct {
	Kind    EventKind      `json:"event"`
	Message models.Message `json:"message"`
}

// Publisher はメッセージの変更通知を受け取る
// Publish はブロックしてはならない
type Publisher interface {
	Publish(e Event)
}

// NopPublisher は通知を破棄する
type NopPublisher struct{}

func (NopPublisher) Publish(Event) {}
