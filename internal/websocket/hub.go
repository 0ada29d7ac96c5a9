package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/samber/lo"
	"github.com/tasukuchiba/chat_presence_app/internal/messaging"
	"github.com/tasukuchiba/chat_presence_app/internal/models"
)

// Presence は接続時の参加者確認とソケット経由の生存通知を提供する
type Presence interface {
	Lookup(ctx context.Context, name string) (models.Participant, error)
	Heartbeat(ctx context.Context, name string) error
}

// Hub は全WebSocketクライアントの接続を管理する
type Hub struct {
	// 接続中のクライアント
	clients map[*Client]bool
	mu      sync.RWMutex

	// 配信待ちのイベント
	events chan messaging.Event

	// クライアント登録用チャネル
	register chan *Client

	// クライアント登録解除用チャネル
	unregister chan *Client

	// Run の終了通知
	done chan struct{}

	presence Presence
	log      *slog.Logger
}

// IncomingMessage はクライアントから受信するメッセージの形式
type IncomingMessage struct {
	Type string `json:"type"`
}

// NewHub は新しいHubを作成する
func NewHub(presence Presence, log *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		events:     make(chan messaging.Event, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		presence:   presence,
		log:        log,
	}
}

// Run はHubのメインループを開始する。ctx がキャンセルされると全クライアントを切断する
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.log.Debug("Client registered", "user", client.user, "total", h.ClientCount())

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			h.log.Debug("Client unregistered", "user", client.user, "total", h.ClientCount())

		case event := <-h.events:
			h.deliver(event)
		}
	}
}

// Publish はイベントを配信キューに積む。キューが一杯の場合は破棄する
func (h *Hub) Publish(e messaging.Event) {
	select {
	case h.events <- e:
	default:
		h.log.Warn("Live feed backlog full, dropping event", "event", e.Kind, "id", e.Message.ID)
	}
}

// deliver はメッセージを閲覧できるクライアントにのみイベントを送る
func (h *Hub) deliver(e messaging.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		h.log.Error("Failed to encode event", "id", e.Message.ID, "err", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	recipients := lo.Filter(lo.Keys(h.clients), func(c *Client, _ int) bool {
		return e.Message.VisibleTo(c.user)
	})
	for _, client := range recipients {
		select {
		case client.send <- data:
		default:
			close(client.send)
			delete(h.clients, client)
		}
	}
}

func (h *Hub) add(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		close(c.send)
	}
}

func (h *Hub) remove(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// ClientCount は接続中のクライアント数を返す
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
