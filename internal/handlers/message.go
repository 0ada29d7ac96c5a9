package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/tasukuchiba/chat_presence_app/internal/messaging"
	"github.com/tasukuchiba/chat_presence_app/internal/models"
)

// MessageService はメッセージの送信・閲覧・編集・削除と生存通知を提供する
type MessageService interface {
	Send(ctx context.Context, from string, in messaging.SendInput) (models.Message, error)
	List(ctx context.Context, viewer string, limit int) ([]models.Message, error)
	Delete(ctx context.Context, id, actor string) error
	Edit(ctx context.Context, id, actor string, in messaging.SendInput) (models.Message, error)
	Heartbeat(ctx context.Context, user string) error
}

// MessageHandler はメッセージ関連のHTTPリクエストを処理する
type MessageHandler struct {
	messages MessageService
	log      *slog.Logger
}

// NewMessageHandler は新しいMessageHandlerを作成する
func NewMessageHandler(s MessageService, log *slog.Logger) *MessageHandler {
	return &MessageHandler{messages: s, log: log}
}

// HandleMessages は /messages エンドポイントのハンドラー
func (h *MessageHandler) HandleMessages(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.getMessages(w, r)
	case http.MethodPost:
		h.createMessage(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleMessageByID は /messages/{id} エンドポイントのハンドラー
func (h *MessageHandler) HandleMessageByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/messages/")
	if id == "" {
		http.Error(w, "Message ID is required", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodPut:
		h.editMessage(w, r, id)
	case http.MethodDelete:
		h.deleteMessage(w, r, id)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleStatus は /status エンドポイントのハンドラー
func (h *MessageHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := h.messages.Heartbeat(r.Context(), r.Header.Get(UserHeader)); err != nil {
		writeError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// getMessages は閲覧可能なメッセージを取得する
func (h *MessageHandler) getMessages(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	limit, err := messaging.ParseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	messages, err := h.messages.List(r.Context(), user, limit)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

// createMessage は新しいメッセージを作成する
func (h *MessageHandler) createMessage(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req messaging.SendInput
	if !decodeBody(w, r, &req) {
		return
	}

	if _, err := h.messages.Send(r.Context(), user, req); err != nil {
		writeError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

// editMessage は指定されたIDのメッセージを編集する
func (h *MessageHandler) editMessage(w http.ResponseWriter, r *http.Request, id string) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req messaging.SendInput
	if !decodeBody(w, r, &req) {
		return
	}

	if _, err := h.messages.Edit(r.Context(), id, user, req); err != nil {
		writeError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// deleteMessage は指定されたIDのメッセージを削除する
func (h *MessageHandler) deleteMessage(w http.ResponseWriter, r *http.Request, id string) {
	if err := h.messages.Delete(r.Context(), id, r.Header.Get(UserHeader)); err != nil {
		writeError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}
