package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/tasukuchiba/chat_presence_app/internal/models"
)

// ParticipantService は参加者の登録と一覧を提供する
type ParticipantService interface {
	Join(ctx context.Context, name string) error
	List(ctx context.Context) ([]models.Participant, error)
}

// ParticipantHandler は参加者関連のHTTPリクエストを処理する
type ParticipantHandler struct {
	participants ParticipantService
	log          *slog.Logger
}

// NewParticipantHandler は新しいParticipantHandlerを作成する
func NewParticipantHandler(s ParticipantService, log *slog.Logger) *ParticipantHandler {
	return &ParticipantHandler{participants: s, log: log}
}

// JoinRequest は参加リクエストのボディ
type JoinRequest struct {
	Name string `json:"name"`
}

// HandleParticipants は /participants エンドポイントのハンドラー
func (h *ParticipantHandler) HandleParticipants(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listParticipants(w, r)
	case http.MethodPost:
		h.join(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *ParticipantHandler) listParticipants(w http.ResponseWriter, r *http.Request) {
	participants, err := h.participants.List(r.Context())
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, participants)
}

func (h *ParticipantHandler) join(w http.ResponseWriter, r *http.Request) {
	var req JoinRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.participants.Join(r.Context(), req.Name); err != nil {
		writeError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}
