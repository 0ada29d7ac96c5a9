package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/tasukuchiba/chat_presence_app/internal/messaging"
	"github.com/tasukuchiba/chat_presence_app/internal/presence"
	"github.com/tasukuchiba/chat_presence_app/internal/validation"
)

// UserHeader は呼び出し元の参加者名を渡すヘッダー
const UserHeader = "User"

// ErrorResponse はエラー時のレスポンスボディ
type ErrorResponse struct {
	Error   string            `json:"error"`
	Details map[string]string `json:"details,omitempty"`
}

// writeJSON はJSONレスポンスを書き込む
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError はドメインのエラーをステータスコードに変換して書き込む
func writeError(w http.ResponseWriter, log *slog.Logger, err error) {
	var verr *validation.Error
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{Error: "Invalid request", Details: verr.Fields})
	case errors.Is(err, presence.ErrNameTaken):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: "Participant name already taken"})
	case errors.Is(err, messaging.ErrSenderUnknown):
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:   "Sender is not a registered participant",
			Details: map[string]string{UserHeader: "is not a registered participant"},
		})
	case errors.Is(err, messaging.ErrInvalidLimit):
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:   "Invalid limit",
			Details: map[string]string{"limit": "must be a positive integer"},
		})
	case errors.Is(err, messaging.ErrMessageNotFound):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "Message not found"})
	case errors.Is(err, messaging.ErrNotOwner):
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "Message belongs to another participant"})
	case errors.Is(err, presence.ErrIdentityRequired):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "User header is required"})
	case errors.Is(err, presence.ErrParticipantNotFound):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "Participant not found"})
	default:
		log.Error("Request failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "Internal server error"})
	}
}

// requireUser は User ヘッダーを取得する。空の場合は422を返す
func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	user := r.Header.Get(UserHeader)
	if user == "" {
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:   "Invalid request",
			Details: map[string]string{UserHeader: "header is required"},
		})
		return "", false
	}
	return user, true
}

// decodeBody はリクエストボディをデコードする。失敗した場合は400を返す
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Invalid request body"})
		return false
	}
	return true
}
