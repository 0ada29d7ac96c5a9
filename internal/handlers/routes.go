package handlers

import "net/http"

// Register は参加者・メッセージ・ステータスのルーティングを mux に登録する
func Register(mux *http.ServeMux, p *ParticipantHandler, m *MessageHandler) {
	mux.HandleFunc("/participants", p.HandleParticipants)
	mux.HandleFunc("/messages", m.HandleMessages)
	mux.HandleFunc("/messages/", m.HandleMessageByID)
	mux.HandleFunc("/status", m.HandleStatus)
}
