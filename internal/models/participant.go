package models

import "time"

// Participant はチャットの参加者を表す構造体
type Participant struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	LastSeen time.Time `json:"lastSeen"`
}

// StaleAt は cutoff 時点で期限切れかどうかを返す
func (p Participant) StaleAt(cutoff time.Time) bool {
	return !p.LastSeen.After(cutoff)
}
