package models

import "time"

// BroadcastTarget は全参加者宛てを表す宛先
const BroadcastTarget = "Todos"

// TimeLayout はメッセージの時刻表示フォーマット（HH:MM:SS）
const TimeLayout = "15:04:05"

// MessageType はメッセージの種別
type MessageType string

const (
	TypeMessage        MessageType = "message"
	TypePrivateMessage MessageType = "private_message"
	TypeStatus         MessageType = "status"
	TypePublic         MessageType = "public"
)

// Known は定義済みの種別かどうかを返す
func (t MessageType) Known() bool {
	switch t {
	case TypeMessage, TypePrivateMessage, TypeStatus, TypePublic:
		return true
	default:
		return false
	}
}

// UserSendable はユーザーが送信・編集で指定できる種別かどうかを返す
// status はシステム専用、public は既存データの読み取りのみ
func (t MessageType) UserSendable() bool {
	switch t {
	case TypeMessage, TypePrivateMessage:
		return true
	case TypeStatus, TypePublic:
		return false
	default:
		return false
	}
}

// Message はチャットメッセージを表す構造体
type Message struct {
	ID        string      `json:"id"`
	From      string      `json:"from"`
	To        string      `json:"to"`
	Text      string      `json:"text"`
	Type      MessageType `json:"type"`
	Time      string      `json:"time"`
	CreatedAt time.Time   `json:"-"`
}

// VisibleTo は viewer がこのメッセージを閲覧できるかどうかを返す
func (m Message) VisibleTo(viewer string) bool {
	switch m.Type {
	case TypePublic:
		return true
	case TypeMessage, TypePrivateMessage, TypeStatus:
		return m.addressedTo(viewer)
	default:
		return m.addressedTo(viewer)
	}
}

func (m Message) addressedTo(viewer string) bool {
	return m.To == BroadcastTarget || m.To == viewer || m.From == viewer
}

// MessagePatch は編集可能なフィールド
type MessagePatch struct {
	To   string
	Text string
	Type MessageType
}

// Apply はパッチを適用したコピーを返す。From と Time は変更しない
func (m Message) Apply(p MessagePatch) Message {
	m.To = p.To
	m.Text = p.Text
	m.Type = p.Type
	return m
}

// MessageFilter はメッセージ一覧の取得条件
type MessageFilter struct {
	// Viewer が空の場合は全件
	Viewer string
	// Limit が0以下の場合は無制限
	Limit int
}

// Matches はフィルタ条件に一致するかどうかを返す
func (f MessageFilter) Matches(m Message) bool {
	if f.Viewer == "" {
		return true
	}
	return m.VisibleTo(f.Viewer)
}
