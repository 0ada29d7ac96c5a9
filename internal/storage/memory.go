package storage

import (
	"context"
	"sync"
	"time"

	"github.com/samber/lo"
	"github.com/tasukuchiba/chat_presence_app/internal/models"
)

// MemoryStorage は参加者とメッセージをメモリ上に保存するストレージ
// ロックは1操作の間だけ保持する
type MemoryStorage struct {
	mu           sync.RWMutex
	participants []models.Participant
	messages     []models.Message
}

// NewMemoryStorage は新しいMemoryStorageを作成する
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		participants: make([]models.Participant, 0),
		messages:     make([]models.Message, 0),
	}
}

// InsertParticipant は参加者を保存する
func (s *MemoryStorage) InsertParticipant(_ context.Context, p models.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.participantIndex(p.Name); ok {
		return ErrConflict
	}
	s.participants = append(s.participants, p)
	return nil
}

// ListParticipants は全ての参加者を取得する
func (s *MemoryStorage) ListParticipants(_ context.Context) ([]models.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]models.Participant, len(s.participants))
	copy(result, s.participants)
	return result, nil
}

// GetParticipant は指定された名前の参加者を取得する
func (s *MemoryStorage) GetParticipant(_ context.Context, name string) (models.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.participantIndex(name)
	if !ok {
		return models.Participant{}, ErrNotFound
	}
	return s.participants[i], nil
}

// TouchParticipant は参加者の lastSeen を更新する
func (s *MemoryStorage) TouchParticipant(_ context.Context, name string, seen time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.participantIndex(name)
	if !ok {
		return ErrNotFound
	}
	updated := s.participants[i]
	updated.LastSeen = seen
	s.participants[i] = updated
	return nil
}

// ListStaleParticipants は期限切れの参加者を取得する
func (s *MemoryStorage) ListStaleParticipants(_ context.Context, cutoff time.Time) ([]models.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lo.Filter(s.participants, func(p models.Participant, _ int) bool {
		return p.StaleAt(cutoff)
	}), nil
}

// DeleteStaleParticipant は期限切れのままの参加者を削除する
func (s *MemoryStorage) DeleteStaleParticipant(_ context.Context, name string, cutoff time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.participantIndex(name)
	if !ok || !s.participants[i].StaleAt(cutoff) {
		return false, nil
	}
	s.participants = append(s.participants[:i], s.participants[i+1:]...)
	return true, nil
}

// InsertMessage はメッセージを保存する
func (s *MemoryStorage) InsertMessage(_ context.Context, msg models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
	return nil
}

// ListMessages は条件に一致するメッセージを取得する
func (s *MemoryStorage) ListMessages(_ context.Context, filter models.MessageFilter) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]models.Message, 0)
	for _, msg := range s.messages {
		if filter.Limit > 0 && len(result) == filter.Limit {
			break
		}
		if filter.Matches(msg) {
			result = append(result, msg)
		}
	}
	return result, nil
}

// GetMessage は指定されたIDのメッセージを取得する
func (s *MemoryStorage) GetMessage(_ context.Context, id string) (models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.messageIndex(id)
	if !ok {
		return models.Message{}, ErrNotFound
	}
	return s.messages[i], nil
}

// UpdateMessage は送信者が一致する場合のみメッセージを更新する
func (s *MemoryStorage) UpdateMessage(_ context.Context, id, from string, patch models.MessagePatch) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.messageIndex(id)
	if !ok {
		return models.Message{}, ErrNotFound
	}
	if s.messages[i].From != from {
		return models.Message{}, ErrNotOwner
	}
	s.messages[i] = s.messages[i].Apply(patch)
	return s.messages[i], nil
}

// DeleteMessage は送信者が一致する場合のみメッセージを削除する
func (s *MemoryStorage) DeleteMessage(_ context.Context, id, from string) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.messageIndex(id)
	if !ok {
		return models.Message{}, ErrNotFound
	}
	msg := s.messages[i]
	if msg.From != from {
		return models.Message{}, ErrNotOwner
	}
	s.messages = append(s.messages[:i], s.messages[i+1:]...)
	return msg, nil
}

// Close は何もしない
func (s *MemoryStorage) Close() error {
	return nil
}

func (s *MemoryStorage) participantIndex(name string) (int, bool) {
	_, i, ok := lo.FindIndexOf(s.participants, func(p models.Participant) bool {
		return p.Name == name
	})
	return i, ok
}

func (s *MemoryStorage) messageIndex(id string) (int, bool) {
	_, i, ok := lo.FindIndexOf(s.messages, func(m models.Message) bool {
		return m.ID == id
	})
	return i, ok
}
