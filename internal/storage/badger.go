package storage

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/tasukuchiba/chat_presence_app/internal/models"
)

const (
	participantPrefix = "participant:"
	messagePrefix     = "msg:"
	messageIDPrefix   = "msgid:"
	sequenceKey       = "seq:insert"

	sequenceBandwidth = 100
)

// BadgerStorage は参加者とメッセージを組み込みKVS（BadgerDB）に保存するストレージ
//
// キーの構成:
//   - participant:{name} → 参加者
//   - msg:{登録連番(20桁ゼロ埋め)}:{id} → メッセージ（キー順が登録順になる）
//   - msgid:{id} → メッセージのキー
//   - seq:insert → 登録連番（badger.Sequence が管理する）
//
// 登録順は時刻ではなく単調増加の連番で決まる
// 条件付きの更新・削除は1つのトランザクション内で確認と書き込みを行う
type BadgerStorage struct {
	db  *badger.DB
	seq *badger.Sequence
}

type participantRecord struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	LastSeen time.Time `json:"lastSeen"`
	JoinedAt uint64    `json:"joinedAt"`
}

type messageRecord struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Text      string    `json:"text"`
	Type      string    `json:"type"`
	Time      string    `json:"time"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewBadgerStorage は新しいBadgerStorageを作成する
func NewBadgerStorage(path string) (*BadgerStorage, error) {
	opts := badger.DefaultOptions(path).WithLoggingLevel(badger.ERROR)
	return openBadger(opts)
}

// NewInMemoryBadgerStorage はディスクを使わないBadgerStorageを作成する
func NewInMemoryBadgerStorage() (*BadgerStorage, error) {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLoggingLevel(badger.ERROR)
	return openBadger(opts)
}

func openBadger(opts badger.Options) (*BadgerStorage, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	seq, err := db.GetSequence([]byte(sequenceKey), sequenceBandwidth)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &BadgerStorage{db: db, seq: seq}, nil
}

// InsertParticipant は参加者を保存する
func (s *BadgerStorage) InsertParticipant(_ context.Context, p models.Participant) error {
	joined, err := s.seq.Next()
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		key := participantKey(p.Name)
		if _, err := txn.Get(key); err == nil {
			return ErrConflict
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return setJSON(txn, key, participantRecord{
			ID:       p.ID,
			Name:     p.Name,
			LastSeen: p.LastSeen,
			JoinedAt: joined,
		})
	})
}

// ListParticipants は全ての参加者を取得する
func (s *BadgerStorage) ListParticipants(_ context.Context) ([]models.Participant, error) {
	return s.scanParticipants(func(models.Participant) bool { return true })
}

// GetParticipant は指定された名前の参加者を取得する
func (s *BadgerStorage) GetParticipant(_ context.Context, name string) (models.Participant, error) {
	var rec participantRecord
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, participantKey(name), &rec)
	})
	if err != nil {
		return models.Participant{}, err
	}
	return rec.toModel(), nil
}

// TouchParticipant は参加者の lastSeen を更新する
func (s *BadgerStorage) TouchParticipant(_ context.Context, name string, seen time.Time) error {
	return s.db.Update(func(txn *badger.Txn) error {
		key := participantKey(name)
		var rec participantRecord
		if err := getJSON(txn, key, &rec); err != nil {
			return err
		}
		rec.LastSeen = seen
		return setJSON(txn, key, rec)
	})
}

// ListStaleParticipants は期限切れの参加者を取得する
func (s *BadgerStorage) ListStaleParticipants(_ context.Context, cutoff time.Time) ([]models.Participant, error) {
	return s.scanParticipants(func(p models.Participant) bool { return p.StaleAt(cutoff) })
}

// DeleteStaleParticipant は期限切れのままの参加者を削除する
func (s *BadgerStorage) DeleteStaleParticipant(_ context.Context, name string, cutoff time.Time) (bool, error) {
	deleted := false
	err := s.db.Update(func(txn *badger.Txn) error {
		key := participantKey(name)
		var rec participantRecord
		if err := getJSON(txn, key, &rec); err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil
			}
			return err
		}
		if !rec.toModel().StaleAt(cutoff) {
			return nil
		}
		deleted = true
		return txn.Delete(key)
	})
	if err != nil {
		return false, err
	}
	return deleted, nil
}

// InsertMessage はメッセージを保存する
func (s *BadgerStorage) InsertMessage(_ context.Context, msg models.Message) error {
	n, err := s.seq.Next()
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		key := messageKey(n, msg.ID)
		if err := setJSON(txn, key, toMessageRecord(msg)); err != nil {
			return err
		}
		return txn.Set(messageIDKey(msg.ID), key)
	})
}

// ListMessages は閲覧可能なメッセージを登録順に取得する
func (s *BadgerStorage) ListMessages(_ context.Context, filter models.MessageFilter) ([]models.Message, error) {
	messages := make([]models.Message, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte(messagePrefix)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if filter.Limit > 0 && len(messages) == filter.Limit {
				break
			}
			var rec messageRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			if msg := rec.toModel(); filter.Matches(msg) {
				messages = append(messages, msg)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return messages, nil
}

// GetMessage は指定されたIDのメッセージを取得する
func (s *BadgerStorage) GetMessage(_ context.Context, id string) (models.Message, error) {
	var msg models.Message
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		msg, _, err = lookupMessage(txn, id)
		return err
	})
	return msg, err
}

// UpdateMessage は送信者が一致する場合のみメッセージを更新する
func (s *BadgerStorage) UpdateMessage(_ context.Context, id, from string, patch models.MessagePatch) (models.Message, error) {
	var updated models.Message
	err := s.db.Update(func(txn *badger.Txn) error {
		msg, key, err := lookupMessage(txn, id)
		if err != nil {
			return err
		}
		if msg.From != from {
			return ErrNotOwner
		}
		updated = msg.Apply(patch)
		return setJSON(txn, key, toMessageRecord(updated))
	})
	if err != nil {
		return models.Message{}, err
	}
	return updated, nil
}

// DeleteMessage は送信者が一致する場合のみメッセージを削除する
func (s *BadgerStorage) DeleteMessage(_ context.Context, id, from string) (models.Message, error) {
	var deleted models.Message
	err := s.db.Update(func(txn *badger.Txn) error {
		msg, key, err := lookupMessage(txn, id)
		if err != nil {
			return err
		}
		if msg.From != from {
			return ErrNotOwner
		}
		deleted = msg
		if err := txn.Delete(key); err != nil {
			return err
		}
		return txn.Delete(messageIDKey(id))
	})
	if err != nil {
		return models.Message{}, err
	}
	return deleted, nil
}

// Close は未使用の連番を返却してからデータベースを閉じる
func (s *BadgerStorage) Close() error {
	releaseErr := s.seq.Release()
	return errors.Join(releaseErr, s.db.Close())
}

func (s *BadgerStorage) scanParticipants(keep func(models.Participant) bool) ([]models.Participant, error) {
	var records []participantRecord
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte(participantPrefix)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var rec participantRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			if keep(rec.toModel()) {
				records = append(records, rec)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// キーは名前順なので登録順に並べ直す
	slices.SortStableFunc(records, func(a, b participantRecord) int {
		return cmp.Compare(a.JoinedAt, b.JoinedAt)
	})
	participants := make([]models.Participant, 0, len(records))
	for _, rec := range records {
		participants = append(participants, rec.toModel())
	}
	return participants, nil
}

func lookupMessage(txn *badger.Txn, id string) (models.Message, []byte, error) {
	item, err := txn.Get(messageIDKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return models.Message{}, nil, ErrNotFound
	}
	if err != nil {
		return models.Message{}, nil, err
	}
	key, err := item.ValueCopy(nil)
	if err != nil {
		return models.Message{}, nil, err
	}
	var rec messageRecord
	if err := getJSON(txn, key, &rec); err != nil {
		return models.Message{}, nil, err
	}
	return rec.toModel(), key, nil
}

func getJSON(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(key, data)
}

func participantKey(name string) []byte {
	return []byte(participantPrefix + name)
}

func messageKey(n uint64, id string) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s", messagePrefix, n, id))
}

func messageIDKey(id string) []byte {
	return []byte(messageIDPrefix + id)
}

func (r participantRecord) toModel() models.Participant {
	return models.Participant{ID: r.ID, Name: r.Name, LastSeen: r.LastSeen}
}

func toMessageRecord(msg models.Message) messageRecord {
	return messageRecord{
		ID:        msg.ID,
		From:      msg.From,
		To:        msg.To,
		Text:      msg.Text,
		Type:      string(msg.Type),
		Time:      msg.Time,
		CreatedAt: msg.CreatedAt,
	}
}

func (r messageRecord) toModel() models.Message {
	return models.Message{
		ID:        r.ID,
		From:      r.From,
		To:        r.To,
		Text:      r.Text,
		Type:      models.MessageType(r.Type),
		Time:      r.Time,
		CreatedAt: r.CreatedAt,
	}
}
