package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"
	"github.com/tasukuchiba/chat_presence_app/internal/models"
)

// uniqueViolation は PostgreSQL の一意制約違反コード
const uniqueViolation = "23505"

// PostgresStorage は参加者とメッセージをPostgreSQLに保存するストレージ
type PostgresStorage struct {
	db *sql.DB
}

// NewPostgresStorage は新しいPostgresStorageを作成する
func NewPostgresStorage(ctx context.Context, databaseURL string) (*PostgresStorage, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}

	// 接続プール設定
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	storage := &PostgresStorage{db: db}
	if err := storage.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return storage, nil
}

// migrate はデータベーススキーマを作成する
func (s *PostgresStorage) migrate(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS participants (
			seq BIGSERIAL,
			id VARCHAR(36) PRIMARY KEY,
			name VARCHAR(255) NOT NULL UNIQUE,
			last_seen TIMESTAMP WITH TIME ZONE NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_participants_last_seen ON participants(last_seen);

		CREATE TABLE IF NOT EXISTS messages (
			seq BIGSERIAL,
			id VARCHAR(36) PRIMARY KEY,
			sender VARCHAR(255) NOT NULL,
			recipient VARCHAR(255) NOT NULL,
			text TEXT NOT NULL,
			type VARCHAR(32) NOT NULL,
			time VARCHAR(8) NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_messages_seq ON messages(seq);
	`
	_, err := s.db.ExecContext(ctx, query)
	return err
}

// InsertParticipant は参加者を保存する。name の一意制約で重複を防ぐ
func (s *PostgresStorage) InsertParticipant(ctx context.Context, p models.Participant) error {
	query := `INSERT INTO participants (id, name, last_seen) VALUES ($1, $2, $3)`
	_, err := s.db.ExecContext(ctx, query, p.ID, p.Name, p.LastSeen)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return ErrConflict
	}
	return err
}

// ListParticipants は全ての参加者を取得する
func (s *PostgresStorage) ListParticipants(ctx context.Context) ([]models.Participant, error) {
	return s.queryParticipants(ctx, `SELECT id, name, last_seen FROM participants ORDER BY seq ASC`)
}

// GetParticipant は指定された名前の参加者を取得する
func (s *PostgresStorage) GetParticipant(ctx context.Context, name string) (models.Participant, error) {
	query := `SELECT id, name, last_seen FROM participants WHERE name = $1`
	var p models.Participant
	err := s.db.QueryRowContext(ctx, query, name).Scan(&p.ID, &p.Name, &p.LastSeen)
	if err == sql.ErrNoRows {
		return models.Participant{}, ErrNotFound
	}
	if err != nil {
		return models.Participant{}, err
	}
	return p, nil
}

// TouchParticipant は参加者の lastSeen を更新する
func (s *PostgresStorage) TouchParticipant(ctx context.Context, name string, seen time.Time) error {
	result, err := s.db.ExecContext(ctx, `UPDATE participants SET last_seen = $2 WHERE name = $1`, name, seen)
	if err != nil {
		return err
	}
	return expectAffected(result)
}

// ListStaleParticipants は期限切れの参加者を取得する
func (s *PostgresStorage) ListStaleParticipants(ctx context.Context, cutoff time.Time) ([]models.Participant, error) {
	return s.queryParticipants(ctx,
		`SELECT id, name, last_seen FROM participants WHERE last_seen <= $1 ORDER BY seq ASC`, cutoff)
}

// DeleteStaleParticipant は期限切れのままの参加者を削除する
func (s *PostgresStorage) DeleteStaleParticipant(ctx context.Context, name string, cutoff time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM participants WHERE name = $1 AND last_seen <= $2`, name, cutoff)
	if err != nil {
		return false, err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rowsAffected > 0, nil
}

// InsertMessage はメッセージを保存する
func (s *PostgresStorage) InsertMessage(ctx context.Context, msg models.Message) error {
	query := `
		INSERT INTO messages (id, sender, recipient, text, type, time, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.db.ExecContext(ctx, query,
		msg.ID, msg.From, msg.To, msg.Text, string(msg.Type), msg.Time, msg.CreatedAt)
	return err
}

// ListMessages は閲覧可能なメッセージを取得する
func (s *PostgresStorage) ListMessages(ctx context.Context, filter models.MessageFilter) ([]models.Message, error) {
	query := `
		SELECT id, sender, recipient, text, type, time, created_at
		FROM messages
		WHERE $1 = '' OR recipient = $2 OR recipient = $1 OR sender = $1 OR type = $3
		ORDER BY seq ASC
	`
	args := []any{filter.Viewer, models.BroadcastTarget, string(models.TypePublic)}
	if filter.Limit > 0 {
		query += ` LIMIT $4`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return messages, nil
}

// GetMessage は指定されたIDのメッセージを取得する
func (s *PostgresStorage) GetMessage(ctx context.Context, id string) (models.Message, error) {
	query := `
		SELECT id, sender, recipient, text, type, time, created_at
		FROM messages
		WHERE id = $1
	`
	msg, err := scanMessage(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return models.Message{}, ErrNotFound
	}
	if err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

// UpdateMessage は送信者が一致する場合のみメッセージを更新する
func (s *PostgresStorage) UpdateMessage(ctx context.Context, id, from string, patch models.MessagePatch) (models.Message, error) {
	query := `
		UPDATE messages SET recipient = $3, text = $4, type = $5
		WHERE id = $1 AND sender = $2
		RETURNING id, sender, recipient, text, type, time, created_at
	`
	msg, err := scanMessage(s.db.QueryRowContext(ctx, query, id, from, patch.To, patch.Text, string(patch.Type)))
	if err == sql.ErrNoRows {
		return models.Message{}, s.ownershipError(ctx, id)
	}
	if err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

// DeleteMessage は送信者が一致する場合のみメッセージを削除する
func (s *PostgresStorage) DeleteMessage(ctx context.Context, id, from string) (models.Message, error) {
	query := `
		DELETE FROM messages
		WHERE id = $1 AND sender = $2
		RETURNING id, sender, recipient, text, type, time, created_at
	`
	msg, err := scanMessage(s.db.QueryRowContext(ctx, query, id, from))
	if err == sql.ErrNoRows {
		return models.Message{}, s.ownershipError(ctx, id)
	}
	if err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

// Close はデータベース接続を閉じる
func (s *PostgresStorage) Close() error {
	return s.db.Close()
}

// ownershipError は条件付き更新が0件だった理由を判定する
func (s *PostgresStorage) ownershipError(ctx context.Context, id string) error {
	if _, err := s.GetMessage(ctx, id); err != nil {
		return err
	}
	return ErrNotOwner
}

func (s *PostgresStorage) queryParticipants(ctx context.Context, query string, args ...any) ([]models.Participant, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	participants := []models.Participant{}
	for rows.Next() {
		var p models.Participant
		if err := rows.Scan(&p.ID, &p.Name, &p.LastSeen); err != nil {
			return nil, err
		}
		participants = append(participants, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return participants, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (models.Message, error) {
	var msg models.Message
	var msgType string
	err := row.Scan(&msg.ID, &msg.From, &msg.To, &msg.Text, &msgType, &msg.Time, &msg.CreatedAt)
	msg.Type = models.MessageType(msgType)
	return msg, err
}

func expectAffected(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
