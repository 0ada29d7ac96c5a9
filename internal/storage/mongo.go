package storage

import (
	"context"
	"errors"
	"time"

	"github.com/tasukuchiba/chat_presence_app/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	participantCounter = "participants"
	messageCounter     = "messages"
)

// MongoStorage は参加者とメッセージをMongoDBに保存するストレージ
//
// 登録順は counters コレクションの連番（$inc）で決まる
type MongoStorage struct {
	client       *mongo.Client
	participants *mongo.Collection
	messages     *mongo.Collection
	counters     *mongo.Collection
}

type counterDocument struct {
	ID    string `bson:"_id"`
	Value int64  `bson:"value"`
}

type participantDocument struct {
	ID       string    `bson:"_id"`
	Name     string    `bson:"name"`
	LastSeen time.Time `bson:"lastSeen"`
	JoinedAt int64     `bson:"joinedAt"`
}

type messageDocument struct {
	ID        string    `bson:"_id"`
	From      string    `bson:"from"`
	To        string    `bson:"to"`
	Text      string    `bson:"text"`
	Type      string    `bson:"type"`
	Time      string    `bson:"time"`
	CreatedAt time.Time `bson:"createdAt"`
	Seq       int64     `bson:"seq"`
}

// NewMongoStorage は新しいMongoStorageを作成する
func NewMongoStorage(ctx context.Context, uri, database string) (*MongoStorage, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}

	db := client.Database(database)
	storage := &MongoStorage{
		client:       client,
		participants: db.Collection("participants"),
		messages:     db.Collection("messages"),
		counters:     db.Collection("counters"),
	}
	if err := storage.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return storage, nil
}

// ensureIndexes は name の一意インデックスと並び順用のインデックスを作成する
func (s *MongoStorage) ensureIndexes(ctx context.Context) error {
	_, err := s.participants.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "name", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "lastSeen", Value: 1}}},
		{Keys: bson.D{{Key: "joinedAt", Value: 1}}},
	})
	if err != nil {
		return err
	}
	_, err = s.messages.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "seq", Value: 1}},
	})
	return err
}

// InsertParticipant は参加者を保存する
func (s *MongoStorage) InsertParticipant(ctx context.Context, p models.Participant) error {
	joined, err := s.nextSeq(ctx, participantCounter)
	if err != nil {
		return err
	}
	_, err = s.participants.InsertOne(ctx, participantDocument{
		ID:       p.ID,
		Name:     p.Name,
		LastSeen: p.LastSeen,
		JoinedAt: joined,
	})
	if mongo.IsDuplicateKeyError(err) {
		return ErrConflict
	}
	return err
}

// ListParticipants は全ての参加者を取得する
func (s *MongoStorage) ListParticipants(ctx context.Context) ([]models.Participant, error) {
	return s.findParticipants(ctx, bson.D{})
}

// GetParticipant は指定された名前の参加者を取得する
func (s *MongoStorage) GetParticipant(ctx context.Context, name string) (models.Participant, error) {
	var doc participantDocument
	err := s.participants.FindOne(ctx, bson.D{{Key: "name", Value: name}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.Participant{}, ErrNotFound
	}
	if err != nil {
		return models.Participant{}, err
	}
	return doc.toModel(), nil
}

// TouchParticipant は参加者の lastSeen を更新する
func (s *MongoStorage) TouchParticipant(ctx context.Context, name string, seen time.Time) error {
	result, err := s.participants.UpdateOne(ctx,
		bson.D{{Key: "name", Value: name}},
		bson.D{{Key: "$set", Value: bson.D{{Key: "lastSeen", Value: seen}}}},
	)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// ListStaleParticipants は期限切れの参加者を取得する
func (s *MongoStorage) ListStaleParticipants(ctx context.Context, cutoff time.Time) ([]models.Participant, error) {
	return s.findParticipants(ctx, bson.D{{Key: "lastSeen", Value: bson.D{{Key: "$lte", Value: cutoff}}}})
}

// DeleteStaleParticipant は期限切れのままの参加者を削除する
func (s *MongoStorage) DeleteStaleParticipant(ctx context.Context, name string, cutoff time.Time) (bool, error) {
	result, err := s.participants.DeleteOne(ctx, bson.D{
		{Key: "name", Value: name},
		{Key: "lastSeen", Value: bson.D{{Key: "$lte", Value: cutoff}}},
	})
	if err != nil {
		return false, err
	}
	return result.DeletedCount > 0, nil
}

// InsertMessage はメッセージを保存する
func (s *MongoStorage) InsertMessage(ctx context.Context, msg models.Message) error {
	seq, err := s.nextSeq(ctx, messageCounter)
	if err != nil {
		return err
	}
	_, err = s.messages.InsertOne(ctx, fromMessage(msg, seq))
	return err
}

// ListMessages は閲覧可能なメッセージを取得する
func (s *MongoStorage) ListMessages(ctx context.Context, filter models.MessageFilter) ([]models.Message, error) {
	query := bson.D{}
	if filter.Viewer != "" {
		query = bson.D{{Key: "$or", Value: bson.A{
			bson.D{{Key: "to", Value: models.BroadcastTarget}},
			bson.D{{Key: "to", Value: filter.Viewer}},
			bson.D{{Key: "from", Value: filter.Viewer}},
			bson.D{{Key: "type", Value: string(models.TypePublic)}},
		}}}
	}
	opts := options.Find().SetSort(bson.D{{Key: "seq", Value: 1}, {Key: "_id", Value: 1}})
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}

	cursor, err := s.messages.Find(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	var docs []messageDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}

	messages := make([]models.Message, 0, len(docs))
	for _, doc := range docs {
		messages = append(messages, doc.toModel())
	}
	return messages, nil
}

// GetMessage は指定されたIDのメッセージを取得する
func (s *MongoStorage) GetMessage(ctx context.Context, id string) (models.Message, error) {
	var doc messageDocument
	err := s.messages.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.Message{}, ErrNotFound
	}
	if err != nil {
		return models.Message{}, err
	}
	return doc.toModel(), nil
}

// UpdateMessage は送信者が一致する場合のみメッセージを更新する
func (s *MongoStorage) UpdateMessage(ctx context.Context, id, from string, patch models.MessagePatch) (models.Message, error) {
	var doc messageDocument
	err := s.messages.FindOneAndUpdate(ctx,
		bson.D{{Key: "_id", Value: id}, {Key: "from", Value: from}},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "to", Value: patch.To},
			{Key: "text", Value: patch.Text},
			{Key: "type", Value: string(patch.Type)},
		}}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.Message{}, s.ownershipError(ctx, id)
	}
	if err != nil {
		return models.Message{}, err
	}
	return doc.toModel(), nil
}

// DeleteMessage は送信者が一致する場合のみメッセージを削除する
func (s *MongoStorage) DeleteMessage(ctx context.Context, id, from string) (models.Message, error) {
	var doc messageDocument
	err := s.messages.FindOneAndDelete(ctx, bson.D{{Key: "_id", Value: id}, {Key: "from", Value: from}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.Message{}, s.ownershipError(ctx, id)
	}
	if err != nil {
		return models.Message{}, err
	}
	return doc.toModel(), nil
}

// Close はMongoDBとの接続を切断する
func (s *MongoStorage) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// nextSeq は指定されたカウンタを1つ進めて新しい値を返す
func (s *MongoStorage) nextSeq(ctx context.Context, name string) (int64, error) {
	var doc counterDocument
	err := s.counters.FindOneAndUpdate(ctx,
		bson.D{{Key: "_id", Value: name}},
		bson.D{{Key: "$inc", Value: bson.D{{Key: "value", Value: int64(1)}}}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		return 0, err
	}
	return doc.Value, nil
}

func (s *MongoStorage) ownershipError(ctx context.Context, id string) error {
	if _, err := s.GetMessage(ctx, id); err != nil {
		return err
	}
	return ErrNotOwner
}

func (s *MongoStorage) findParticipants(ctx context.Context, query bson.D) ([]models.Participant, error) {
	opts := options.Find().SetSort(bson.D{{Key: "joinedAt", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := s.participants.Find(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	var docs []participantDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}

	participants := make([]models.Participant, 0, len(docs))
	for _, doc := range docs {
		participants = append(participants, doc.toModel())
	}
	return participants, nil
}

func (d participantDocument) toModel() models.Participant {
	return models.Participant{ID: d.ID, Name: d.Name, LastSeen: d.LastSeen.Local()}
}

func fromMessage(msg models.Message, seq int64) messageDocument {
	return messageDocument{
		ID:        msg.ID,
		From:      msg.From,
		To:        msg.To,
		Text:      msg.Text,
		Type:      string(msg.Type),
		Time:      msg.Time,
		CreatedAt: msg.CreatedAt,
		Seq:       seq,
	}
}

func (d messageDocument) toModel() models.Message {
	return models.Message{
		ID:        d.ID,
		From:      d.From,
		To:        d.To,
		Text:      d.Text,
		Type:      models.MessageType(d.Type),
		Time:      d.Time,
		CreatedAt: d.CreatedAt.Local(),
	}
}
