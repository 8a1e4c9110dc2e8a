package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"chat-realtime/internal/models"
)

// MongoStore keeps conversations and messages as documents.
type MongoStore struct {
	client        *mongo.Client
	conversations *mongo.Collection
	messages      *mongo.Collection
}

// NewMongoStore constructs a MongoStore over the given database.
func NewMongoStore(client *mongo.Client, database string) *MongoStore {
	db := client.Database(database)
	return &MongoStore{
		client:        client,
		conversations: db.Collection("conversations"),
		messages:      db.Collection("messages"),
	}
}

var _ Store = (*MongoStore)(nil)

type conversationDoc struct {
	models.Conversation `bson:",inline"`
	MemberKey           string `bson:"memberKey"`
}

// EnsureIndexes creates the lookup and uniqueness indexes.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.conversations.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "memberKey", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "members", Value: 1}, {Key: "lastMessageAt", Value: -1}}},
	})
	if err != nil {
		return unavailable("conversation indexes", err)
	}
	_, err = s.messages.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "conversationId", Value: 1}, {Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "senderId", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}}},
	})
	if err != nil {
		return unavailable("message indexes", err)
	}
	return nil
}

// FindOrCreatePair upserts on the canonical member key.
func (s *MongoStore) FindOrCreatePair(ctx context.Context, userID, peerID string, now time.Time) (models.Conversation, error) {
	members := models.SortedMembers([]string{userID, peerID})
	key := models.MemberKey(members)

	filter := bson.M{"memberKey": key}
	update := bson.M{"$setOnInsert": bson.M{
		"_id":           uuid.NewString(),
		"members":       members,
		"memberKey":     key,
		"lastMessage":   "",
		"lastMessageAt": now,
		"createdAt":     now,
		"updatedAt":     now,
	}}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var doc conversationDoc
	err := s.conversations.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	if mongo.IsDuplicateKeyError(err) {
		// lost a concurrent upsert race; the winner's document is there now
		err = s.conversations.FindOne(ctx, filter).Decode(&doc)
	}
	if err != nil {
		return models.Conversation{}, unavailable("upsert conversation", err)
	}
	return doc.Conversation, nil
}

// GetConversation fetches a conversation by id.
func (s *MongoStore) GetConversation(ctx context.Context, conversationID string) (models.Conversation, error) {
	var doc conversationDoc
	err := s.conversations.FindOne(ctx, bson.M{"_id": conversationID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.Conversation{}, ErrConversationNotFound
	}
	if err != nil {
		return models.Conversation{}, unavailable("get conversation", err)
	}
	return doc.Conversation, nil
}

// ListForUser returns the user's conversations, most recently active first.
func (s *MongoStore) ListForUser(ctx context.Context, userID string, limit int) ([]models.Conversation, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "lastMessageAt", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(limit))
	cur, err := s.conversations.Find(ctx, bson.M{"members": userID}, opts)
	if err != nil {
		return nil, unavailable("list conversations", err)
	}
	var docs []conversationDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, unavailable("list conversations", err)
	}
	result := make([]models.Conversation, 0, len(docs))
	for _, doc := range docs {
		result = append(result, doc.Conversation)
	}
	return result, nil
}

// UpdateSummary overwrites the denormalized last-message fields.
func (s *MongoStore) UpdateSummary(ctx context.Context, conversationID string, summary models.Summary) error {
	res, err := s.conversations.UpdateByID(ctx, conversationID, bson.M{"$set": bson.M{
		"lastMessage":   summary.LastMessage,
		"lastSenderId":  summary.LastSenderID,
		"lastMessageAt": summary.LastMessageAt,
		"updatedAt":     summary.LastMessageAt,
	}})
	if err != nil {
		return unavailable("update summary", err)
	}
	if res.MatchedCount == 0 {
		return ErrConversationNotFound
	}
	return nil
}

// CreateMessage stores a message document.
func (s *MongoStore) CreateMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	if _, err := s.messages.InsertOne(ctx, msg); err != nil {
		return models.Message{}, unavailable("insert message", err)
	}
	return msg, nil
}

// GetMessage retrieves a single message.
func (s *MongoStore) GetMessage(ctx context.Context, messageID string) (models.Message, error) {
	var msg models.Message
	err := s.messages.FindOne(ctx, bson.M{"_id": messageID}).Decode(&msg)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.Message{}, ErrMessageNotFound
	}
	if err != nil {
		return models.Message{}, unavailable("get message", err)
	}
	return msg, nil
}

// ListMessages returns up to page.Limit messages older than page.Before, newest first.
func (s *MongoStore) ListMessages(ctx context.Context, page models.MessagePage) ([]models.Message, error) {
	filter := bson.M{"conversationId": page.ConversationID}
	if page.Before != nil {
		filter["createdAt"] = bson.M{"$lt": *page.Before}
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(page.Limit))
	cur, err := s.messages.Find(ctx, filter, opts)
	if err != nil {
		return nil, unavailable("list messages", err)
	}
	msgs := []models.Message{}
	if err := cur.All(ctx, &msgs); err != nil {
		return nil, unavailable("list messages", err)
	}
	return msgs, nil
}

// MarkRead sets status=read on unread messages of the conversation with one bulk update.
func (s *MongoStore) MarkRead(ctx context.Context, conversationID string, messageIDs []string, at time.Time) (int64, error) {
	if len(messageIDs) == 0 {
		return 0, nil
	}
	res, err := s.messages.UpdateMany(ctx, bson.M{
		"_id":            bson.M{"$in": messageIDs},
		"conversationId": conversationID,
		"status":         bson.M{"$ne": models.StatusRead},
	}, bson.M{"$set": bson.M{"status": models.StatusRead, "readAt": at}})
	if err != nil {
		return 0, unavailable("mark read", err)
	}
	return res.ModifiedCount, nil
}

// Close disconnects the client.
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
