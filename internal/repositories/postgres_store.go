package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"chat-realtime/internal/models"
)

// PostgresStore is a sqlx implementation of Store.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

type conversationRow struct {
	ID            string         `db:"id"`
	Members       pq.StringArray `db:"members"`
	LastMessage   string         `db:"last_message"`
	LastSenderID  sql.NullString `db:"last_sender_id"`
	LastMessageAt time.Time      `db:"last_message_at"`
	CreatedAt     time.Time      `db:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at"`
}

func (r conversationRow) model() models.Conversation {
	return models.Conversation{
		ID:            r.ID,
		Members:       []string(r.Members),
		LastMessage:   r.LastMessage,
		LastSenderID:  r.LastSenderID.String,
		LastMessageAt: r.LastMessageAt,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

const conversationColumns = `id, members, last_message, last_sender_id, last_message_at, created_at, updated_at`

// FindOrCreatePair returns the two-party conversation for the pair, creating it if absent.
func (s *PostgresStore) FindOrCreatePair(ctx context.Context, userID, peerID string, now time.Time) (models.Conversation, error) {
	members := models.SortedMembers([]string{userID, peerID})
	key := models.MemberKey(members)

	_, err := s.db.ExecContext(ctx, `INSERT INTO conversations (id, members, member_key, last_message_at, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $4, $4)
        ON CONFLICT (member_key) DO NOTHING`, uuid.NewString(), pq.Array(members), key, now)
	if err != nil {
		return models.Conversation{}, unavailable("insert conversation", err)
	}

	var row conversationRow
	if err := s.db.GetContext(ctx, &row, `SELECT `+conversationColumns+` FROM conversations WHERE member_key=$1`, key); err != nil {
		return models.Conversation{}, unavailable("select conversation", err)
	}
	return row.model(), nil
}

// GetConversation fetches a conversation by id.
func (s *PostgresStore) GetConversation(ctx context.Context, conversationID string) (models.Conversation, error) {
	var row conversationRow
	err := s.db.GetContext(ctx, &row, `SELECT `+conversationColumns+` FROM conversations WHERE id=$1`, conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, ErrConversationNotFound
	}
	if err != nil {
		return models.Conversation{}, unavailable("get conversation", err)
	}
	return row.model(), nil
}

// ListForUser returns the user's conversations, most recently active first.
func (s *PostgresStore) ListForUser(ctx context.Context, userID string, limit int) ([]models.Conversation, error) {
	var rows []conversationRow
	err := s.db.SelectContext(ctx, &rows, `SELECT `+conversationColumns+` FROM conversations
        WHERE $1 = ANY(members)
        ORDER BY last_message_at DESC, id DESC
        LIMIT $2`, userID, limit)
	if err != nil {
		return nil, unavailable("list conversations", err)
	}
	result := make([]models.Conversation, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.model())
	}
	return result, nil
}

// UpdateSummary overwrites the denormalized last-message fields.
func (s *PostgresStore) UpdateSummary(ctx context.Context, conversationID string, summary models.Summary) error {
	res, err := s.db.ExecContext(ctx, `UPDATE conversations
        SET last_message=$2, last_sender_id=$3, last_message_at=$4, updated_at=$4
        WHERE id=$1`, conversationID, summary.LastMessage, summary.LastSenderID, summary.LastMessageAt)
	if err != nil {
		return unavailable("update summary", err)
	}
	count, err := res.RowsAffected()
	if err != nil {
		return unavailable("update summary", err)
	}
	if count == 0 {
		return ErrConversationNotFound
	}
	return nil
}

const messageColumns = `id, conversation_id, sender_id, text, type, status, read_at, created_at`

// CreateMessage stores a message.
func (s *PostgresStore) CreateMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	_, err := s.db.NamedExecContext(ctx, `INSERT INTO messages (`+messageColumns+`)
        VALUES (:id, :conversation_id, :sender_id, :text, :type, :status, :read_at, :created_at)`, msg)
	if err != nil {
		return models.Message{}, unavailable("insert message", err)
	}
	return msg, nil
}

// GetMessage retrieves a single message.
func (s *PostgresStore) GetMessage(ctx context.Context, messageID string) (models.Message, error) {
	var msg models.Message
	err := s.db.GetContext(ctx, &msg, `SELECT `+messageColumns+` FROM messages WHERE id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	if err != nil {
		return models.Message{}, unavailable("get message", err)
	}
	return msg, nil
}

// ListMessages returns up to page.Limit messages older than page.Before, newest first.
func (s *PostgresStore) ListMessages(ctx context.Context, page models.MessagePage) ([]models.Message, error) {
	msgs := []models.Message{}
	err := s.db.SelectContext(ctx, &msgs, `SELECT `+messageColumns+` FROM messages
        WHERE conversation_id=$1 AND ($2::timestamptz IS NULL OR created_at < $2)
        ORDER BY created_at DESC, id DESC
        LIMIT $3`, page.ConversationID, page.Before, page.Limit)
	if err != nil {
		return nil, unavailable("list messages", err)
	}
	return msgs, nil
}

// MarkRead sets status=read on unread messages of the conversation in one statement.
func (s *PostgresStore) MarkRead(ctx context.Context, conversationID string, messageIDs []string, at time.Time) (int64, error) {
	if len(messageIDs) == 0 {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx, `UPDATE messages SET status=$1, read_at=$2
        WHERE conversation_id=$3 AND id = ANY($4) AND status <> $1`,
		models.StatusRead, at, conversationID, pq.Array(messageIDs))
	if err != nil {
		return 0, unavailable("mark read", err)
	}
	count, err := res.RowsAffected()
	if err != nil {
		return 0, unavailable("mark read", err)
	}
	return count, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close(context.Context) error {
	return s.db.Close()
}
