package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/RaRa-D-Boy/devCom-sub000/internal/models"
)

// uniqueViolation is the SQLSTATE class for uniqueness-constraint conflicts.
const uniqueViolation = "23505"

// Postgres is the durable Store implementation. The conversations table
// carries a unique index over the canonical (participant_low,
// participant_high) pair, which is what makes concurrent conversation
// creation race-safe.
type Postgres struct {
	db *sql.DB
}

// NewPostgres wraps an open database handle.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Migrate creates the schema if it does not exist.
func (p *Postgres) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			id               UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			kind             TEXT NOT NULL,
			participant_low  TEXT,
			participant_high TEXT,
			group_id         TEXT,
			created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS conversations_pair_key
			ON conversations (participant_low, participant_high)
			WHERE kind = 'one_on_one'`,
		`CREATE TABLE IF NOT EXISTS messages (
			id              UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			conversation_id UUID NOT NULL REFERENCES conversations (id),
			author_id       TEXT NOT NULL,
			content         TEXT NOT NULL DEFAULT '',
			created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
			edited_at       TIMESTAMPTZ,
			is_edited       BOOLEAN NOT NULL DEFAULT FALSE,
			is_deleted      BOOLEAN NOT NULL DEFAULT FALSE,
			reply_to_id     UUID,
			reply_author_id TEXT,
			reply_content   TEXT,
			attachments     JSONB NOT NULL DEFAULT '[]'
		)`,
		`CREATE INDEX IF NOT EXISTS messages_conversation_created_key
			ON messages (conversation_id, created_at, id)`,
	}
	for _, stmt := range stmts {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// CreateConversation inserts a conversation row, mapping a pair-uniqueness
// violation to ErrConversationExists.
func (p *Postgres) CreateConversation(ctx context.Context, conv *models.Conversation) error {
	err := p.db.QueryRowContext(ctx,
		`INSERT INTO conversations (kind, participant_low, participant_high, group_id, created_at, updated_at)
		 VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), NULLIF($4, ''), $5, $6)
		 RETURNING id`,
		string(conv.Kind), conv.ParticipantLow, conv.ParticipantHigh, conv.GroupID,
		conv.CreatedAt, conv.UpdatedAt,
	).Scan(&conv.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrConversationExists
		}
		return err
	}
	return nil
}

// GetConversationByPair looks up the one-on-one row for a pair, matching
// either stored order in case legacy rows were written unordered.
func (p *Postgres) GetConversationByPair(ctx context.Context, low, high string) (*models.Conversation, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT id, kind, participant_low, participant_high, group_id, created_at, updated_at
		   FROM conversations
		  WHERE kind = 'one_on_one'
		    AND ((participant_low = $1 AND participant_high = $2)
		      OR (participant_low = $2 AND participant_high = $1))
		  LIMIT 1`,
		low, high,
	)
	return scanConversation(row)
}

// GetConversation looks up a conversation by id.
func (p *Postgres) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT id, kind, participant_low, participant_high, group_id, created_at, updated_at
		   FROM conversations
		  WHERE id = $1`,
		id,
	)
	return scanConversation(row)
}

// TouchConversation bumps updated_at without moving it backwards.
func (p *Postgres) TouchConversation(ctx context.Context, id string, at time.Time) error {
	_, err := p.db.ExecContext(ctx,
		`UPDATE conversations SET updated_at = GREATEST(updated_at, $2) WHERE id = $1`,
		id, at,
	)
	return err
}

// InsertMessage persists a message with a server-assigned id and created_at.
func (p *Postgres) InsertMessage(ctx context.Context, msg *models.Message) (*models.Message, error) {
	attachments, err := json.Marshal(msg.Attachments)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal attachments: %w", err)
	}

	var replyAuthor, replyContent interface{}
	if msg.ReplyTo != nil {
		replyAuthor = msg.ReplyTo.AuthorID
		replyContent = msg.ReplyTo.Content
	}

	stored := *msg
	err = p.db.QueryRowContext(ctx,
		`INSERT INTO messages (conversation_id, author_id, content, reply_to_id, reply_author_id, reply_content, attachments)
		 VALUES ($1, $2, $3, NULLIF($4, '')::uuid, $5, $6, $7)
		 RETURNING id, created_at`,
		msg.ConversationID, msg.AuthorID, msg.Content, msg.ReplyToID,
		replyAuthor, replyContent, attachments,
	).Scan(&stored.ID, &stored.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &stored, nil
}

// GetMessage looks up a message by id.
func (p *Postgres) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	row := p.db.QueryRowContext(ctx,
		messageSelect+` WHERE id = $1`,
		id,
	)
	msg, err := scanMessage(row)
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// ListMessages returns the latest messages strictly earlier than the cursor,
// ordered oldest to newest.
func (p *Postgres) ListMessages(ctx context.Context, conversationID string, limit int, before string) ([]models.Message, error) {
	query := messageSelect + ` WHERE conversation_id = $1`
	args := []interface{}{conversationID}

	if before != "" {
		cur, err := resolveCursor(ctx, p, conversationID, before)
		if err != nil {
			return nil, err
		}
		if cur.anchor != nil {
			// Page strictly before the anchor row in commit order, using
			// (created_at, id) so equal timestamps stay stable.
			query += ` AND (created_at, id) < ($2, $3::uuid)`
			args = append(args, cur.anchor.CreatedAt, cur.anchor.ID)
		} else {
			query += ` AND created_at < $2`
			args = append(args, cur.at)
		}
	}

	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var page []models.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		page = append(page, *msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse into oldest-to-newest order.
	for i, j := 0, len(page)-1; i < j; i, j = i+1, j-1 {
		page[i], page[j] = page[j], page[i]
	}
	return page, nil
}

// UpdateMessage writes the mutable fields of msg back to its row.
func (p *Postgres) UpdateMessage(ctx context.Context, msg *models.Message) error {
	attachments, err := json.Marshal(msg.Attachments)
	if err != nil {
		return fmt.Errorf("failed to marshal attachments: %w", err)
	}

	res, err := p.db.ExecContext(ctx,
		`UPDATE messages
		    SET content = $2, edited_at = $3, is_edited = $4, is_deleted = $5, attachments = $6
		  WHERE id = $1`,
		msg.ID, msg.Content, msg.EditedAt, msg.IsEdited, msg.IsDeleted, attachments,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

const messageSelect = `SELECT id, conversation_id, author_id, content, created_at,
	edited_at, is_edited, is_deleted, reply_to_id, reply_author_id, reply_content, attachments
	FROM messages`

// scanner matches both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanConversation(row scanner) (*models.Conversation, error) {
	var conv models.Conversation
	var kind string
	var low, high, groupID sql.NullString
	err := row.Scan(&conv.ID, &kind, &low, &high, &groupID, &conv.CreatedAt, &conv.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	conv.Kind = models.ConversationKind(kind)
	conv.ParticipantLow = low.String
	conv.ParticipantHigh = high.String
	conv.GroupID = groupID.String
	return &conv, nil
}

func scanMessage(row scanner) (*models.Message, error) {
	var msg models.Message
	var editedAt sql.NullTime
	var replyToID, replyAuthor, replyContent sql.NullString
	var attachments []byte
	err := row.Scan(&msg.ID, &msg.ConversationID, &msg.AuthorID, &msg.Content,
		&msg.CreatedAt, &editedAt, &msg.IsEdited, &msg.IsDeleted,
		&replyToID, &replyAuthor, &replyContent, &attachments)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if editedAt.Valid {
		t := editedAt.Time
		msg.EditedAt = &t
	}
	msg.ReplyToID = replyToID.String
	if replyAuthor.Valid {
		msg.ReplyTo = &models.ReplyContext{AuthorID: replyAuthor.String, Content: replyContent.String}
	}
	if len(attachments) > 0 {
		if err := json.Unmarshal(attachments, &msg.Attachments); err != nil {
			return nil, fmt.Errorf("failed to parse attachments: %w", err)
		}
	}
	return &msg, nil
}
