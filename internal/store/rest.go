package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/RaRa-D-Boy/devCom-sub000/internal/models"
)

// REST is the Store implementation for a hosted PostgREST-compatible data
// service (e.g. Supabase). It uses the service role key for backend
// operations with elevated privileges. The hosted table must carry the same
// unique constraint over the canonical participant pair as the SQL schema;
// a constraint conflict surfaces as HTTP 409 and is mapped to
// ErrConversationExists.
type REST struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewREST creates a REST store for the given project URL and service key.
func NewREST(baseURL, apiKey string) *REST {
	return &REST{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// statusError carries the HTTP status of a failed REST call so callers can
// distinguish conflicts from other failures.
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("rest store error (status %d): %s", e.status, e.body)
}

// doRequest executes an HTTP request against the REST API.
// It automatically adds authentication headers and handles the response.
func (r *REST) doRequest(ctx context.Context, method, endpoint string, body interface{}) ([]byte, error) {
	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonBody)
	}

	url := fmt.Sprintf("%s/rest/v1/%s", r.baseURL, endpoint)
	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("apikey", r.apiKey)
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", r.apiKey))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "return=representation")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, &statusError{status: resp.StatusCode, body: string(respBody)}
	}

	return respBody, nil
}

// CreateConversation inserts a conversation row, mapping the hosted store's
// uniqueness conflict (HTTP 409) to ErrConversationExists.
func (r *REST) CreateConversation(ctx context.Context, conv *models.Conversation) error {
	payload := map[string]interface{}{
		"kind":       conv.Kind,
		"created_at": conv.CreatedAt,
		"updated_at": conv.UpdatedAt,
	}
	if conv.Kind == models.KindOneOnOne {
		payload["participant_low"] = conv.ParticipantLow
		payload["participant_high"] = conv.ParticipantHigh
	} else {
		payload["group_id"] = conv.GroupID
	}

	respBody, err := r.doRequest(ctx, "POST", "conversations", payload)
	if err != nil {
		var se *statusError
		if errors.As(err, &se) && se.status == http.StatusConflict {
			return ErrConversationExists
		}
		return err
	}

	var rows []models.Conversation
	if err := json.Unmarshal(respBody, &rows); err != nil {
		return fmt.Errorf("failed to parse conversation: %w", err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("insert returned no representation")
	}
	conv.ID = rows[0].ID
	return nil
}

// GetConversationByPair looks up a one-on-one row matching the pair in
// either stored order.
func (r *REST) GetConversationByPair(ctx context.Context, low, high string) (*models.Conversation, error) {
	endpoint := fmt.Sprintf(
		"conversations?kind=eq.one_on_one&or=(and(participant_low.eq.%s,participant_high.eq.%s),and(participant_low.eq.%s,participant_high.eq.%s))&limit=1&select=*",
		low, high, high, low,
	)
	respBody, err := r.doRequest(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, err
	}

	var rows []models.Conversation
	if err := json.Unmarshal(respBody, &rows); err != nil {
		return nil, fmt.Errorf("failed to parse conversations: %w", err)
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return &rows[0], nil
}

// GetConversation retrieves a conversation by its ID.
func (r *REST) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	endpoint := fmt.Sprintf("conversations?id=eq.%s&select=*", id)
	respBody, err := r.doRequest(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, err
	}

	var rows []models.Conversation
	if err := json.Unmarshal(respBody, &rows); err != nil {
		return nil, fmt.Errorf("failed to parse conversation: %w", err)
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return &rows[0], nil
}

// TouchConversation updates the updated_at timestamp for a conversation.
func (r *REST) TouchConversation(ctx context.Context, id string, at time.Time) error {
	data := map[string]interface{}{
		"updated_at": at,
	}
	endpoint := fmt.Sprintf("conversations?id=eq.%s&updated_at=lt.%s", id, at.Format(time.RFC3339Nano))
	_, err := r.doRequest(ctx, "PATCH", endpoint, data)
	return err
}

// InsertMessage inserts a message; id and created_at are assigned by the
// hosted store's column defaults.
func (r *REST) InsertMessage(ctx context.Context, msg *models.Message) (*models.Message, error) {
	payload := map[string]interface{}{
		"conversation_id": msg.ConversationID,
		"author_id":       msg.AuthorID,
		"content":         msg.Content,
		"attachments":     msg.Attachments,
	}
	if msg.ReplyToID != "" {
		payload["reply_to_id"] = msg.ReplyToID
		payload["reply_to"] = msg.ReplyTo
	}

	respBody, err := r.doRequest(ctx, "POST", "messages", payload)
	if err != nil {
		return nil, err
	}

	var rows []models.Message
	if err := json.Unmarshal(respBody, &rows); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("insert returned no representation")
	}
	return &rows[0], nil
}

// GetMessage retrieves a message by its ID.
func (r *REST) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	endpoint := fmt.Sprintf("messages?id=eq.%s&select=*", id)
	respBody, err := r.doRequest(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, err
	}

	var rows []models.Message
	if err := json.Unmarshal(respBody, &rows); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return &rows[0], nil
}

// ListMessages returns the latest messages strictly earlier than the cursor,
// ordered oldest to newest.
func (r *REST) ListMessages(ctx context.Context, conversationID string, limit int, before string) ([]models.Message, error) {
	endpoint := fmt.Sprintf(
		"messages?conversation_id=eq.%s&order=created_at.desc,id.desc&limit=%d&select=*",
		conversationID, limit,
	)
	if before != "" {
		cur, err := resolveCursor(ctx, r, conversationID, before)
		if err != nil {
			return nil, err
		}
		if cur.anchor != nil {
			ts := cur.anchor.CreatedAt.Format(time.RFC3339Nano)
			endpoint += fmt.Sprintf(
				"&or=(created_at.lt.%s,and(created_at.eq.%s,id.lt.%s))",
				ts, ts, cur.anchor.ID,
			)
		} else {
			endpoint += fmt.Sprintf("&created_at=lt.%s", cur.at.Format(time.RFC3339Nano))
		}
	}

	respBody, err := r.doRequest(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, err
	}

	var rows []models.Message
	if err := json.Unmarshal(respBody, &rows); err != nil {
		return nil, fmt.Errorf("failed to parse messages: %w", err)
	}

	// Rows arrive newest first; reverse into oldest-to-newest order.
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	return rows, nil
}

// UpdateMessage writes the mutable fields of msg back to its row.
func (r *REST) UpdateMessage(ctx context.Context, msg *models.Message) error {
	data := map[string]interface{}{
		"content":     msg.Content,
		"edited_at":   msg.EditedAt,
		"is_edited":   msg.IsEdited,
		"is_deleted":  msg.IsDeleted,
		"attachments": msg.Attachments,
	}
	endpoint := fmt.Sprintf("messages?id=eq.%s", msg.ID)
	respBody, err := r.doRequest(ctx, "PATCH", endpoint, data)
	if err != nil {
		return err
	}

	var rows []json.RawMessage
	if err := json.Unmarshal(respBody, &rows); err == nil && len(rows) == 0 {
		return ErrNotFound
	}
	return nil
}
