package channels

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Harryoung/efka-sub000/internal/models"
	"github.com/Harryoung/efka-sub000/pkg/auth"
	"github.com/google/uuid"
	cache "github.com/patrickmn/go-cache"
)

const maxOutboxMessages = 100

// WebRequest is the body of a web channel ask
type WebRequest struct {
	MessageID string `json:"message_id,omitempty"`
	UserID    string `json:"user_id"`
	UserName  string `json:"user_name,omitempty"`
	Text      string `json:"text"`
	SessionID string `json:"session_id,omitempty"`
}

// OutboxMessage is a reply waiting for the web client to collect it
type OutboxMessage struct {
	MessageID string    `json:"message_id"`
	Content   string    `json:"content"`
	SentAt    time.Time `json:"sent_at"`
}

// WebAdapter authenticates web users with bearer tokens and buffers replies
// in a per-user outbox until the client drains it.
type WebAdapter struct {
	auth   *auth.LocalJWTAuth
	outbox *cache.Cache
	mu     sync.Mutex
	now    func() time.Time
}

// NewWebAdapter creates the web adapter; undrained replies are dropped after retention
func NewWebAdapter(tokens *auth.LocalJWTAuth, retention time.Duration) *WebAdapter {
	if retention <= 0 {
		retention = time.Hour
	}
	return &WebAdapter{
		auth:   tokens,
		outbox: cache.New(retention, retention/2),
		now:    time.Now,
	}
}

func (w *WebAdapter) Channel() models.Channel { return models.ChannelWeb }

func (w *WebAdapter) SignatureHeaders() []string { return []string{"Authorization"} }

func (w *WebAdapter) ParseMessage(raw []byte) (*models.InboundMessage, error) {
	var req WebRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" || strings.TrimSpace(req.Text) == "" {
		return nil, fmt.Errorf("%w: user_id and text are required", ErrMalformed)
	}
	if req.MessageID == "" {
		req.MessageID = uuid.New().String()
	}
	return &models.InboundMessage{
		MessageID:  req.MessageID,
		Channel:    models.ChannelWeb,
		UserID:     req.UserID,
		UserName:   req.UserName,
		Text:       req.Text,
		SessionID:  strings.TrimSpace(req.SessionID),
		ReceivedAt: w.now(),
	}, nil
}

// VerifySignature accepts a bearer token whose subject is the body's user_id
func (w *WebAdapter) VerifySignature(raw []byte, signature string) bool {
	token, err := auth.ExtractToken(signature)
	if err != nil {
		return false
	}
	claims, err := w.auth.VerifyToken(token)
	if err != nil {
		return false
	}
	var req WebRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return false
	}
	return claims.Subject == strings.TrimSpace(req.UserID)
}

// Subject returns the user a bearer header authenticates, for read-only endpoints
func (w *WebAdapter) Subject(authorization string) (string, error) {
	token, err := auth.ExtractToken(authorization)
	if err != nil {
		return "", err
	}
	claims, err := w.auth.VerifyToken(token)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

func (w *WebAdapter) SendMessage(ctx context.Context, userID, content string) (*models.SendResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	msg := OutboxMessage{MessageID: uuid.New().String(), Content: content, SentAt: w.now()}

	w.mu.Lock()
	var queue []OutboxMessage
	if v, ok := w.outbox.Get(userID); ok {
		queue = v.([]OutboxMessage)
	}
	queue = append(queue, msg)
	if len(queue) > maxOutboxMessages {
		queue = queue[len(queue)-maxOutboxMessages:]
	}
	w.outbox.SetDefault(userID, queue)
	w.mu.Unlock()

	return &models.SendResult{
		Channel:   models.ChannelWeb,
		UserID:    userID,
		MessageID: msg.MessageID,
		Chunks:    1,
		SentAt:    msg.SentAt,
	}, nil
}

// Drain returns and clears the user's pending replies, oldest first
func (w *WebAdapter) Drain(userID string) []OutboxMessage {
	w.mu.Lock()
	defer w.mu.Unlock()
	v, ok := w.outbox.Get(userID)
	if !ok {
		return []OutboxMessage{}
	}
	w.outbox.Delete(userID)
	return v.([]OutboxMessage)
}
