package channels

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Harryoung/efka-sub000/internal/models"
	"github.com/leonid-shevtsov/telegold"
	"github.com/yuin/goldmark"
)

const (
	telegramAPIBase      = "https://api.telegram.org"
	telegramMaxChunkSize = 4000 // Telegram caps messages at 4096, leave margin
)

// Telegram Markdown converter using telegold (goldmark with Telegram HTML renderer)
var telegramMarkdownConverter = goldmark.New(goldmark.WithRenderer(telegold.NewRenderer()))

var (
	codeBlockPattern = regexp.MustCompile("```[a-zA-Z]*\\n([\\s\\S]*?)```")
	headerPattern    = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	linkPattern      = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)
)

// TelegramConfig configures the bot
type TelegramConfig struct {
	BotToken    string
	SecretToken string        // X-Telegram-Bot-Api-Secret-Token set via setWebhook
	APIBase     string        // override for tests
	ChunkDelay  time.Duration // pause between chunks of a long reply
}

// TelegramAdapter receives Bot API webhook updates and replies via sendMessage.
// A user is addressed by chat id; in private chats that equals the user id.
type TelegramAdapter struct {
	cfg        TelegramConfig
	httpClient *http.Client
	now        func() time.Time
}

// NewTelegramAdapter creates the Telegram adapter
func NewTelegramAdapter(cfg TelegramConfig) *TelegramAdapter {
	if cfg.APIBase == "" {
		cfg.APIBase = telegramAPIBase
	}
	if cfg.ChunkDelay < 0 {
		cfg.ChunkDelay = 0
	}
	return &TelegramAdapter{cfg: cfg, httpClient: defaultHTTPClient(), now: time.Now}
}

func (t *TelegramAdapter) Channel() models.Channel { return models.ChannelTelegram }

func (t *TelegramAdapter) SignatureHeaders() []string {
	return []string{"X-Telegram-Bot-Api-Secret-Token"}
}

func (t *TelegramAdapter) VerifySignature(_ []byte, signature string) bool {
	if t.cfg.SecretToken == "" || signature == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(signature), []byte(t.cfg.SecretToken)) == 1
}

func (t *TelegramAdapter) ParseMessage(raw []byte) (*models.InboundMessage, error) {
	var update models.TelegramUpdate
	if err := json.Unmarshal(raw, &update); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	msg := update.Message
	if msg == nil || msg.Chat == nil {
		return nil, ErrIgnored
	}
	if msg.From != nil && msg.From.IsBot {
		return nil, ErrIgnored
	}
	text := msg.Text
	if text == "" {
		text = msg.Caption
	}
	if strings.TrimSpace(text) == "" {
		return nil, ErrIgnored
	}

	inbound := &models.InboundMessage{
		MessageID:  strconv.FormatInt(update.UpdateID, 10),
		Channel:    models.ChannelTelegram,
		UserID:     strconv.FormatInt(msg.Chat.ID, 10),
		Text:       text,
		ReceivedAt: t.now(),
	}
	if msg.From != nil {
		inbound.UserName = strings.TrimSpace(msg.From.FirstName + " " + msg.From.LastName)
		if inbound.UserName == "" {
			inbound.UserName = msg.From.Username
		}
	}
	return inbound, nil
}

// SendMessage sends a long message by splitting it into chunks
func (t *TelegramAdapter) SendMessage(ctx context.Context, userID, content string) (*models.SendResult, error) {
	chatID, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid telegram chat id %q: %w", userID, err)
	}

	chunks := splitMessageIntoChunks(content, telegramMaxChunkSize)
	total := len(chunks)
	if total > 1 {
		log.Printf("📨 [TELEGRAM] Splitting message (%d chars) into %d chunks", len(content), total)
	}

	var lastID string
	for i, chunk := range chunks {
		if total > 1 {
			chunk = fmt.Sprintf("**[Part %d/%d]**\n\n%s", i+1, total, chunk)
		}
		id, err := t.sendChunk(ctx, chatID, chunk)
		if err != nil {
			return nil, fmt.Errorf("failed to send chunk %d/%d: %w", i+1, total, err)
		}
		lastID = id

		// Small delay between chunks to avoid rate limiting
		if i < total-1 && t.cfg.ChunkDelay > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(t.cfg.ChunkDelay):
			}
		}
	}

	return &models.SendResult{
		Channel:   models.ChannelTelegram,
		UserID:    userID,
		MessageID: lastID,
		Chunks:    total,
		SentAt:    t.now(),
	}, nil
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description,omitempty"`
	Result      struct {
		MessageID int64 `json:"message_id"`
	} `json:"result"`
}

// sendChunk uses HTML (more reliable than MarkdownV2) and falls back to plain
// text when Telegram rejects the entities.
func (t *TelegramAdapter) sendChunk(ctx context.Context, chatID int64, text string) (string, error) {
	status, body, err := t.post(ctx, map[string]interface{}{
		"chat_id":    chatID,
		"text":       convertToTelegramHTML(text),
		"parse_mode": "HTML",
	})
	if err != nil {
		return "", fmt.Errorf("failed to send Telegram message: %w", err)
	}
	if status == http.StatusOK {
		return telegramMessageID(body), nil
	}

	errStr := string(body)
	if !strings.Contains(errStr, "can't parse entities") {
		return "", fmt.Errorf("Telegram API error: %s", errStr)
	}

	log.Printf("⚠️ [TELEGRAM] HTML parsing failed, retrying without parse_mode")
	status, body, err = t.post(ctx, map[string]interface{}{
		"chat_id": chatID,
		"text":    stripMarkdown(text),
	})
	if err != nil {
		return "", fmt.Errorf("failed to send Telegram message (plain): %w", err)
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("Telegram API error (plain): %s", string(body))
	}
	return telegramMessageID(body), nil
}

func (t *TelegramAdapter) post(ctx context.Context, payload map[string]interface{}) (int, []byte, error) {
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.cfg.APIBase, t.cfg.BotToken)
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, respBody, nil
}

func telegramMessageID(body []byte) string {
	var resp telegramResponse
	if err := json.Unmarshal(body, &resp); err != nil || resp.Result.MessageID == 0 {
		return ""
	}
	return strconv.FormatInt(resp.Result.MessageID, 10)
}

// convertToTelegramHTML converts standard Markdown to Telegram-compatible HTML
func convertToTelegramHTML(text string) string {
	var buf bytes.Buffer
	if err := telegramMarkdownConverter.Convert([]byte(text), &buf); err != nil {
		// If conversion fails, return original text
		log.Printf("⚠️ [TELEGRAM] Markdown conversion failed: %v", err)
		return text
	}
	return buf.String()
}

// stripMarkdown removes Markdown formatting for plain text fallback
func stripMarkdown(text string) string {
	text = strings.ReplaceAll(text, "**", "")
	text = strings.ReplaceAll(text, "__", "")
	// Remove code blocks - keep content
	text = codeBlockPattern.ReplaceAllString(text, "$1")
	text = strings.ReplaceAll(text, "`", "")
	text = strings.ReplaceAll(text, "~~", "")
	text = headerPattern.ReplaceAllString(text, "")
	// Convert links [text](url) to "text (url)"
	text = linkPattern.ReplaceAllString(text, "$1 ($2)")
	return text
}

// splitMessageIntoChunks splits a message into chunks respecting boundaries
func splitMessageIntoChunks(text string, maxSize int) []string {
	if len(text) <= maxSize {
		return []string{text}
	}

	var chunks []string
	remaining := text

	for len(remaining) > 0 {
		if len(remaining) <= maxSize {
			chunks = append(chunks, remaining)
			break
		}

		chunk := remaining[:maxSize]
		breakPoint := maxSize

		// Code fences first, then paragraphs, lines, sentences, words
		if idx := strings.LastIndex(chunk, "\n```"); idx > maxSize/2 {
			breakPoint = idx + 1
		} else if idx := strings.LastIndex(chunk, "```\n"); idx > maxSize/2 {
			breakPoint = idx + 4
		} else if idx := strings.LastIndex(chunk, "\n\n"); idx > maxSize/2 {
			breakPoint = idx + 2
		} else if idx := strings.LastIndex(chunk, "\n"); idx > maxSize/2 {
			breakPoint = idx + 1
		} else if idx := strings.LastIndex(chunk, ". "); idx > maxSize/2 {
			breakPoint = idx + 2
		} else if idx := strings.LastIndex(chunk, " "); idx > maxSize/2 {
			breakPoint = idx + 1
		}

		// Never cut a multi-byte rune in half
		for breakPoint > 0 && !utf8.RuneStart(remaining[breakPoint]) {
			breakPoint--
		}

		if piece := strings.TrimSpace(remaining[:breakPoint]); piece != "" {
			chunks = append(chunks, piece)
		}
		remaining = strings.TrimSpace(remaining[breakPoint:])
	}

	return chunks
}
