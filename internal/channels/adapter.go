// Package channels adapts the web, Telegram and DingTalk transports to the
// transport-neutral InboundMessage/SendResult shapes the router works with.
package channels

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/Harryoung/efka-sub000/internal/models"
)

var (
	// ErrIgnored marks a well-formed payload that carries nothing to route (stickers, joins, bot echoes)
	ErrIgnored = errors.New("payload ignored")

	// ErrMalformed marks a payload that cannot be parsed
	ErrMalformed = errors.New("malformed payload")
)

// Adapter is one transport. The HTTP layer reads the headers named by
// SignatureHeaders, joins their values with "\n" and hands that to VerifySignature.
type Adapter interface {
	Channel() models.Channel
	ParseMessage(raw []byte) (*models.InboundMessage, error)
	SendMessage(ctx context.Context, userID, content string) (*models.SendResult, error)
	VerifySignature(raw []byte, signature string) bool
	SignatureHeaders() []string
}

func defaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}
