package models

import (
	"fmt"
	"strings"
	"time"
)

// Channel identifies the transport a message arrived on
type Channel string

const (
	ChannelWeb      Channel = "web"
	ChannelTelegram Channel = "telegram"
	ChannelDingTalk Channel = "dingtalk"
)

// ParseChannel validates a channel name
func ParseChannel(s string) (Channel, error) {
	c := Channel(strings.ToLower(strings.TrimSpace(s)))
	switch c {
	case ChannelWeb, ChannelTelegram, ChannelDingTalk:
		return c, nil
	}
	return "", fmt.Errorf("unsupported channel: %q", s)
}

// InboundMessage is the transport-neutral shape every adapter parses into
type InboundMessage struct {
	MessageID  string    `json:"message_id"`
	Channel    Channel   `json:"channel"`
	UserID     string    `json:"user_id"`
	UserName   string    `json:"user_name,omitempty"`
	Text       string    `json:"text"`
	SessionID  string    `json:"session_id,omitempty"` // explicit reference, web only in practice
	ReceivedAt time.Time `json:"received_at"`
}

// SendResult is what an adapter reports back for an outbound message
type SendResult struct {
	Channel   Channel   `json:"channel"`
	UserID    string    `json:"user_id"`
	MessageID string    `json:"message_id,omitempty"`
	Chunks    int       `json:"chunks"`
	SentAt    time.Time `json:"sent_at"`
}

// TelegramUpdate represents an incoming Telegram webhook update
type TelegramUpdate struct {
	UpdateID int64            `json:"update_id"`
	Message  *TelegramMessage `json:"message,omitempty"`
}

// TelegramMessage represents a Telegram message
type TelegramMessage struct {
	MessageID int64         `json:"message_id"`
	From      *TelegramUser `json:"from,omitempty"`
	Chat      *TelegramChat `json:"chat"`
	Date      int64         `json:"date"`
	Text      string        `json:"text,omitempty"`
	Caption   string        `json:"caption,omitempty"`
}

// TelegramUser represents a Telegram user
type TelegramUser struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name,omitempty"`
	Username  string `json:"username,omitempty"`
}

// TelegramChat represents a Telegram chat
type TelegramChat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"` // "private", "group", "supergroup", "channel"
}

// DingTalkCallback is the body DingTalk posts to an outgoing robot
type DingTalkCallback struct {
	MsgID            string           `json:"msgId"`
	MsgType          string           `json:"msgtype"`
	Text             DingTalkText     `json:"text"`
	ConversationID   string           `json:"conversationId"`
	ConversationType string           `json:"conversationType"` // "1" single chat, "2" group
	SenderID         string           `json:"senderId"`
	SenderStaffID    string           `json:"senderStaffId"`
	SenderNick       string           `json:"senderNick"`
	CreateAt         int64            `json:"createAt"`
	SessionWebhook   string           `json:"sessionWebhook,omitempty"`
	AtUsers          []DingTalkAtUser `json:"atUsers,omitempty"`
}

// DingTalkText is the text payload of a DingTalk message
type DingTalkText struct {
	Content string `json:"content"`
}

// DingTalkAtUser is a mention inside a DingTalk group message
type DingTalkAtUser struct {
	DingtalkID string `json:"dingtalkId"`
	StaffID    string `json:"staffId,omitempty"`
}
