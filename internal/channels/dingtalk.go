package channels

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Harryoung/efka-sub000/internal/models"
)

const (
	dingTalkSignatureWindow = time.Hour
	dingTalkMaxChunkSize    = 6000
)

// DingTalkConfig configures the outgoing robot (inbound) and custom robot (outbound)
type DingTalkConfig struct {
	AppSecret    string // signs outgoing-robot callbacks
	RobotWebhook string // custom robot webhook including access_token
	RobotSecret  string // custom robot "加签" secret
}

// DingTalkAdapter receives outgoing-robot callbacks and replies through a
// custom robot webhook, mentioning the addressed staff id.
type DingTalkAdapter struct {
	cfg        DingTalkConfig
	httpClient *http.Client
	now        func() time.Time
}

// NewDingTalkAdapter creates the DingTalk adapter
func NewDingTalkAdapter(cfg DingTalkConfig) *DingTalkAdapter {
	return &DingTalkAdapter{cfg: cfg, httpClient: defaultHTTPClient(), now: time.Now}
}

func (d *DingTalkAdapter) Channel() models.Channel { return models.ChannelDingTalk }

func (d *DingTalkAdapter) SignatureHeaders() []string { return []string{"timestamp", "sign"} }

// VerifySignature expects "timestamp\nsign" and rejects timestamps outside the window
func (d *DingTalkAdapter) VerifySignature(_ []byte, signature string) bool {
	if d.cfg.AppSecret == "" {
		return false
	}
	timestamp, sign, ok := strings.Cut(signature, "\n")
	if !ok || timestamp == "" || sign == "" {
		return false
	}
	ms, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	skew := d.now().Sub(time.UnixMilli(ms))
	if skew < 0 {
		skew = -skew
	}
	if skew > dingTalkSignatureWindow {
		return false
	}
	expected := dingTalkSign(timestamp, d.cfg.AppSecret)
	return hmac.Equal([]byte(expected), []byte(sign))
}

func (d *DingTalkAdapter) ParseMessage(raw []byte) (*models.InboundMessage, error) {
	var cb models.DingTalkCallback
	if err := json.Unmarshal(raw, &cb); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if cb.MsgType != "" && cb.MsgType != "text" {
		return nil, ErrIgnored
	}
	text := strings.TrimSpace(cb.Text.Content)
	if text == "" {
		return nil, ErrIgnored
	}
	userID := cb.SenderStaffID
	if userID == "" {
		userID = cb.SenderID
	}
	if userID == "" || cb.MsgID == "" {
		return nil, fmt.Errorf("%w: msgId and sender are required", ErrMalformed)
	}

	received := d.now()
	if cb.CreateAt > 0 {
		received = time.UnixMilli(cb.CreateAt)
	}
	return &models.InboundMessage{
		MessageID:  cb.MsgID,
		Channel:    models.ChannelDingTalk,
		UserID:     userID,
		UserName:   cb.SenderNick,
		Text:       text,
		ReceivedAt: received,
	}, nil
}

type dingTalkResponse struct {
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

func (d *DingTalkAdapter) SendMessage(ctx context.Context, userID, content string) (*models.SendResult, error) {
	if d.cfg.RobotWebhook == "" {
		return nil, fmt.Errorf("dingtalk robot webhook is not configured")
	}

	chunks := splitMessageIntoChunks(content, dingTalkMaxChunkSize)
	for i, chunk := range chunks {
		if err := d.post(ctx, userID, chunk); err != nil {
			return nil, fmt.Errorf("failed to send chunk %d/%d: %w", i+1, len(chunks), err)
		}
	}
	return &models.SendResult{
		Channel: models.ChannelDingTalk,
		UserID:  userID,
		Chunks:  len(chunks),
		SentAt:  d.now(),
	}, nil
}

func (d *DingTalkAdapter) post(ctx context.Context, userID, content string) error {
	endpoint, err := d.signedWebhook()
	if err != nil {
		return err
	}

	payload := map[string]interface{}{
		"msgtype": "text",
		"text":    map[string]string{"content": content},
		"at":      map[string]interface{}{"atUserIds": []string{userID}},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send DingTalk message: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("DingTalk API error: status %d: %s", resp.StatusCode, string(respBody))
	}

	var result dingTalkResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return fmt.Errorf("DingTalk API returned unreadable body: %w", err)
	}
	if result.ErrCode != 0 {
		log.Printf("⚠️ [DINGTALK] robot rejected message: %d %s", result.ErrCode, result.ErrMsg)
		return fmt.Errorf("DingTalk API error: %d %s", result.ErrCode, result.ErrMsg)
	}
	return nil
}

// signedWebhook appends timestamp and sign when the robot has a secret
func (d *DingTalkAdapter) signedWebhook() (string, error) {
	if d.cfg.RobotSecret == "" {
		return d.cfg.RobotWebhook, nil
	}
	u, err := url.Parse(d.cfg.RobotWebhook)
	if err != nil {
		return "", fmt.Errorf("invalid dingtalk robot webhook: %w", err)
	}
	timestamp := strconv.FormatInt(d.now().UnixMilli(), 10)
	q := u.Query()
	q.Set("timestamp", timestamp)
	q.Set("sign", dingTalkSign(timestamp, d.cfg.RobotSecret))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// dingTalkSign is base64(HMAC-SHA256(secret, timestamp + "\n" + secret))
func dingTalkSign(timestamp, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp + "\n" + secret))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
