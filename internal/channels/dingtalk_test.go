package channels

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/Harryoung/efka-sub000/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDingTalkSign(t *testing.T) {
	a := dingTalkSign("1700000000000", "secret")
	b := dingTalkSign("1700000000000", "secret")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, dingTalkSign("1700000000001", "secret"))
	assert.NotEqual(t, a, dingTalkSign("1700000000000", "other"))
}

func TestDingTalkAdapter_VerifySignature(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	d := NewDingTalkAdapter(DingTalkConfig{AppSecret: "app-secret"})
	d.now = func() time.Time { return now }

	sig := func(at time.Time, secret string) string {
		ts := strconv.FormatInt(at.UnixMilli(), 10)
		return ts + "\n" + dingTalkSign(ts, secret)
	}

	assert.True(t, d.VerifySignature(nil, sig(now, "app-secret")))
	assert.True(t, d.VerifySignature(nil, sig(now.Add(-59*time.Minute), "app-secret")))
	assert.False(t, d.VerifySignature(nil, sig(now.Add(-61*time.Minute), "app-secret")))
	assert.False(t, d.VerifySignature(nil, sig(now.Add(61*time.Minute), "app-secret")))
	assert.False(t, d.VerifySignature(nil, sig(now, "wrong")))
	assert.False(t, d.VerifySignature(nil, "no-newline"))
	assert.False(t, d.VerifySignature(nil, "abc\nsig"))

	unsigned := NewDingTalkAdapter(DingTalkConfig{})
	assert.False(t, unsigned.VerifySignature(nil, sig(now, "")))
}

func TestDingTalkAdapter_ParseMessage(t *testing.T) {
	d := NewDingTalkAdapter(DingTalkConfig{})

	msg, err := d.ParseMessage([]byte(`{"msgId":"m1","msgtype":"text","text":{"content":" 报销流程在财务系统里提交 "},"senderId":"$:abc","senderStaffId":"staff-42","senderNick":"Zhang","createAt":1772366400000}`))
	require.NoError(t, err)
	assert.Equal(t, "m1", msg.MessageID)
	assert.Equal(t, "staff-42", msg.UserID)
	assert.Equal(t, "报销流程在财务系统里提交", msg.Text)
	assert.Equal(t, models.ChannelDingTalk, msg.Channel)
	assert.Equal(t, int64(1772366400000), msg.ReceivedAt.UnixMilli())

	msg, err = d.ParseMessage([]byte(`{"msgId":"m2","msgtype":"text","text":{"content":"hi"},"senderId":"$:abc"}`))
	require.NoError(t, err)
	assert.Equal(t, "$:abc", msg.UserID)

	_, err = d.ParseMessage([]byte(`{"msgId":"m3","msgtype":"picture","senderStaffId":"s"}`))
	assert.ErrorIs(t, err, ErrIgnored)

	_, err = d.ParseMessage([]byte(`{"msgtype":"text","text":{"content":"hi"}}`))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestDingTalkAdapter_SendMessage(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var got struct {
		MsgType string `json:"msgtype"`
		Text    struct {
			Content string `json:"content"`
		} `json:"text"`
		At struct {
			AtUserIDs []string `json:"atUserIds"`
		} `json:"at"`
	}
	var query map[string]string

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = map[string]string{
			"access_token": r.URL.Query().Get("access_token"),
			"timestamp":    r.URL.Query().Get("timestamp"),
			"sign":         r.URL.Query().Get("sign"),
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"errcode":0,"errmsg":"ok"}`))
	}))
	defer ts.Close()

	d := NewDingTalkAdapter(DingTalkConfig{RobotWebhook: ts.URL + "/robot/send?access_token=tok", RobotSecret: "robot-secret"})
	d.now = func() time.Time { return now }

	res, err := d.SendMessage(context.Background(), "staff-42", "New question for you")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Chunks)

	assert.Equal(t, "text", got.MsgType)
	assert.Equal(t, "New question for you", got.Text.Content)
	assert.Equal(t, []string{"staff-42"}, got.At.AtUserIDs)

	wantTS := strconv.FormatInt(now.UnixMilli(), 10)
	assert.Equal(t, "tok", query["access_token"])
	assert.Equal(t, wantTS, query["timestamp"])
	assert.Equal(t, dingTalkSign(wantTS, "robot-secret"), query["sign"])
}

func TestDingTalkAdapter_SendMessageRejected(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"errcode":310000,"errmsg":"sign not match"}`))
	}))
	defer ts.Close()

	d := NewDingTalkAdapter(DingTalkConfig{RobotWebhook: ts.URL})
	_, err := d.SendMessage(context.Background(), "staff-42", "hi")
	assert.ErrorContains(t, err, "310000")

	_, err = NewDingTalkAdapter(DingTalkConfig{}).SendMessage(context.Background(), "staff-42", "hi")
	assert.Error(t, err)
}
