package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Harryoung/efka-sub000/internal/models"
	"github.com/Harryoung/efka-sub000/internal/transcript"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseReply(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		wantText   string
		wantExpert bool
	}{
		{"plain answer", "Use the portal.", "Use the portal.", false},
		{"marker on its own line", "I think it is the portal.\n[NEEDS_EXPERT]", "I think it is the portal.", true},
		{"marker only", "  [NEEDS_EXPERT] ", "", true},
		{"empty", "   ", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseReply(tt.raw)
			assert.Equal(t, tt.wantText, got.AnswerText)
			assert.Equal(t, tt.wantExpert, got.NeedsExpert)
		})
	}
}

// chatServer fakes the chat completions endpoint and captures the request
func chatServer(t *testing.T, content string, captured *openai.ChatCompletionRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(captured))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
			ID:     "chatcmpl-test",
			Object: "chat.completion",
			Model:  captured.Model,
			Choices: []openai.ChatCompletionChoice{{
				Index:        0,
				Message:      openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: content},
				FinishReason: openai.FinishReasonStop,
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAIAgent_Respond(t *testing.T) {
	var captured openai.ChatCompletionRequest
	srv := chatServer(t, "Reset it from the VPN portal.\n[NEEDS_EXPERT]", &captured)

	transcripts := transcript.NewMemoryStore(time.Hour)
	ctx := context.Background()
	require.NoError(t, transcripts.Append(ctx, "ctx-1", transcript.Turn{Speaker: transcript.SpeakerUser, Content: "earlier question"}))
	require.NoError(t, transcripts.Append(ctx, "ctx-1", transcript.Turn{Speaker: transcript.SpeakerAssistant, Content: "earlier answer"}))

	a := NewOpenAIAgent(OpenAIConfig{APIKey: "test", BaseURL: srv.URL + "/v1", Model: "test-model"}, transcripts)

	reply, err := a.Respond(ctx, &models.AgentRequest{
		SessionID:      "s1",
		UserID:         "u1",
		Question:       "How do I reset my VPN password?",
		Summary:        "Q: VPN",
		KeyPoints:      []string{"vpn"},
		FullContextKey: "ctx-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "Reset it from the VPN portal.", reply.AnswerText)
	assert.True(t, reply.NeedsExpert)

	assert.Equal(t, "test-model", captured.Model)
	require.Len(t, captured.Messages, 4)
	assert.Equal(t, openai.ChatMessageRoleSystem, captured.Messages[0].Role)
	assert.Contains(t, captured.Messages[0].Content, "Key points: vpn")
	assert.Equal(t, "earlier question", captured.Messages[1].Content)
	assert.Equal(t, openai.ChatMessageRoleAssistant, captured.Messages[2].Role)
	assert.Equal(t, "How do I reset my VPN password?", captured.Messages[3].Content)

	turns, err := transcripts.Load(ctx, "ctx-1", 0)
	require.NoError(t, err)
	require.Len(t, turns, 4)
	assert.Equal(t, transcript.SpeakerUser, turns[2].Speaker)
	assert.Equal(t, "Reset it from the VPN portal.", turns[3].Content)
}

func TestOpenAIAgent_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":{"message":"upstream down","type":"server_error"}}`))
	}))
	defer srv.Close()

	transcripts := transcript.NewMemoryStore(time.Hour)
	a := NewOpenAIAgent(OpenAIConfig{APIKey: "test", BaseURL: srv.URL + "/v1"}, transcripts)

	_, err := a.Respond(context.Background(), &models.AgentRequest{Question: "hi", FullContextKey: "ctx-2"})
	assert.Error(t, err)

	turns, err := transcripts.Load(context.Background(), "ctx-2", 0)
	require.NoError(t, err)
	assert.Empty(t, turns)
}
