package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/Harryoung/efka-sub000/internal/models"
	"github.com/Harryoung/efka-sub000/internal/transcript"
	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
)

// OpenAIConfig configures an OpenAI-compatible chat endpoint
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string // empty uses api.openai.com
	Model        string
	SystemPrompt string
	HistoryTurns int
	Timeout      time.Duration
}

// OpenAIAgent answers through any OpenAI-compatible chat completions API and
// records each exchange in the transcript store
type OpenAIAgent struct {
	client       *openai.Client
	model        string
	systemPrompt string
	historyTurns int
	timeout      time.Duration
	transcripts  transcript.Store
	logger       *logrus.Logger
}

// NewOpenAIAgent creates the agent. transcripts may be nil to skip history.
func NewOpenAIAgent(cfg OpenAIConfig, transcripts transcript.Store) *OpenAIAgent {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.HistoryTurns <= 0 {
		cfg.HistoryTurns = 10
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	a := &OpenAIAgent{
		client:       openai.NewClientWithConfig(clientConfig),
		model:        cfg.Model,
		systemPrompt: cfg.SystemPrompt,
		historyTurns: cfg.HistoryTurns,
		timeout:      cfg.Timeout,
		transcripts:  transcripts,
		logger:       logger,
	}
	a.logger.WithFields(logrus.Fields{"model": cfg.Model, "baseURL": clientConfig.BaseURL}).Info("OpenAI agent initialized")
	return a
}

// Respond asks the model and parses the escalation marker
func (a *OpenAIAgent) Respond(ctx context.Context, req *models.AgentRequest) (*models.AgentReply, error) {
	log := a.logger.WithFields(logrus.Fields{"session_id": req.SessionID, "user_id": req.UserID})

	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: a.systemPrompt + "\n\n" + sessionBrief(req)},
	}
	messages = append(messages, a.history(ctx, log, req.FullContextKey)...)
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Question})

	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	started := time.Now()
	resp, err := a.client.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
		Model:    a.model,
		Messages: messages,
	})
	if err != nil {
		log.WithError(err).Error("Chat completion failed")
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		log.Warn("Chat completion returned no choices")
		return nil, fmt.Errorf("chat completion returned no choices")
	}

	reply := ParseReply(resp.Choices[0].Message.Content)
	log.WithFields(logrus.Fields{
		"duration_ms":   time.Since(started).Milliseconds(),
		"finish_reason": resp.Choices[0].FinishReason,
		"needs_expert":  reply.NeedsExpert,
	}).Info("Agent replied")

	a.record(ctx, log, req.FullContextKey, transcript.Turn{Speaker: transcript.SpeakerUser, Content: req.Question})
	a.record(ctx, log, req.FullContextKey, transcript.Turn{Speaker: transcript.SpeakerAssistant, Content: reply.AnswerText})
	return reply, nil
}

func (a *OpenAIAgent) history(ctx context.Context, log *logrus.Entry, key string) []openai.ChatCompletionMessage {
	if a.transcripts == nil || key == "" {
		return nil
	}
	turns, err := a.transcripts.Load(ctx, key, a.historyTurns)
	if err != nil {
		log.WithError(err).Warn("Failed to load transcript, answering without history")
		return nil
	}

	out := make([]openai.ChatCompletionMessage, 0, len(turns))
	for _, t := range turns {
		switch t.Speaker {
		case transcript.SpeakerUser:
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: t.Content})
		case transcript.SpeakerExpert:
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: "Expert: " + t.Content})
		default:
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: t.Content})
		}
	}
	return out
}

// record appends a turn; a transcript failure never fails the answer
func (a *OpenAIAgent) record(ctx context.Context, log *logrus.Entry, key string, turn transcript.Turn) {
	if a.transcripts == nil || key == "" || turn.Content == "" {
		return
	}
	if err := a.transcripts.Append(ctx, key, turn); err != nil {
		log.WithError(err).Warn("Failed to append transcript turn")
	}
}
