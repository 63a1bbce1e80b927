// Package agent talks to the LLM that answers questions on behalf of the assistant.
package agent

import (
	"context"
	"strings"

	"github.com/Harryoung/efka-sub000/internal/models"
)

// Agent answers a question in the context of a session
type Agent interface {
	Respond(ctx context.Context, req *models.AgentRequest) (*models.AgentReply, error)
}

// NeedsExpertMarker is how the model signals it cannot answer with confidence
const NeedsExpertMarker = "[NEEDS_EXPERT]"

// DefaultSystemPrompt instructs the model to use the escalation marker
const DefaultSystemPrompt = `You are the company's knowledge-base assistant. Answer employees' questions concisely using the knowledge base.
If you cannot answer with confidence, give your best partial answer and end your reply with ` + NeedsExpertMarker + ` on its own line so the question is handed to a human expert.`

// ParseReply strips the escalation marker and sets NeedsExpert when it is present
func ParseReply(raw string) *models.AgentReply {
	text := strings.TrimSpace(raw)
	needsExpert := false
	if strings.Contains(text, NeedsExpertMarker) {
		needsExpert = true
		text = strings.TrimSpace(strings.ReplaceAll(text, NeedsExpertMarker, ""))
	}
	if text == "" && !needsExpert {
		// An empty answer is no answer
		needsExpert = true
	}
	return &models.AgentReply{AnswerText: text, NeedsExpert: needsExpert}
}

// sessionBrief renders what the session already knows for the system prompt
func sessionBrief(req *models.AgentRequest) string {
	var b strings.Builder
	if req.Summary != "" {
		b.WriteString("Conversation so far: ")
		b.WriteString(req.Summary)
		b.WriteString("\n")
	}
	if len(req.KeyPoints) > 0 {
		b.WriteString("Key points: ")
		b.WriteString(strings.Join(req.KeyPoints, "; "))
		b.WriteString("\n")
	}
	return b.String()
}
