package models

// AgentRequest is the context handed to the external answering agent.
// It never carries transcript bodies, only the key to fetch them.
type AgentRequest struct {
	SessionID      string   `json:"session_id"`
	UserID         string   `json:"user_id"`
	Role           Role     `json:"role"`
	Question       string   `json:"question"`
	Summary        string   `json:"summary"`
	KeyPoints      []string `json:"key_points"`
	FullContextKey string   `json:"full_context_key"`
}

// AgentReply is the agent's answer plus its escalation signal
type AgentReply struct {
	AnswerText  string `json:"answer_text"`
	NeedsExpert bool   `json:"needs_expert"`
}

// NewAgentRequest builds a request from the session's current state
func NewAgentRequest(s *Session, question string) *AgentRequest {
	return &AgentRequest{
		SessionID:      s.SessionID,
		UserID:         s.UserID,
		Role:           s.Role,
		Question:       question,
		Summary:        s.Summary,
		KeyPoints:      append([]string(nil), s.KeyPoints...),
		FullContextKey: s.FullContextKey,
	}
}
