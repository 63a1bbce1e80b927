package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Harryoung/efka-sub000/internal/agent"
	"github.com/Harryoung/efka-sub000/internal/logging"
	"github.com/Harryoung/efka-sub000/internal/models"
	cache "github.com/patrickmn/go-cache"
)

// Dispatcher delivers outbound text on a channel
type Dispatcher interface {
	Send(ctx context.Context, channel models.Channel, userID, content string) (*models.SendResult, error)
}

// RouteKind is how an inbound message was classified
type RouteKind string

const (
	RouteDuplicate    RouteKind = "duplicate"
	RouteNewQuestion  RouteKind = "new_question"
	RouteFollowUp     RouteKind = "follow_up"
	RouteFeedback     RouteKind = "feedback"
	RouteExpertAnswer RouteKind = "expert_answer"
)

// RouteResult describes what the router did with one message
type RouteResult struct {
	Kind      RouteKind
	Session   *models.Session // the asker's session after routing, nil if none
	Match     MatchReason
	Feedback  Feedback
	Escalated bool
	AgentErr  error // agent failure, already answered with an apology
}

// User-facing notices
const (
	msgRetry             = "Sorry, we could not save your message right now. Please try again."
	msgAgentFailed       = "Sorry, the assistant could not answer right now. Please try again in a moment."
	msgResolved          = "Glad that helped! This question is now closed."
	msgNothingPending    = "There is no open question to give feedback on. Feel free to ask a new one."
	msgStillWaiting      = "Your question is still with an expert. We will forward the answer as soon as it arrives."
	msgNoExpert          = "No expert is available for this topic right now."
	msgExpertExpired     = "The original question has expired, so your answer could not be delivered."
	msgExpertClosed      = "The original question was already closed, so your answer was not forwarded."
	msgExpertSent        = "Thanks! Your answer has been forwarded."
	msgExpertUndelivered = "Your answer was recorded but could not be delivered to the asker."
	msgAskerClosed       = "The asker has closed this question. No answer is needed."
)

// RouterConfig tunes routing
type RouterConfig struct {
	Candidates   int           // disambiguation window K
	DedupeWindow time.Duration // how long a message id is remembered
}

// ChannelRouter is the entry point for every inbound message. It classifies the
// message, mutates sessions through the manager, calls the agent and dispatches replies.
type ChannelRouter struct {
	sessions   *SessionManager
	matcher    *Disambiguator
	experts    *ExpertDirectory
	agent      agent.Agent
	outbound   Dispatcher
	metrics    *Metrics
	seen       *cache.Cache
	candidates int
}

// NewChannelRouter wires the router. experts may be empty but not nil.
func NewChannelRouter(
	sessions *SessionManager,
	matcher *Disambiguator,
	experts *ExpertDirectory,
	responder agent.Agent,
	outbound Dispatcher,
	metrics *Metrics,
	cfg RouterConfig,
) *ChannelRouter {
	if cfg.Candidates <= 0 {
		cfg.Candidates = 5
	}
	if cfg.DedupeWindow <= 0 {
		cfg.DedupeWindow = 10 * time.Minute
	}
	return &ChannelRouter{
		sessions:   sessions,
		matcher:    matcher,
		experts:    experts,
		agent:      responder,
		outbound:   outbound,
		metrics:    metrics,
		seen:       cache.New(cfg.DedupeWindow, 2*cfg.DedupeWindow),
		candidates: cfg.Candidates,
	}
}

// HandleInbound routes one parsed message
func (r *ChannelRouter) HandleInbound(ctx context.Context, msg *models.InboundMessage) (*RouteResult, error) {
	if msg == nil || strings.TrimSpace(msg.UserID) == "" {
		return nil, fmt.Errorf("inbound message has no sender")
	}
	if strings.TrimSpace(msg.Text) == "" {
		return nil, fmt.Errorf("inbound message has no text")
	}

	logger := logging.WithInbound(string(msg.Channel), msg.MessageID, msg.UserID)

	var key string
	if msg.MessageID != "" {
		key = string(msg.Channel) + ":" + msg.MessageID
		if err := r.seen.Add(key, struct{}{}, cache.DefaultExpiration); err != nil {
			logger.Debug("dropping duplicate delivery")
			r.metrics.RecordInbound(msg.Channel, RouteDuplicate)
			return &RouteResult{Kind: RouteDuplicate}, nil
		}
	}

	result, err := r.route(ctx, logger, msg)
	if result != nil {
		r.metrics.RecordInbound(msg.Channel, result.Kind)
	}
	if Redeliverable(err) {
		// A redelivery of this message must be routed again
		if key != "" {
			r.seen.Delete(key)
		}
		logger.Warn("message not routed, asking sender to retry", "error", err)
		r.notify(ctx, logger, msg.Channel, msg.UserID, msgRetry)
	}
	return result, err
}

// Redeliverable reports whether err left the message unrouted for a reason a
// later delivery of the same message can get past
func Redeliverable(err error) bool {
	return errors.Is(err, models.ErrConcurrentUpdateExhausted) ||
		errors.Is(err, models.ErrStoreUnavailable) ||
		errors.Is(err, models.ErrStoreTimeout)
}

func (r *ChannelRouter) route(ctx context.Context, logger *slog.Logger, msg *models.InboundMessage) (*RouteResult, error) {
	role := models.RoleEmployee
	if expert, ok := r.experts.Lookup(msg.Channel, msg.UserID); ok {
		role = models.RoleExpertAsEmployee

		target, reason, err := r.expertTarget(ctx, msg)
		if err != nil {
			return nil, err
		}
		if target != nil {
			return r.handleExpertAnswer(ctx, logger, expert, target, reason, msg)
		}
	}

	if msg.SessionID != "" {
		s, err := r.sessions.GetSession(ctx, msg.SessionID)
		switch {
		case err == nil && s.UserID == msg.UserID && s.Role == role && !s.Status.Terminal():
			return r.handleReply(ctx, logger, s, MatchExplicit, msg)
		case err == nil, errors.Is(err, models.ErrNotFound):
			logger.Info("explicit session reference not usable, treating as new question", "ref", msg.SessionID)
		default:
			return nil, err
		}
		return r.handleNewQuestion(ctx, logger, msg, role)
	}

	pending, err := r.sessions.PendingSessions(ctx, msg.UserID, role, r.candidates)
	if err != nil {
		return nil, err
	}

	if fb := DetectFeedback(msg.Text); fb != FeedbackNone {
		match, err := r.matcher.Resolve(msg.Text, pending)
		if errors.Is(err, models.ErrNoPendingSession) {
			if !IsBareFeedback(msg.Text) {
				return r.handleNewQuestion(ctx, logger, msg, role)
			}
			r.notify(ctx, logger, msg.Channel, msg.UserID, msgNothingPending)
			return &RouteResult{Kind: RouteFeedback, Feedback: fb}, nil
		}
		if err != nil {
			return nil, err
		}
		r.metrics.RecordDisambiguation(match.Reason)
		return r.handleReply(ctx, logger, match.Session, match.Reason, msg)
	}

	if match, ok := r.matcher.BestContentMatch(msg.Text, pending); ok {
		r.metrics.RecordDisambiguation(match.Reason)
		return r.handleReply(ctx, logger, match.Session, match.Reason, msg)
	}
	return r.handleNewQuestion(ctx, logger, msg, role)
}

// expertTarget finds the EXPERT session an expert's message answers, nil if the
// message is not an answer. A message that reads like the expert's own question
// or feedback, or comes while the expert has questions of their own open, only
// counts as an answer when it names the session or matches one by content.
func (r *ChannelRouter) expertTarget(ctx context.Context, msg *models.InboundMessage) (*models.Session, MatchReason, error) {
	if msg.SessionID != "" {
		s, err := r.sessions.GetSession(ctx, msg.SessionID)
		if err != nil && !errors.Is(err, models.ErrNotFound) {
			return nil, "", err
		}
		if err == nil && s.Role == models.RoleExpert && s.UserID == msg.UserID && !s.Status.Terminal() {
			return s, MatchExplicit, nil
		}
		if err == nil && s.Role == models.RoleExpertAsEmployee {
			return nil, "", nil
		}
	}

	pending, err := r.sessions.PendingSessions(ctx, msg.UserID, models.RoleExpert, r.candidates)
	if err != nil {
		return nil, "", err
	}
	if len(pending) == 0 {
		return nil, "", nil
	}

	ambiguous := DetectFeedback(msg.Text) != FeedbackNone || asksQuestion(normalize(msg.Text))
	if !ambiguous {
		own, err := r.sessions.PendingSessions(ctx, msg.UserID, models.RoleExpertAsEmployee, 1)
		if err != nil {
			return nil, "", err
		}
		ambiguous = len(own) > 0
	}
	if ambiguous {
		match, ok := r.matcher.BestContentMatch(msg.Text, pending)
		if !ok {
			return nil, "", nil
		}
		r.metrics.RecordDisambiguation(match.Reason)
		return match.Session, match.Reason, nil
	}

	match, err := r.matcher.Resolve(msg.Text, pending)
	if errors.Is(err, models.ErrNoPendingSession) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", err
	}
	r.metrics.RecordDisambiguation(match.Reason)
	return match.Session, match.Reason, nil
}

// handleReply deals with feedback or a follow-up on an existing asker session
func (r *ChannelRouter) handleReply(ctx context.Context, logger *slog.Logger, s *models.Session, reason MatchReason, msg *models.InboundMessage) (*RouteResult, error) {
	logger = logging.WithSession(logger, s.SessionID, string(s.Role), string(s.Status))

	switch fb := DetectFeedback(msg.Text); fb {
	case FeedbackSatisfied:
		return r.resolveBySatisfaction(ctx, logger, s, reason, msg)
	case FeedbackDissatisfied:
		if s.Status == models.StatusWaitingExpert {
			updated, err := r.sessions.Mutate(ctx, s.SessionID, func(*models.Session) (models.SessionDelta, error) {
				return models.SessionDelta{KeyPoints: []string{"feedback: " + clip(msg.Text, 60)}}, nil
			})
			if err != nil {
				return nil, err
			}
			r.notify(ctx, logger, msg.Channel, msg.UserID, msgStillWaiting)
			return &RouteResult{Kind: RouteFeedback, Session: updated, Match: reason, Feedback: fb}, nil
		}
		updated, escalated, err := r.escalate(ctx, logger, s, msg.Text, "")
		if err != nil {
			return nil, err
		}
		return &RouteResult{Kind: RouteFeedback, Session: updated, Match: reason, Feedback: fb, Escalated: escalated}, nil
	}

	updated, err := r.sessions.Mutate(ctx, s.SessionID, func(*models.Session) (models.SessionDelta, error) {
		return models.SessionDelta{
			Summary:   "Q: " + clip(msg.Text, 120),
			KeyPoints: []string{clip(msg.Text, 80)},
		}, nil
	})
	if err != nil {
		return nil, err
	}

	result := &RouteResult{Kind: RouteFollowUp, Match: reason}
	return r.answer(ctx, logger, updated, msg.Text, result)
}

func (r *ChannelRouter) resolveBySatisfaction(ctx context.Context, logger *slog.Logger, s *models.Session, reason MatchReason, msg *models.InboundMessage) (*RouteResult, error) {
	updated, err := r.sessions.Mutate(ctx, s.SessionID, func(*models.Session) (models.SessionDelta, error) {
		return models.SessionDelta{KeyPoints: []string{"feedback: satisfied"}}.WithStatus(models.StatusResolved), nil
	})
	if errors.Is(err, models.ErrInvalidTransition) || errors.Is(err, models.ErrNotFound) {
		r.notify(ctx, logger, msg.Channel, msg.UserID, msgNothingPending)
		return &RouteResult{Kind: RouteFeedback, Match: reason, Feedback: FeedbackSatisfied}, nil
	}
	if err != nil {
		return nil, err
	}
	logger.Info("session resolved by asker", "match", reason)

	// An expert may still hold the question; release them
	if updated.LinkedSessionID != "" {
		r.closeExpertSession(ctx, logger, updated.LinkedSessionID, msgAskerClosed)
	}

	r.notify(ctx, logger, msg.Channel, msg.UserID, msgResolved)
	return &RouteResult{Kind: RouteFeedback, Session: updated, Match: reason, Feedback: FeedbackSatisfied}, nil
}

// handleNewQuestion opens a session and asks the agent
func (r *ChannelRouter) handleNewQuestion(ctx context.Context, logger *slog.Logger, msg *models.InboundMessage, role models.Role) (*RouteResult, error) {
	created, err := r.sessions.CreateSession(ctx, msg.UserID, msg.Channel, role)
	if err != nil {
		return nil, err
	}
	logger = logging.WithSession(logger, created.SessionID, string(created.Role), string(created.Status))

	seeded, err := r.sessions.Mutate(ctx, created.SessionID, func(*models.Session) (models.SessionDelta, error) {
		return models.SessionDelta{
			Summary:   "Q: " + clip(msg.Text, 120),
			KeyPoints: []string{clip(msg.Text, 80)},
		}, nil
	})
	if err != nil {
		return nil, err
	}

	return r.answer(ctx, logger, seeded, msg.Text, &RouteResult{Kind: RouteNewQuestion})
}

// answer calls the agent outside any store interaction, records the answer and
// escalates when the agent asks for an expert
func (r *ChannelRouter) answer(ctx context.Context, logger *slog.Logger, s *models.Session, question string, result *RouteResult) (*RouteResult, error) {
	started := time.Now()
	reply, err := r.agent.Respond(ctx, models.NewAgentRequest(s, question))
	r.metrics.RecordAgentLatency(time.Since(started).Seconds())
	if err != nil {
		r.metrics.RecordAgentError()
		logger.Error("agent failed", "error", err)
		r.notify(ctx, logger, s.Channel, s.UserID, msgAgentFailed)
		result.Session = s
		result.AgentErr = err
		return result, nil
	}

	if reply.NeedsExpert && s.Status == models.StatusActive {
		updated, escalated, err := r.escalate(ctx, logger, s, question, reply.AnswerText)
		if err != nil {
			return nil, err
		}
		result.Session = updated
		result.Escalated = escalated
		return result, nil
	}

	updated, err := r.sessions.Mutate(ctx, s.SessionID, func(*models.Session) (models.SessionDelta, error) {
		return models.SessionDelta{Summary: "A: " + clip(reply.AnswerText, 120)}, nil
	})
	if err != nil {
		return nil, err
	}
	if err := r.send(ctx, s.Channel, s.UserID, reply.AnswerText); err != nil {
		return nil, err
	}
	result.Session = updated
	return result, nil
}

// escalate hands the question to an expert: a linked EXPERT session is opened
// for them and the asker's session moves to WAITING_EXPERT
func (r *ChannelRouter) escalate(ctx context.Context, logger *slog.Logger, asker *models.Session, question, interim string) (*models.Session, bool, error) {
	expert := r.experts.Pick(append([]string{question, asker.Summary}, asker.KeyPoints...)...)
	if expert != nil && expert.Channel == asker.Channel && expert.UserID == asker.UserID {
		expert = r.experts.Fallback()
		if expert != nil && expert.Channel == asker.Channel && expert.UserID == asker.UserID {
			expert = nil
		}
	}
	if expert == nil {
		logger.Warn("no expert available for escalation")
		r.notify(ctx, logger, asker.Channel, asker.UserID, joinNonEmpty(interim, msgNoExpert))
		return asker, false, nil
	}

	expertSession, err := r.sessions.CreateSession(ctx, expert.UserID, expert.Channel, models.RoleExpert)
	if err != nil {
		return nil, false, err
	}
	expertSession, err = r.sessions.Mutate(ctx, expertSession.SessionID, func(*models.Session) (models.SessionDelta, error) {
		return models.SessionDelta{
			Summary:         "Q: " + clip(question, 120),
			KeyPoints:       append(append([]string(nil), asker.KeyPoints...), clip(question, 80)),
			LinkedSessionID: asker.SessionID,
		}, nil
	})
	if err != nil {
		return nil, false, err
	}

	updated, err := r.sessions.Mutate(ctx, asker.SessionID, func(*models.Session) (models.SessionDelta, error) {
		return models.SessionDelta{
			LinkedSessionID: expertSession.SessionID,
			ExpertID:        expert.ID,
		}.WithStatus(models.StatusWaitingExpert), nil
	})
	if err != nil {
		// The asker's session moved on concurrently; do not leave the expert holding it
		r.closeExpertSession(ctx, logger, expertSession.SessionID, "")
		return nil, false, err
	}

	r.metrics.RecordEscalation()
	logger.Info("escalated to expert", "expert_id", expert.ID, "expert_session_id", expertSession.SessionID)

	brief := fmt.Sprintf("New question for you (ref %s):\n%s", shortID(expertSession.SessionID), question)
	if asker.Summary != "" {
		brief += "\n\nContext: " + clip(asker.Summary, 300)
	}
	if err := r.send(ctx, expert.Channel, expert.UserID, brief); err != nil {
		return nil, false, err
	}

	name := expert.Name
	if name == "" {
		name = "an expert"
	}
	notice := fmt.Sprintf("Your question has been forwarded to %s. You will get their answer here.", name)
	if err := r.send(ctx, asker.Channel, asker.UserID, joinNonEmpty(interim, notice)); err != nil {
		return nil, false, err
	}
	return updated, true, nil
}

// handleExpertAnswer closes the asker's session with the expert's text, forwards
// that text verbatim and closes the expert's session
func (r *ChannelRouter) handleExpertAnswer(ctx context.Context, logger *slog.Logger, expert *models.Expert, target *models.Session, reason MatchReason, msg *models.InboundMessage) (*RouteResult, error) {
	logger = logging.WithSession(logger, target.SessionID, string(target.Role), string(target.Status))
	result := &RouteResult{Kind: RouteExpertAnswer, Match: reason}

	asker, err := r.sessions.GetSession(ctx, target.LinkedSessionID)
	switch {
	case errors.Is(err, models.ErrNotFound):
		logger.Info("asker session expired before the expert answered")
		r.closeExpertSession(ctx, logger, target.SessionID, "")
		r.notify(ctx, logger, msg.Channel, msg.UserID, msgExpertExpired)
		return result, nil
	case err != nil:
		return nil, err
	case asker.Status.Terminal():
		r.closeExpertSession(ctx, logger, target.SessionID, "")
		r.notify(ctx, logger, msg.Channel, msg.UserID, msgExpertClosed)
		result.Session = asker
		return result, nil
	}

	resolved, err := r.sessions.Mutate(ctx, asker.SessionID, func(*models.Session) (models.SessionDelta, error) {
		return models.SessionDelta{
			Summary:   "Expert: " + clip(msg.Text, 120),
			KeyPoints: []string{"expert: " + clip(msg.Text, 80)},
		}.WithStatus(models.StatusResolved), nil
	})
	switch {
	case errors.Is(err, models.ErrInvalidTransition), errors.Is(err, models.ErrNotFound):
		// Closed or expired while the expert was typing
		r.closeExpertSession(ctx, logger, target.SessionID, "")
		r.notify(ctx, logger, msg.Channel, msg.UserID, msgExpertClosed)
		return result, nil
	case err != nil:
		return nil, err
	}

	if err := r.send(ctx, asker.Channel, asker.UserID, msg.Text); err != nil {
		r.notify(ctx, logger, msg.Channel, msg.UserID, msgExpertUndelivered)
		return nil, err
	}

	if _, err := r.sessions.Mutate(ctx, target.SessionID, func(*models.Session) (models.SessionDelta, error) {
		return models.SessionDelta{Summary: "A: " + clip(msg.Text, 120)}.WithStatus(models.StatusResolved), nil
	}); err != nil && !errors.Is(err, models.ErrInvalidTransition) {
		return nil, err
	}

	logger.Info("expert answer forwarded", "expert_id", expert.ID, "asker_session_id", asker.SessionID)
	r.notify(ctx, logger, msg.Channel, msg.UserID, msgExpertSent)
	result.Session = resolved
	return result, nil
}

// closeExpertSession resolves an expert's session and optionally tells them why
func (r *ChannelRouter) closeExpertSession(ctx context.Context, logger *slog.Logger, sessionID, notice string) {
	closed, err := r.sessions.MutateStatus(ctx, sessionID, models.StatusResolved)
	if err != nil {
		if !errors.Is(err, models.ErrInvalidTransition) && !errors.Is(err, models.ErrNotFound) {
			logger.Warn("failed to close expert session", "expert_session_id", sessionID, "error", err)
		}
		return
	}
	if notice != "" {
		r.notify(ctx, logger, closed.Channel, closed.UserID,
			fmt.Sprintf("%s (ref %s)", notice, shortID(closed.SessionID)))
	}
}

func (r *ChannelRouter) send(ctx context.Context, channel models.Channel, userID, content string) error {
	if _, err := r.outbound.Send(ctx, channel, userID, content); err != nil {
		return fmt.Errorf("failed to send to %s user %s: %w", channel, userID, err)
	}
	return nil
}

// notify sends a best-effort notice; a failure is logged, not returned
func (r *ChannelRouter) notify(ctx context.Context, logger *slog.Logger, channel models.Channel, userID, content string) {
	if err := r.send(ctx, channel, userID, content); err != nil {
		logger.Warn("failed to deliver notice", "error", err)
	}
}

// clip shortens s to at most n runes on a single line
func clip(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func joinNonEmpty(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "\n\n")
}
