package services

import (
	"fmt"
	"strings"

	"github.com/Harryoung/efka-sub000/internal/models"
)

// Scorer rates how well a reply's keywords match a candidate session's keywords.
// Implementations must return a value in [0, 1].
type Scorer interface {
	Name() string
	Score(reply, candidate Keywords) float64
}

// CoverageScorer is the share of the candidate's keywords that the reply mentions
type CoverageScorer struct{}

// Name identifies the scorer
func (CoverageScorer) Name() string { return "coverage" }

// Score returns |candidate ∩ reply| / |candidate|
func (CoverageScorer) Score(reply, candidate Keywords) float64 {
	if len(candidate) == 0 || len(reply) == 0 {
		return 0
	}
	return float64(reply.intersect(candidate)) / float64(len(candidate))
}

// JaccardScorer is the plain token-set Jaccard ratio
type JaccardScorer struct{}

// Name identifies the scorer
func (JaccardScorer) Name() string { return "jaccard" }

// Score returns |candidate ∩ reply| / |candidate ∪ reply|
func (JaccardScorer) Score(reply, candidate Keywords) float64 {
	if len(candidate) == 0 || len(reply) == 0 {
		return 0
	}
	shared := reply.intersect(candidate)
	union := len(reply) + len(candidate) - shared
	return float64(shared) / float64(union)
}

// NewScorer resolves a scorer by its configured name
func NewScorer(name string) (Scorer, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "coverage":
		return CoverageScorer{}, nil
	case "jaccard":
		return JaccardScorer{}, nil
	}
	return nil, fmt.Errorf("unknown match scorer: %q", name)
}

// MatchReason records which rule picked the session
type MatchReason string

const (
	MatchExplicit MatchReason = "explicit"
	MatchSingle   MatchReason = "single"
	MatchContent  MatchReason = "content"
	MatchRecency  MatchReason = "recency"
)

// Match is the outcome of disambiguation
type Match struct {
	Session *models.Session
	Reason  MatchReason
	Score   float64
}

// Disambiguator picks which pending session a reference-free reply belongs to.
// A confident content match wins; otherwise the most recently active candidate does.
type Disambiguator struct {
	extractor *KeywordExtractor
	scorer    Scorer
	threshold float64
}

// NewDisambiguator creates a matcher. threshold is the score a content match must exceed.
func NewDisambiguator(extractor *KeywordExtractor, scorer Scorer, threshold float64) *Disambiguator {
	if extractor == nil {
		extractor = NewKeywordExtractor()
	}
	if scorer == nil {
		scorer = CoverageScorer{}
	}
	return &Disambiguator{extractor: extractor, scorer: scorer, threshold: threshold}
}

// Extractor exposes the keyword extractor so other components share one vocabulary
func (d *Disambiguator) Extractor() *KeywordExtractor {
	return d.extractor
}

// Resolve applies the two-tier rule. candidates must be ordered most recently active first.
func (d *Disambiguator) Resolve(reply string, candidates []*models.Session) (*Match, error) {
	switch len(candidates) {
	case 0:
		return nil, models.ErrNoPendingSession
	case 1:
		return &Match{Session: candidates[0], Reason: MatchSingle}, nil
	}

	if m, ok := d.BestContentMatch(reply, candidates); ok {
		return m, nil
	}
	return &Match{Session: candidates[0], Reason: MatchRecency}, nil
}

// BestContentMatch returns the candidate whose score clears the threshold and is
// strictly higher than every other candidate's. ok is false when there is none.
func (d *Disambiguator) BestContentMatch(reply string, candidates []*models.Session) (*Match, bool) {
	replyKeywords := d.extractor.Extract(reply)
	if len(replyKeywords) == 0 || len(candidates) == 0 {
		return nil, false
	}

	bestIdx := -1
	best, runnerUp := -1.0, -1.0
	for i, candidate := range candidates {
		score := d.scorer.Score(replyKeywords, d.sessionKeywords(candidate))
		switch {
		case score > best:
			runnerUp = best
			best = score
			bestIdx = i
		case score > runnerUp:
			runnerUp = score
		}
	}

	if bestIdx < 0 || best <= d.threshold || best <= runnerUp {
		return nil, false
	}
	return &Match{Session: candidates[bestIdx], Reason: MatchContent, Score: best}, true
}

func (d *Disambiguator) sessionKeywords(s *models.Session) Keywords {
	texts := make([]string, 0, len(s.KeyPoints)+1)
	texts = append(texts, s.KeyPoints...)
	texts = append(texts, s.Summary)
	return d.extractor.Extract(texts...)
}
