package services

import (
	"strings"
	"unicode"
)

// Feedback is the satisfaction signal carried by a reply
type Feedback int

const (
	FeedbackNone Feedback = iota
	FeedbackSatisfied
	FeedbackDissatisfied
)

func (f Feedback) String() string {
	switch f {
	case FeedbackSatisfied:
		return "satisfied"
	case FeedbackDissatisfied:
		return "dissatisfied"
	default:
		return "none"
	}
}

// Negative phrases are checked first because several contain a positive one ("不满意").
var dissatisfiedPhrases = []string{
	"不满意", "没解决", "没有解决", "未解决", "不对", "不行", "没用", "没有用", "不是我要的", "答非所问", "转人工", "找专家",
	"not satisfied", "unsatisfied", "dissatisfied", "not helpful", "unhelpful", "not solved", "not resolved",
	"doesn't work", "does not work", "didn't work", "did not work", "still broken", "wrong answer", "that's wrong",
	"talk to an expert", "ask an expert", "human please",
}

// Positive phrases only count when nothing else is left in the message,
// so "thanks, and how do I ..." stays a follow-up. Longer phrases come first.
var satisfiedPhrases = []string{
	"非常满意", "满意", "谢谢", "感谢", "多谢", "好的", "解决了", "已解决", "明白了", "懂了", "收到", "可以了", "没问题了",
	"thank you", "thanks", "thx", "satisfied", "resolved", "solved", "got it", "it works", "that works",
	"works now", "perfect", "great", "helpful", "okay", "ok",
}

// maxFeedbackContext is how many other words a dissatisfied reply may carry
// before it reads as a message of its own ("it still does not work" vs.
// "the printer on floor 3 does not work")
const maxFeedbackContext = 3

var questionWords = map[string]struct{}{
	"how": {}, "what": {}, "why": {}, "where": {}, "when": {}, "which": {}, "who": {},
}

var questionMarkers = []string{"?", "怎么", "如何", "为什么", "哪里", "哪个", "吗"}

// DetectFeedback classifies a reply as satisfied, dissatisfied or neither
func DetectFeedback(text string) Feedback {
	t := normalize(strings.TrimSpace(text))
	if t == "" {
		return FeedbackNone
	}

	if rest, ok := stripPhrases(t, dissatisfiedPhrases); ok {
		switch {
		case !hasWords(rest), hasPrefixAny(t, dissatisfiedPhrases):
			return FeedbackDissatisfied
		case !asksQuestion(t) && contextWords(rest) <= maxFeedbackContext:
			return FeedbackDissatisfied
		}
		return FeedbackNone
	}

	rest, ok := stripPhrases(t, satisfiedPhrases)
	if !ok || hasWords(rest) {
		return FeedbackNone
	}
	return FeedbackSatisfied
}

// IsBareFeedback reports whether text is nothing but a feedback phrase
func IsBareFeedback(text string) bool {
	t := normalize(strings.TrimSpace(text))
	rest, ok := stripPhrases(t, dissatisfiedPhrases)
	if !ok {
		rest, ok = stripPhrases(t, satisfiedPhrases)
	}
	return ok && !hasWords(rest)
}

// stripPhrases blanks every phrase found in t
func stripPhrases(t string, phrases []string) (string, bool) {
	matched := false
	for _, p := range phrases {
		if strings.Contains(t, p) {
			matched = true
			t = strings.ReplaceAll(t, p, " ")
		}
	}
	return t, matched
}

func hasPrefixAny(t string, phrases []string) bool {
	t = strings.TrimLeftFunc(t, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, p := range phrases {
		if strings.HasPrefix(t, p) {
			return true
		}
	}
	return false
}

func hasWords(s string) bool {
	return strings.IndexFunc(s, func(r rune) bool {
		return unicode.IsLetter(r) || unicode.IsDigit(r)
	}) >= 0
}

func splitWords(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// contextWords counts words, a run of CJK characters counting one per two characters
func contextWords(s string) int {
	n := 0
	for _, w := range splitWords(s) {
		cjk := 0
		for _, r := range w {
			if isCJK(r) {
				cjk++
			}
		}
		if cjk > 0 {
			n += (cjk + 1) / 2
			continue
		}
		n++
	}
	return n
}

func asksQuestion(t string) bool {
	for _, m := range questionMarkers {
		if strings.Contains(t, m) {
			return true
		}
	}
	for _, w := range splitWords(t) {
		if _, ok := questionWords[w]; ok {
			return true
		}
	}
	return false
}
