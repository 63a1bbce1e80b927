package services

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/width"
)

// Keywords is a set of normalised salient tokens
type Keywords map[string]struct{}

// Has reports whether k contains token
func (k Keywords) Has(token string) bool {
	_, ok := k[token]
	return ok
}

// intersect counts tokens present in both sets
func (k Keywords) intersect(other Keywords) int {
	small, large := k, other
	if len(small) > len(large) {
		small, large = large, small
	}
	n := 0
	for token := range small {
		if large.Has(token) {
			n++
		}
	}
	return n
}

// defaultStopwords are dropped before scoring. Acknowledgement words are
// included so that "thanks" or "满意" carries no topic at all.
var defaultStopwords = []string{
	// english function words
	"the", "an", "and", "or", "but", "to", "of", "in", "on", "at", "for", "from", "by", "with",
	"is", "are", "was", "were", "be", "been", "it", "its", "this", "that", "these", "those",
	"i", "me", "my", "we", "our", "you", "your", "he", "she", "they", "them",
	"how", "what", "why", "when", "where", "which", "who", "can", "could", "should", "would",
	"do", "does", "did", "not", "no", "yes", "if", "so", "as", "about", "any", "some", "there",
	"have", "has", "had", "will", "just", "also", "still", "get", "got", "need", "want",
	"please", "hi", "hello", "question",
	// acknowledgements
	"ok", "okay", "thanks", "thank", "thx", "satisfied", "great", "good", "perfect", "fine",
	"solved", "resolved", "works", "worked", "helpful", "cool", "nice",
	// chinese bigrams with no topic
	"满意", "谢谢", "感谢", "好的", "收到", "可以", "什么", "怎么", "如何", "一下", "我们", "你们",
	"这个", "那个", "问题", "请问", "已经", "没有", "不是", "就是", "还是", "非常", "解决", "一个",
	"怎样", "是否", "能否", "需要", "麻烦",
}

// KeywordExtractor turns free text into a keyword set.
// Latin and digit runs become lowercase words; CJK runs become character bigrams.
type KeywordExtractor struct {
	stopwords  map[string]struct{}
	minWordLen int
}

// NewKeywordExtractor builds an extractor with the default stopwords plus extra
func NewKeywordExtractor(extra ...string) *KeywordExtractor {
	stop := make(map[string]struct{}, len(defaultStopwords)+len(extra))
	for _, w := range defaultStopwords {
		stop[w] = struct{}{}
	}
	for _, w := range extra {
		stop[normalize(w)] = struct{}{}
	}
	return &KeywordExtractor{stopwords: stop, minWordLen: 2}
}

// normalize folds full-width forms and case. A Caser is not safe for
// concurrent use, so one is made per call.
func normalize(s string) string {
	return cases.Fold().String(width.Fold.String(s))
}

func isCJK(r rune) bool {
	return unicode.Is(unicode.Han, r) || unicode.Is(unicode.Hiragana, r) ||
		unicode.Is(unicode.Katakana, r) || unicode.Is(unicode.Hangul, r)
}

// Extract returns the salient keywords across all texts
func (e *KeywordExtractor) Extract(texts ...string) Keywords {
	out := make(Keywords)
	for _, text := range texts {
		e.extractInto(out, normalize(text))
	}
	return out
}

func (e *KeywordExtractor) extractInto(out Keywords, text string) {
	var word strings.Builder
	var cjk []rune

	flushWord := func() {
		if word.Len() == 0 {
			return
		}
		w := word.String()
		word.Reset()
		if len([]rune(w)) < e.minWordLen {
			return
		}
		e.add(out, w)
	}
	flushCJK := func() {
		for i := 0; i+1 < len(cjk); i++ {
			e.add(out, string(cjk[i:i+2]))
		}
		cjk = cjk[:0]
	}

	for _, r := range text {
		switch {
		case isCJK(r):
			flushWord()
			cjk = append(cjk, r)
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			flushCJK()
			word.WriteRune(r)
		default:
			flushWord()
			flushCJK()
		}
	}
	flushWord()
	flushCJK()
}

func (e *KeywordExtractor) add(out Keywords, token string) {
	if _, stop := e.stopwords[token]; stop {
		return
	}
	out[token] = struct{}{}
}
