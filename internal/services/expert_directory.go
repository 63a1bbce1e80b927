package services

import (
	"fmt"
	"log"

	"github.com/Harryoung/efka-sub000/internal/models"
)

// ExpertDirectory knows who the experts are and which one owns a topic
type ExpertDirectory struct {
	experts   []models.Expert
	byAddress map[string]*models.Expert
	domains   []Keywords
	fallback  *models.Expert
	extractor *KeywordExtractor
}

func expertAddress(channel models.Channel, userID string) string {
	return string(channel) + ":" + userID
}

// NewExpertDirectory indexes the roster. Expert ids must be unique.
func NewExpertDirectory(experts []models.Expert, extractor *KeywordExtractor) (*ExpertDirectory, error) {
	if extractor == nil {
		extractor = NewKeywordExtractor()
	}
	d := &ExpertDirectory{
		experts:   make([]models.Expert, len(experts)),
		byAddress: make(map[string]*models.Expert, len(experts)),
		domains:   make([]Keywords, len(experts)),
		extractor: extractor,
	}
	copy(d.experts, experts)

	seen := make(map[string]struct{}, len(experts))
	for i := range d.experts {
		e := &d.experts[i]
		if _, dup := seen[e.ID]; dup {
			return nil, fmt.Errorf("duplicate expert id: %s", e.ID)
		}
		seen[e.ID] = struct{}{}

		d.byAddress[expertAddress(e.Channel, e.UserID)] = e
		d.domains[i] = extractor.Extract(e.Domains...)
		if e.Default && d.fallback == nil {
			d.fallback = e
		}
	}
	if d.fallback == nil && len(d.experts) > 0 {
		d.fallback = &d.experts[0]
	}

	log.Printf("👥 [EXPERTS] Loaded %d experts", len(d.experts))
	return d, nil
}

// Len returns the roster size
func (d *ExpertDirectory) Len() int {
	return len(d.experts)
}

// Lookup finds the expert behind an inbound sender
func (d *ExpertDirectory) Lookup(channel models.Channel, userID string) (*models.Expert, bool) {
	e, ok := d.byAddress[expertAddress(channel, userID)]
	return e, ok
}

// IsExpert reports whether the sender is on the roster
func (d *ExpertDirectory) IsExpert(channel models.Channel, userID string) bool {
	_, ok := d.Lookup(channel, userID)
	return ok
}

// Fallback returns the default expert, nil when the roster is empty
func (d *ExpertDirectory) Fallback() *models.Expert {
	return d.fallback
}

// Pick chooses the expert whose domains overlap the question most.
// Ties and zero overlap go to the default expert. nil when the roster is empty.
func (d *ExpertDirectory) Pick(texts ...string) *models.Expert {
	if len(d.experts) == 0 {
		return nil
	}

	question := d.extractor.Extract(texts...)
	best, bestScore, tied := -1, 0, false
	for i, domain := range d.domains {
		score := question.intersect(domain)
		switch {
		case score > bestScore:
			best, bestScore, tied = i, score, false
		case score == bestScore && score > 0:
			tied = true
		}
	}

	if best < 0 || tied {
		return d.fallback
	}
	return &d.experts[best]
}
