package ai

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"legaldemo/internal/models"
)

var (
	wordRe     = regexp.MustCompile(`[\p{L}\p{N}]+`)
	sentenceRe = regexp.MustCompile(`[^.!?\n]+[.!?]?`)
	stopWords  = map[string]struct{}{
		"the": {}, "and": {}, "for": {}, "are": {}, "was": {}, "what": {}, "which": {}, "who": {},
		"whom": {}, "this": {}, "that": {}, "with": {}, "does": {}, "did": {}, "how": {}, "when": {},
		"where": {}, "why": {}, "can": {}, "could": {}, "would": {}, "should": {}, "there": {},
		"their": {}, "they": {}, "have": {}, "has": {}, "any": {}, "about": {}, "from": {}, "into": {},
		"document": {}, "agreement": {}, "contract": {}, "tell": {}, "please": {}, "say": {}, "says": {},
	}
)

// TemplateGenerator is the deterministic stand-in for a model: it quotes the
// document sentence sharing the most keywords with the question.
type TemplateGenerator struct{}

func NewTemplateGenerator() *TemplateGenerator { return &TemplateGenerator{} }

func (g *TemplateGenerator) Answer(ctx context.Context, contextText, question string, history []models.Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	keywords := keywordSet(question)
	if len(keywords) == 0 {
		return NotEnoughInformation, nil
	}

	best, bestScore := "", 0
	for _, sentence := range sentenceRe.FindAllString(contextText, -1) {
		sentence = strings.Join(strings.Fields(sentence), " ")
		if sentence == "" {
			continue
		}
		score := 0
		for kw := range keywordSet(sentence) {
			if _, ok := keywords[kw]; ok {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = sentence, score
		}
	}
	if bestScore == 0 {
		return NotEnoughInformation, nil
	}
	return fmt.Sprintf("Based on the document: %q", best), nil
}

func keywordSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range wordRe.FindAllString(strings.ToLower(s), -1) {
		if len([]rune(w)) < 3 {
			continue
		}
		if _, stop := stopWords[w]; stop {
			continue
		}
		set[w] = struct{}{}
	}
	return set
}
