// Package summary produces the bullet summary shown after a demo upload.
package summary

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// ErrInsufficientContent is returned for text too short to summarize.
var ErrInsufficientContent = errors.New("insufficient content to summarize")

const (
	MinWords          = 10
	maxDates          = 3
	maxObligations    = 2
	maxObligationRune = 160
)

// Summarizer computes a deterministic, ordered, non-empty bullet list.
type Summarizer interface {
	Summarize(text string) ([]string, error)
}

// Rules is a keyword-driven summarizer for common contract shapes.
type Rules struct{}

func New() Rules { return Rules{} }

var documentTypes = []struct {
	keyword string
	label   string
}{
	{"non-disclosure agreement", "Non-disclosure agreement"},
	{"confidentiality agreement", "Non-disclosure agreement"},
	{"lease agreement", "Lease agreement"},
	{"rental agreement", "Lease agreement"},
	{"employment agreement", "Employment agreement"},
	{"employment contract", "Employment agreement"},
	{"service agreement", "Service agreement"},
	{"services agreement", "Service agreement"},
	{"purchase agreement", "Purchase agreement"},
	{"sale agreement", "Purchase agreement"},
	{"license agreement", "License agreement"},
	{"licence agreement", "License agreement"},
	{"partnership agreement", "Partnership agreement"},
	{"loan agreement", "Loan agreement"},
	{"memorandum of understanding", "Memorandum of understanding"},
	{"power of attorney", "Power of attorney"},
	{"last will and testament", "Will"},
	{"agreement", "General agreement"},
	{"contract", "General contract"},
}

var clauses = []struct {
	label    string
	keywords []string
}{
	{"termination", []string{"terminate", "termination"}},
	{"confidentiality", []string{"confidential"}},
	{"indemnification", []string{"indemnif", "hold harmless"}},
	{"limitation of liability", []string{"liability", "liable"}},
	{"payment", []string{"payment", "fee", "compensation", "invoice"}},
	{"governing law", []string{"governing law", "governed by"}},
	{"dispute resolution", []string{"arbitration", "dispute", "jurisdiction"}},
	{"force majeure", []string{"force majeure"}},
}

var (
	partiesRe    = regexp.MustCompile(`\b[Bb]etween\s+([^,;\n()]{2,80}?)\s*(?:\([^)]*\))?,?\s+and\s+([^,;\n().]{2,80})`)
	partyTail    = regexp.MustCompile(`\s+(?:on|dated|effective|as of|for|to)\s.*$`)
	datePatterns = []*regexp.Regexp{
		regexp.MustCompile(`\b(?:January|February|March|April|May|June|July|August|September|October|November|December)\s+\d{1,2},\s+\d{4}\b`),
		regexp.MustCompile(`\b\d{1,2}\s+(?:January|February|March|April|May|June|July|August|September|October|November|December)\s+\d{4}\b`),
		regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`),
		regexp.MustCompile(`\b\d{1,2}/\d{1,2}/\d{4}\b`),
	}
	obligationRe = regexp.MustCompile(`(?i)\b(shall|must|agrees? to)\b`)
	sentenceEnd  = regexp.MustCompile(`[.;!?]\s+|\n+`)
)

func (Rules) Summarize(text string) ([]string, error) {
	words := strings.Fields(text)
	if len(words) < MinWords {
		return nil, ErrInsufficientContent
	}
	lower := strings.ToLower(text)

	bullets := []string{fmt.Sprintf("Document contains approximately %d words", len(words))}
	bullets = append(bullets, documentType(lower))
	if parties := parties(text); parties != "" {
		bullets = append(bullets, "Parties: "+parties)
	}
	if dates := keyDates(text); len(dates) > 0 {
		bullets = append(bullets, "Key dates: "+strings.Join(dates, ", "))
	}
	if found := clauseLabels(lower); len(found) > 0 {
		bullets = append(bullets, "Clauses identified: "+strings.Join(found, ", "))
	}
	for _, ob := range obligations(text) {
		bullets = append(bullets, "Obligation: "+ob)
	}
	bullets = append(bullets, "Recommended action: detailed clause-by-clause review")
	return bullets, nil
}

func documentType(lower string) string {
	for _, dt := range documentTypes {
		if strings.Contains(lower, dt.keyword) {
			return "Document type: " + dt.label
		}
	}
	return "This appears to be a legal document requiring professional review"
}

func parties(text string) string {
	m := partiesRe.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	a := strings.Trim(strings.TrimSpace(m[1]), `,"'`)
	b := strings.Trim(strings.TrimSpace(partyTail.ReplaceAllString(m[2], "")), `,"'`)
	if a == "" || b == "" {
		return ""
	}
	return a + " and " + b
}

func keyDates(text string) []string {
	type hit struct {
		pos  int
		date string
	}
	var hits []hit
	seen := make(map[string]struct{})
	for _, re := range datePatterns {
		for _, loc := range re.FindAllStringIndex(text, -1) {
			d := text[loc[0]:loc[1]]
			if _, dup := seen[d]; dup {
				continue
			}
			seen[d] = struct{}{}
			hits = append(hits, hit{pos: loc[0], date: d})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].pos < hits[j].pos })
	out := make([]string, 0, maxDates)
	for _, h := range hits {
		if len(out) == maxDates {
			break
		}
		out = append(out, h.date)
	}
	return out
}

func clauseLabels(lower string) []string {
	var found []string
	for _, c := range clauses {
		for _, kw := range c.keywords {
			if strings.Contains(lower, kw) {
				found = append(found, c.label)
				break
			}
		}
	}
	return found
}

func obligations(text string) []string {
	var out []string
	for _, s := range sentenceEnd.Split(text, -1) {
		s = strings.Join(strings.Fields(s), " ")
		if s == "" || !obligationRe.MatchString(s) {
			continue
		}
		out = append(out, truncate(s, maxObligationRune))
		if len(out) == maxObligations {
			break
		}
	}
	return out
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n])) + "..."
}
