package main

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Scoring vocabularies. These are a fixed contract: grading must stay
// deterministic across runs, so the lists are frozen here rather than
// configurable. Matching is case-insensitive substring containment and each
// term counts once no matter how often it appears.
var (
	actionVerbs = []string{
		"create", "update", "delete", "validate", "display", "send", "receive",
		"process", "generate", "implement", "add", "remove", "modify", "enable",
		"configure", "support", "allow", "provide", "ensure", "verify",
	}
	roleTokens   = []string{"user", "admin", "staff", "inspector", "customer", "agent"}
	purposeVerbs = []string{"improve", "enable", "allow", "support", "ensure"}
	detailNouns  = []string{
		"field", "button", "screen", "page", "api", "database", "table",
		"column", "report", "email", "notification", "validation", "rule",
	}
	acSignalWords = []string{"should", "must", "verify", "confirm", "ensure"}
	edgeTokens    = []string{"error", "exception", "invalid", "boundary", "edge case", "fail"}
)

const (
	minDescWords = 10
	minACWords   = 15

	prelimPrefix = "Prelim: "
	prelimWindow = 7 * 24 * time.Hour
)

var gradeRank = map[string]int{"A": 5, "B": 4, "C": 3, "D": 2, "F": 1}

// Assess grades one ticket on the 0-100 scale and maps the result to a
// letter grade with hard floor caps. Pure apart from reading the clock for
// the preliminary check.
func Assess(t Ticket) AssessmentResult {
	return assessAt(t, time.Now().UTC())
}

func assessAt(t Ticket, now time.Time) AssessmentResult {
	descWords := CountWords(t.Description)
	acWords := CountWords(t.Acceptance)

	// Nothing to grade at all: no banded baseline, straight zero.
	if descWords == 0 && acWords == 0 {
		return AssessmentResult{
			ID:        t.ID,
			Grade:     applyPrelim("F", t.StartDate, now),
			Score:     0,
			Rationale: "Both empty (Score: 0/100)",
		}
	}

	capGrade := ""
	switch {
	case acWords < minACWords && descWords < minDescWords:
		capGrade = "F"
	case descWords < minDescWords:
		capGrade = "D"
	case acWords < minACWords:
		capGrade = "C"
	}

	combined := strings.ToLower(t.Title + " " + t.Description + " " + t.Acceptance)
	ac := strings.ToLower(t.Acceptance)

	qualitative := 0

	actionCount := countVocab(combined, actionVerbs)
	switch {
	case actionCount >= 4:
		qualitative += 13
	case actionCount >= 2:
		qualitative += 9
	case actionCount >= 1:
		qualitative += 5
	}

	switch {
	case strings.Contains(combined, "as a ") || strings.Contains(combined, "as an "):
		qualitative += 9
	case containsAny(combined, roleTokens):
		qualitative += 6
	default:
		qualitative += 2
	}

	switch {
	case strings.Contains(combined, "so that") || strings.Contains(combined, "in order to"):
		qualitative += 9
	case strings.Contains(combined, "to ") && containsAny(combined, purposeVerbs):
		qualitative += 6
	default:
		qualitative += 2
	}

	detailCount := countVocab(combined, detailNouns)
	switch {
	case detailCount >= 4:
		qualitative += 17
	case detailCount >= 2:
		qualitative += 12
	case detailCount >= 1:
		qualitative += 7
	default:
		qualitative += 3
	}

	// Testability looks at the acceptance criteria only.
	switch {
	case acWords == 0:
	case strings.Contains(ac, "given") || strings.Contains(ac, "when") || strings.Contains(ac, "then"):
		qualitative += 13
	case containsAny(ac, acSignalWords):
		qualitative += 9
	case acWords >= minACWords:
		qualitative += 5
	default:
		qualitative += 2
	}

	if containsAny(combined, edgeTokens) {
		qualitative += 4
	} else {
		qualitative += 1
	}

	quantitative := 0
	switch {
	case descWords >= 75:
		quantitative += 12
	case descWords >= 50:
		quantitative += 10
	case descWords >= 25:
		quantitative += 7
	case descWords >= minDescWords:
		quantitative += 4
	}
	switch {
	case acWords >= 75:
		quantitative += 13
	case acWords >= 40:
		quantitative += 10
	case acWords >= 20:
		quantitative += 7
	case acWords >= minACWords:
		quantitative += 4
	}

	total := qualitative + quantitative

	var grade string
	switch {
	case total >= 75:
		grade = "A"
	case total >= 55:
		grade = "B"
	case total >= 35:
		grade = "C"
	case total >= 20:
		grade = "D"
	default:
		grade = "F"
	}

	// Caps only ever lower the grade.
	if capGrade != "" && gradeRank[grade] > gradeRank[capGrade] {
		grade = capGrade
	}

	return AssessmentResult{
		ID:        t.ID,
		Grade:     applyPrelim(grade, t.StartDate, now),
		Score:     total,
		Rationale: buildRationale(descWords, acWords, actionCount, total),
	}
}

// applyPrelim tags grades for items starting more than a week out. Both
// sides of the comparison are normalized to UTC. Advisory only: the numeric
// score is untouched.
func applyPrelim(grade string, start, now time.Time) string {
	if start.IsZero() {
		return grade
	}
	if start.UTC().Sub(now.UTC()) > prelimWindow {
		return prelimPrefix + grade
	}
	return grade
}

func buildRationale(descWords, acWords, actionCount, total int) string {
	var parts []string
	if descWords < minDescWords {
		parts = append(parts, "Missing description")
	} else if descWords < 25 {
		parts = append(parts, "Brief description")
	}
	if acWords < minACWords {
		parts = append(parts, "Missing AC")
	} else if acWords < 40 {
		parts = append(parts, "Limited AC")
	}
	if actionCount < 2 {
		parts = append(parts, "Unclear actions")
	}
	if len(parts) == 0 {
		switch {
		case total >= 75:
			parts = append(parts, "Well-defined with clear requirements")
		case total >= 55:
			parts = append(parts, "Good detail with minor gaps")
		default:
			parts = append(parts, "Needs more detail")
		}
	}
	return fmt.Sprintf("%s (Score: %d/100)", strings.Join(parts, "; "), total)
}

func countVocab(text string, vocab []string) int {
	count := 0
	for _, term := range vocab {
		if strings.Contains(text, term) {
			count++
		}
	}
	return count
}

func containsAny(text string, terms []string) bool {
	for _, term := range terms {
		if strings.Contains(text, term) {
			return true
		}
	}
	return false
}

func baseGrade(grade string) string {
	return strings.TrimPrefix(grade, prelimPrefix)
}

func isPrelim(grade string) bool {
	return strings.HasPrefix(grade, prelimPrefix)
}

// AssessExpected extracts and grades every cached record in the expected
// set, ordered by item ID for stable reports.
func AssessExpected(doc *CacheDocument, expectedIDs []int) []AssessedTicket {
	expected := make(map[int]bool, len(expectedIDs))
	for _, id := range expectedIDs {
		expected[id] = true
	}
	var items []AssessedTicket
	for _, rec := range doc.WorkItems {
		id := rec.ResolveID()
		if id == 0 || !expected[id] {
			continue
		}
		t := ExtractTicket(rec)
		items = append(items, AssessedTicket{Ticket: t, Result: Assess(t)})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Ticket.ID < items[j].Ticket.ID })
	return items
}
