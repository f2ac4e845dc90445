package main

import (
	"encoding/csv"
	"fmt"
	"html"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	maxCSVTitleLen  = 100
	maxRiskTitleLen = 60
	maxRiskRows     = 10
	maxCreatorIDs   = 20
)

var gradeOrder = []string{"A", "B", "C", "D", "F"}

var csvHeader = []string{
	"ID", "Work Item Type", "Title", "State", "Created By",
	"Start Date", "Target Date", "Grade", "Score", "Rationale",
}

// Summary aggregates one assessment run for reporting and delivery.
type Summary struct {
	Label       string
	GeneratedAt time.Time
	Total       int
	GradeCounts map[string]int
	PrelimCount int
	// Imminent risk lists carry only non-preliminary F/D items.
	FImminent []AssessedTicket
	DImminent []AssessedTicket
	// CreatorIssues includes preliminary F/D items: the creator should fix
	// them either way.
	CreatorIssues []CreatorIssues
}

// CreatorIssues is the per-creator rollup of failing item IDs.
type CreatorIssues struct {
	Creator string
	FGrades []int
	DGrades []int
}

// Summarize aggregates assessment results: grade distribution, prelim split,
// imminent risk lists and the per-creator rollup. Pure.
func Summarize(label string, items []AssessedTicket, generatedAt time.Time) Summary {
	s := Summary{
		Label:       label,
		GeneratedAt: generatedAt,
		Total:       len(items),
		GradeCounts: map[string]int{"A": 0, "B": 0, "C": 0, "D": 0, "F": 0},
	}
	for _, it := range items {
		grade := it.Result.Grade
		s.GradeCounts[baseGrade(grade)]++
		if isPrelim(grade) {
			s.PrelimCount++
		}
		switch grade {
		case "F":
			s.FImminent = append(s.FImminent, it)
		case "D":
			s.DImminent = append(s.DImminent, it)
		}
	}
	s.CreatorIssues = rollupCreators(items)
	return s
}

func rollupCreators(items []AssessedTicket) []CreatorIssues {
	byCreator := make(map[string]*CreatorIssues)
	for _, it := range items {
		grade := baseGrade(it.Result.Grade)
		if grade != "F" && grade != "D" {
			continue
		}
		creator := it.Ticket.CreatedBy
		if creator == "" {
			creator = "(Unknown)"
		}
		ci := byCreator[creator]
		if ci == nil {
			ci = &CreatorIssues{Creator: creator}
			byCreator[creator] = ci
		}
		if grade == "F" {
			ci.FGrades = append(ci.FGrades, it.Ticket.ID)
		} else {
			ci.DGrades = append(ci.DGrades, it.Ticket.ID)
		}
	}
	out := make([]CreatorIssues, 0, len(byCreator))
	for _, ci := range byCreator {
		out = append(out, *ci)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Creator < out[j].Creator })
	return out
}

// RenderSummaryMarkdown renders the narrative summary. The output doubles as
// the summary file content and the email body.
func RenderSummaryMarkdown(s Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "### %s Assessment\n\n", s.Label)
	fmt.Fprintf(&b, "**Generated:** %s\n", s.GeneratedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "**Total assessed:** %d\n\n", s.Total)

	b.WriteString("#### Grade distribution\n\n")
	for _, g := range gradeOrder {
		count := s.GradeCounts[g]
		fmt.Fprintf(&b, "- %s: %d (%.1f%%)\n", g, count, percent(count, s.Total))
	}
	fmt.Fprintf(&b, "\nPrelim (start more than 7 days out): %d\n", s.PrelimCount)
	fmt.Fprintf(&b, "Imminent: %d\n\n", s.Total-s.PrelimCount)

	b.WriteString("#### Risk assessment\n\n")
	writeRiskList(&b, "F-grade imminent (immediate risk)", s.FImminent)
	b.WriteString("\n")
	writeRiskList(&b, "D-grade imminent (high risk)", s.DImminent)

	if len(s.CreatorIssues) > 0 {
		b.WriteString("\n#### Action required by creator\n")
		for _, ci := range s.CreatorIssues {
			fmt.Fprintf(&b, "\n**%s**\n", ci.Creator)
			if len(ci.FGrades) > 0 {
				fmt.Fprintf(&b, "- F-grade: %s\n", formatIDList(ci.FGrades, maxCreatorIDs))
			}
			if len(ci.DGrades) > 0 {
				fmt.Fprintf(&b, "- D-grade: %s\n", formatIDList(ci.DGrades, maxCreatorIDs))
			}
		}
	}
	return b.String()
}

func writeRiskList(b *strings.Builder, label string, items []AssessedTicket) {
	fmt.Fprintf(b, "**%s: %d**\n", label, len(items))
	for i, it := range items {
		if i == maxRiskRows {
			fmt.Fprintf(b, "- ... and %d more\n", len(items)-maxRiskRows)
			break
		}
		fmt.Fprintf(b, "- %d: %s (Score: %d/100)\n", it.Ticket.ID, truncate(it.Ticket.Title, maxRiskTitleLen), it.Result.Score)
	}
}

func percent(count, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(count) / float64(total) * 100
}

// WriteCSVReport writes the tabular report, one row per assessed item.
func WriteCSVReport(items []AssessedTicket, outputDir string, now time.Time, label string) (string, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return "", err
	}
	filename := fmt.Sprintf("%s_quality_report_%s.csv", sanitizeFilename(label), now.Format("20060102_150405"))
	path := filepath.Join(outputDir, filename)

	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		f.Close()
		return "", err
	}
	for _, it := range items {
		if err := w.Write(csvRow(it)); err != nil {
			f.Close()
			return "", err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return "", err
	}
	return path, f.Close()
}

func csvRow(it AssessedTicket) []string {
	t, r := it.Ticket, it.Result
	return []string{
		strconv.Itoa(t.ID),
		t.Type,
		truncate(t.Title, maxCSVTitleLen),
		t.State,
		t.CreatedBy,
		formatReportDate(t.StartDate),
		formatReportDate(t.TargetDate),
		r.Grade,
		strconv.Itoa(r.Score),
		r.Rationale,
	}
}

func formatReportDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02")
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}

// WriteSummaryFile writes the rendered summary next to the CSV report.
func WriteSummaryFile(content, outputDir string, now time.Time, label string) (string, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return "", err
	}
	filename := fmt.Sprintf("%s_summary_%s.md", sanitizeFilename(label), now.Format("20060102_150405"))
	path := filepath.Join(outputDir, filename)
	return path, os.WriteFile(path, []byte(content), 0644)
}

// WriteEmailDraftFile renders the summary as a multipart .eml draft that can
// be opened in a mail client and sent as-is.
func WriteEmailDraftFile(body, outputDir string, now time.Time, subjectPrefix string) (string, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return "", err
	}
	filename := fmt.Sprintf("%s_%s.eml", sanitizeFilename(subjectPrefix), now.Format("20060102_150405"))
	path := filepath.Join(outputDir, filename)
	subject := fmt.Sprintf("%s %s", subjectPrefix, now.Format("2006-01-02"))
	content := buildEML(subject, body)
	return path, os.WriteFile(path, []byte(content), 0644)
}

func buildEML(subject, body string) string {
	const boundary = "ticketqa-alt"
	headers := []string{
		"MIME-Version: 1.0",
		fmt.Sprintf("Content-Type: multipart/alternative; boundary=%q", boundary),
		fmt.Sprintf("Subject: %s", subject),
	}
	plain := normalizeCRLF(markdownToEmailPlain(body))
	htmlBody := markdownToEmailHTML(body)

	var out strings.Builder
	out.WriteString(strings.Join(headers, "\r\n"))
	out.WriteString("\r\n\r\n")
	out.WriteString("--" + boundary + "\r\n")
	out.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	out.WriteString("Content-Transfer-Encoding: 8bit\r\n\r\n")
	out.WriteString(plain)
	if !strings.HasSuffix(plain, "\r\n") {
		out.WriteString("\r\n")
	}
	out.WriteString("\r\n--" + boundary + "\r\n")
	out.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	out.WriteString("Content-Transfer-Encoding: 8bit\r\n\r\n")
	out.WriteString(htmlBody)
	out.WriteString("\r\n--" + boundary + "--\r\n")
	return out.String()
}

func sanitizeFilename(s string) string {
	replacer := strings.NewReplacer("/", "_", "\\", "_", ":", "_", "*", "_", "?", "_", "\"", "_", "<", "_", ">", "_", "|", "_")
	return replacer.Replace(s)
}

func normalizeCRLF(s string) string {
	normalized := strings.ReplaceAll(s, "\r\n", "\n")
	normalized = strings.ReplaceAll(normalized, "\n", "\r\n")
	return normalized
}

func markdownToEmailPlain(body string) string {
	var out []string
	prevBlank := false
	for _, line := range strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "### ") || strings.HasPrefix(trimmed, "#### ") {
			line = strings.TrimSpace(strings.TrimLeft(trimmed, "# "))
		}
		line = strings.ReplaceAll(line, "**", "")
		if strings.TrimSpace(line) == "" {
			if prevBlank {
				continue
			}
			prevBlank = true
			out = append(out, "")
			continue
		}
		prevBlank = false
		out = append(out, line)
	}
	return strings.TrimRight(strings.Join(out, "\n"), "\n") + "\n"
}

var boldTokenRe = regexp.MustCompile(`\*\*([^*]+)\*\*`)

// markdownToEmailHTML handles the subset of markdown the summary renderer
// emits: headers, flat bullet lists, bold and plain paragraphs.
func markdownToEmailHTML(body string) string {
	lines := strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n")
	var b strings.Builder
	b.WriteString(`<html><body style="font-family: Calibri, Arial, sans-serif; font-size: 11pt; color: #1f1f1f; line-height: 1.35;">`)
	inList := false
	closeList := func() {
		if inList {
			b.WriteString(`</ul>`)
			inList = false
		}
	}

	for _, raw := range lines {
		trimmed := strings.TrimSpace(raw)
		switch {
		case trimmed == "":
			closeList()
			b.WriteString(`<div style="height: 10px;"></div>`)
		case strings.HasPrefix(trimmed, "### ") || strings.HasPrefix(trimmed, "#### "):
			closeList()
			text := renderInlineBold(strings.TrimSpace(strings.TrimLeft(trimmed, "# ")))
			b.WriteString(`<div style="font-weight: 700; margin: 12px 0 6px 0;">` + text + `</div>`)
		case strings.HasPrefix(trimmed, "- "):
			if !inList {
				b.WriteString(`<ul style="margin: 0 0 0 18px; padding-left: 18px; list-style-type: disc;">`)
				inList = true
			}
			text := renderInlineBold(strings.TrimSpace(strings.TrimPrefix(trimmed, "- ")))
			b.WriteString(`<li style="margin: 2px 0;">` + text + `</li>`)
		default:
			closeList()
			b.WriteString(`<div style="margin: 2px 0;">` + renderInlineBold(trimmed) + `</div>`)
		}
	}
	closeList()
	b.WriteString(`</body></html>`)
	return b.String()
}

func renderInlineBold(s string) string {
	matches := boldTokenRe.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return html.EscapeString(s)
	}
	var out strings.Builder
	last := 0
	for _, m := range matches {
		if len(m) < 4 {
			continue
		}
		out.WriteString(html.EscapeString(s[last:m[0]]))
		out.WriteString("<strong>")
		out.WriteString(html.EscapeString(s[m[2]:m[3]]))
		out.WriteString("</strong>")
		last = m[1]
	}
	out.WriteString(html.EscapeString(s[last:]))
	return out.String()
}
