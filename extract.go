package main

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	htmlTagPattern    = regexp.MustCompile(`<[^>]+>`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// StripHTML replaces tag-delimited spans with a single space, collapses runs
// of whitespace, and trims. Unclosed angle brackets pass through untouched.
func StripHTML(s string) string {
	if s == "" {
		return ""
	}
	clean := htmlTagPattern.ReplaceAllString(s, " ")
	clean = whitespacePattern.ReplaceAllString(clean, " ")
	return strings.TrimSpace(clean)
}

// CountWords counts whitespace-separated tokens.
func CountWords(s string) int {
	return len(strings.Fields(s))
}

// ParseWorkItemDate parses the date formats the API emits. Anything
// unparsable yields the zero time, never an error.
func ParseWorkItemDate(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// ResolveID returns the record's identity: the top-level id when set, else
// the System.Id field. Zero means the record is unidentifiable.
func (r WorkItemRecord) ResolveID() int {
	if r.ID != 0 {
		return r.ID
	}
	return intValue(r.Fields[fieldID])
}

func intValue(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case string:
		if parsed, err := strconv.Atoi(strings.TrimSpace(n)); err == nil {
			return parsed
		}
	}
	return 0
}

func fieldString(fields map[string]any, key string) string {
	switch v := fields[key].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// creatorName flattens the API's identity shapes to a display name. Strings
// may carry a trailing "<email>" part, fetched records carry an identity
// object with displayName.
func creatorName(v any) string {
	switch c := v.(type) {
	case string:
		if i := strings.Index(c, "<"); i >= 0 {
			return strings.TrimSpace(c[:i])
		}
		return strings.TrimSpace(c)
	case map[string]any:
		if name, ok := c["displayName"].(string); ok && name != "" {
			return strings.TrimSpace(name)
		}
		if name, ok := c["uniqueName"].(string); ok {
			return strings.TrimSpace(name)
		}
	}
	return ""
}

// ExtractTicket flattens one raw record into its semantic view. Missing
// fields default to empty values; it never fails.
func ExtractTicket(rec WorkItemRecord) Ticket {
	fields := rec.Fields
	return Ticket{
		ID:          rec.ResolveID(),
		Type:        fieldString(fields, fieldType),
		Title:       fieldString(fields, fieldTitle),
		Description: StripHTML(fieldString(fields, fieldDescription)),
		Acceptance:  StripHTML(fieldString(fields, fieldAcceptance)),
		CreatedBy:   creatorName(fields[fieldCreatedBy]),
		State:       fieldString(fields, fieldState),
		AreaPath:    fieldString(fields, fieldAreaPath),
		StartDate:   ParseWorkItemDate(fieldString(fields, fieldStartDate)),
		TargetDate:  ParseWorkItemDate(fieldString(fields, fieldTargetDate)),
	}
}

// CheckCompleteness inspects the raw description and acceptance-criteria
// fields. HasContent gates assessability: one populated field is enough.
func CheckCompleteness(rec WorkItemRecord) Completeness {
	desc := fieldString(rec.Fields, fieldDescription)
	ac := fieldString(rec.Fields, fieldAcceptance)
	c := Completeness{
		HasDescription: desc != "",
		HasAcceptance:  ac != "",
		DescLen:        len(desc),
		AcceptanceLen:  len(ac),
	}
	c.HasContent = c.HasDescription || c.HasAcceptance
	return c
}
