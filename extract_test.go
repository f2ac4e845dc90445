package main

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestStripHTML(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"<div>Hello <b>world</b></div>", "Hello world"},
		{"<p>First</p><p>Second</p>", "First Second"},
		{"plain text", "plain text"},
		{"", ""},
		{"<br/>", ""},
		{"Line one.\n\nLine two.", "Line one. Line two."},
		{"a < b", "a < b"},
		{"  padded   text  ", "padded text"},
	}
	for _, tt := range tests {
		got := StripHTML(tt.input)
		if got != tt.want {
			t.Errorf("StripHTML(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestCountWords(t *testing.T) {
	tests := []struct {
		input string
		want  int
	}{
		{"", 0},
		{"   ", 0},
		{"one", 1},
		{"one two  three", 3},
		{"tabs\tand\nnewlines count", 4},
	}
	for _, tt := range tests {
		if got := CountWords(tt.input); got != tt.want {
			t.Errorf("CountWords(%q) = %d, want %d", tt.input, got, tt.want)
		}
	}
}

func TestParseWorkItemDate(t *testing.T) {
	rfc := ParseWorkItemDate("2026-03-01T10:30:00Z")
	if !rfc.Equal(time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)) {
		t.Errorf("RFC3339 parse = %v", rfc)
	}
	bare := ParseWorkItemDate("2026-03-01T10:30:00")
	if !bare.Equal(time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)) {
		t.Errorf("zoneless parse = %v", bare)
	}
	day := ParseWorkItemDate("2026-03-01")
	if !day.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("date-only parse = %v", day)
	}
	if got := ParseWorkItemDate("not a date"); !got.IsZero() {
		t.Errorf("garbage parse = %v, want zero", got)
	}
	if got := ParseWorkItemDate(""); !got.IsZero() {
		t.Errorf("empty parse = %v, want zero", got)
	}
}

func TestResolveID(t *testing.T) {
	tests := []struct {
		name string
		rec  WorkItemRecord
		want int
	}{
		{"top-level id wins", WorkItemRecord{ID: 42, Fields: map[string]any{fieldID: float64(99)}}, 42},
		{"float64 field", WorkItemRecord{Fields: map[string]any{fieldID: float64(123)}}, 123},
		{"int field", WorkItemRecord{Fields: map[string]any{fieldID: 456}}, 456},
		{"string field", WorkItemRecord{Fields: map[string]any{fieldID: " 789 "}}, 789},
		{"unparsable string", WorkItemRecord{Fields: map[string]any{fieldID: "abc"}}, 0},
		{"no id anywhere", WorkItemRecord{Fields: map[string]any{}}, 0},
		{"nil fields", WorkItemRecord{}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.rec.ResolveID(); got != tt.want {
				t.Errorf("ResolveID() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestCreatorName(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  string
	}{
		{"string with email", "Jane Doe <jane@example.com>", "Jane Doe"},
		{"plain string", "Jane Doe", "Jane Doe"},
		{"identity object", map[string]any{"displayName": "Bob Smith", "uniqueName": "bob@example.com"}, "Bob Smith"},
		{"unique name fallback", map[string]any{"uniqueName": "bob@example.com"}, "bob@example.com"},
		{"empty object", map[string]any{}, ""},
		{"nil", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := creatorName(tt.input); got != tt.want {
				t.Errorf("creatorName(%v) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestExtractTicket(t *testing.T) {
	rec := WorkItemRecord{
		ID: 55,
		Fields: map[string]any{
			fieldType:        "User Story",
			fieldTitle:       "Export report",
			fieldDescription: "<div>As a user I want <b>exports</b></div>",
			fieldAcceptance:  "<ul><li>Given a report</li><li>Then export it</li></ul>",
			fieldCreatedBy:   map[string]any{"displayName": "Jane Doe"},
			fieldState:       "Active",
			fieldAreaPath:    "Project\\Team A",
			fieldStartDate:   "2026-03-01T00:00:00Z",
			fieldTargetDate:  "2026-04-15",
		},
	}
	want := Ticket{
		ID:          55,
		Type:        "User Story",
		Title:       "Export report",
		Description: "As a user I want exports",
		Acceptance:  "Given a report Then export it",
		CreatedBy:   "Jane Doe",
		State:       "Active",
		AreaPath:    "Project\\Team A",
		StartDate:   time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		TargetDate:  time.Date(2026, 4, 15, 0, 0, 0, 0, time.UTC),
	}
	got := ExtractTicket(rec)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ExtractTicket mismatch (-want +got):\n%s", diff)
	}
}

func TestExtractTicketDefaults(t *testing.T) {
	got := ExtractTicket(WorkItemRecord{ID: 7})
	if got.ID != 7 {
		t.Errorf("ID = %d, want 7", got.ID)
	}
	if got.Title != "" || got.Description != "" || got.Acceptance != "" || got.CreatedBy != "" {
		t.Errorf("expected empty text fields, got %+v", got)
	}
	if !got.StartDate.IsZero() || !got.TargetDate.IsZero() {
		t.Errorf("expected zero dates, got start=%v target=%v", got.StartDate, got.TargetDate)
	}
}

func TestCheckCompleteness(t *testing.T) {
	tests := []struct {
		name string
		rec  WorkItemRecord
		want Completeness
	}{
		{
			name: "both populated",
			rec: WorkItemRecord{Fields: map[string]any{
				fieldDescription: "<p>desc</p>",
				fieldAcceptance:  "criteria",
			}},
			want: Completeness{HasDescription: true, HasAcceptance: true, HasContent: true, DescLen: 11, AcceptanceLen: 8},
		},
		{
			name: "description only",
			rec:  WorkItemRecord{Fields: map[string]any{fieldDescription: "desc"}},
			want: Completeness{HasDescription: true, HasContent: true, DescLen: 4},
		},
		{
			name: "acceptance only",
			rec:  WorkItemRecord{Fields: map[string]any{fieldAcceptance: "ac"}},
			want: Completeness{HasAcceptance: true, HasContent: true, AcceptanceLen: 2},
		},
		{
			name: "neither",
			rec:  WorkItemRecord{Fields: map[string]any{fieldTitle: "title only"}},
			want: Completeness{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CheckCompleteness(tt.rec)
			if got != tt.want {
				t.Errorf("CheckCompleteness = %+v, want %+v", got, tt.want)
			}
		})
	}
}
