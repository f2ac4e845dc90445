package main

import "time"

// Azure DevOps reference field names. Raw records key their fields by these
// namespaced identifiers.
const (
	fieldID          = "System.Id"
	fieldType        = "System.WorkItemType"
	fieldTitle       = "System.Title"
	fieldDescription = "System.Description"
	fieldAcceptance  = "Microsoft.VSTS.Common.AcceptanceCriteria"
	fieldCreatedBy   = "System.CreatedBy"
	fieldState       = "System.State"
	fieldAreaPath    = "System.AreaPath"
	fieldStartDate   = "Microsoft.VSTS.Scheduling.StartDate"
	fieldTargetDate  = "Microsoft.VSTS.Scheduling.TargetDate"
)

// DefaultRequiredFields returns the fields requested on every fetch. The
// cache may hold more if a caller saved a wider payload.
func DefaultRequiredFields() []string {
	return []string{
		fieldID,
		fieldType,
		fieldTitle,
		fieldDescription,
		fieldAcceptance,
		fieldCreatedBy,
		fieldState,
		fieldAreaPath,
		fieldStartDate,
		fieldTargetDate,
	}
}

// WorkItemRecord is one raw work item as returned by the API: a numeric
// identity plus the namespaced field map, preserved verbatim in the cache.
type WorkItemRecord struct {
	ID     int            `json:"id,omitempty"`
	Rev    int            `json:"rev,omitempty"`
	URL    string         `json:"url,omitempty"`
	Fields map[string]any `json:"fields,omitempty"`
}

// CacheMetadata is the bookkeeping block of the cache document.
type CacheMetadata struct {
	ExpectedIDs   []int  `json:"expected_ids,omitempty"`
	ExpectedCount int    `json:"expected_count,omitempty"`
	LastUpdated   string `json:"last_updated,omitempty"`
	LastQuerySync string `json:"last_query_sync,omitempty"`
	TotalItems    int    `json:"total_items"`
}

// CacheDocument is the entire on-disk cache: metadata plus all known records.
type CacheDocument struct {
	Metadata  CacheMetadata    `json:"metadata"`
	WorkItems []WorkItemRecord `json:"work_items"`
}

// Ticket is the flat semantic view of one work item, with HTML already
// stripped from the free-text fields. Zero dates mean absent or unparsable.
type Ticket struct {
	ID          int
	Type        string
	Title       string
	Description string
	Acceptance  string
	CreatedBy   string
	State       string
	AreaPath    string
	StartDate   time.Time
	TargetDate  time.Time
}

// Completeness reports whether a record carries enough content to assess.
// HasContent is the single gate used everywhere else.
type Completeness struct {
	HasDescription bool
	HasAcceptance  bool
	HasContent     bool
	DescLen        int
	AcceptanceLen  int
}

// AssessmentResult is the derived grade for one ticket. Grade may carry the
// "Prelim: " prefix when the start date is far enough out.
type AssessmentResult struct {
	ID        int
	Grade     string
	Score     int
	Rationale string
}

// AssessedTicket pairs a ticket with its result for reporting.
type AssessedTicket struct {
	Ticket Ticket
	Result AssessmentResult
}

// SyncStatus is the reconciler's diff of expected IDs against the cache.
// JSON tags match the --json output consumed by scripts.
type SyncStatus struct {
	QueryCount    int   `json:"query_count"`
	CacheCount    int   `json:"cache_count"`
	MissingIDs    []int `json:"missing_ids"`
	RemovedIDs    []int `json:"removed_ids"`
	IncompleteIDs []int `json:"incomplete_ids"`
	NeedsFetch    []int `json:"needs_fetch"`
}

// InSync reports whether nothing needs fetching or cleaning.
func (s SyncStatus) InSync() bool {
	return len(s.NeedsFetch) == 0 && len(s.RemovedIDs) == 0
}
