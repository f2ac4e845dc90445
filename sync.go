package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/tailscale/hujson"
)

const (
	// displayBatchSize is how many IDs a fetch-instruction batch lists.
	displayBatchSize = 50
	// maxDisplayIDs caps inline ID lists in human-readable output.
	maxDisplayIDs = 20

	statusDivider = "============================================================"
)

// CheckSyncStatus diffs an expected-ID collection against the cached
// records: missing = expected minus cached, removed = cached minus expected,
// incomplete = cached-and-expected records without content. Pure; the
// document is not modified.
func CheckSyncStatus(doc *CacheDocument, expectedIDs []int) SyncStatus {
	expected := make(map[int]bool, len(expectedIDs))
	for _, id := range expectedIDs {
		expected[id] = true
	}
	cached := doc.CachedIDs()

	missing := []int{}
	for id := range expected {
		if !cached[id] {
			missing = append(missing, id)
		}
	}
	removed := []int{}
	for id := range cached {
		if !expected[id] {
			removed = append(removed, id)
		}
	}
	incomplete := []int{}
	for _, rec := range doc.WorkItems {
		id := rec.ResolveID()
		if id == 0 || !expected[id] {
			continue
		}
		if !CheckCompleteness(rec).HasContent {
			incomplete = append(incomplete, id)
		}
	}

	needsSet := make(map[int]bool, len(missing)+len(incomplete))
	for _, id := range missing {
		needsSet[id] = true
	}
	for _, id := range incomplete {
		needsSet[id] = true
	}
	needsFetch := make([]int, 0, len(needsSet))
	for id := range needsSet {
		needsFetch = append(needsFetch, id)
	}

	sort.Ints(missing)
	sort.Ints(removed)
	sort.Ints(incomplete)
	sort.Ints(needsFetch)

	return SyncStatus{
		QueryCount:    len(expectedIDs),
		CacheCount:    len(cached),
		MissingIDs:    missing,
		RemovedIDs:    removed,
		IncompleteIDs: incomplete,
		NeedsFetch:    needsFetch,
	}
}

// UpdateExpectedIDs overwrites the expected-ID metadata with a deduplicated,
// sorted copy of ids and stamps the sync time. This is the only place
// expected-ID state changes.
func (doc *CacheDocument) UpdateExpectedIDs(ids []int) {
	seen := make(map[int]bool, len(ids))
	unique := make([]int, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			unique = append(unique, id)
		}
	}
	sort.Ints(unique)
	doc.Metadata.ExpectedIDs = unique
	doc.Metadata.ExpectedCount = len(unique)
	doc.Metadata.LastQuerySync = time.Now().UTC().Format(time.RFC3339)
}

// ExpectedIDs resolves the expected-ID universe: cache metadata when
// present, else the static expected_ids from config.
func ExpectedIDs(doc *CacheDocument, cfg Config) []int {
	if len(doc.Metadata.ExpectedIDs) > 0 {
		return doc.Metadata.ExpectedIDs
	}
	return cfg.ExpectedIDs
}

// ReadIDsFile reads an expected-ID file: a JSON array of integers or an
// object with an "ids" array. Comments and trailing commas are tolerated so
// the files can be hand-maintained.
func ReadIDsFile(path string) ([]int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading ids file: %w", err)
	}
	ids, err := parseIDsPayload(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ids, nil
}

func parseIDsPayload(data []byte) ([]int, error) {
	std, err := hujson.Standardize(data)
	if err != nil {
		return nil, fmt.Errorf("parsing ids: %w", err)
	}
	var ids []int
	if err := json.Unmarshal(std, &ids); err == nil {
		return ids, nil
	}
	var envelope struct {
		IDs []int `json:"ids"`
	}
	if err := json.Unmarshal(std, &envelope); err != nil {
		return nil, fmt.Errorf("parsing ids: %w", err)
	}
	if envelope.IDs == nil {
		return nil, fmt.Errorf("no ids found")
	}
	return envelope.IDs, nil
}

// FormatSyncStatus renders the reconciler diff for terminal output.
func FormatSyncStatus(status SyncStatus) string {
	var b strings.Builder
	b.WriteString(statusDivider + "\n")
	b.WriteString("WORK ITEM CACHE - SYNC STATUS\n")
	b.WriteString(statusDivider + "\n\n")
	fmt.Fprintf(&b, "Expected: %d items\n", status.QueryCount)
	fmt.Fprintf(&b, "Cached:   %d items\n\n", status.CacheCount)

	writeIDSection(&b, "New items to fetch", status.MissingIDs)
	writeIDSection(&b, "Removed from expected set", status.RemovedIDs)
	writeIDSection(&b, "Incomplete in cache", status.IncompleteIDs)

	b.WriteString("\n" + statusDivider + "\n")
	if len(status.NeedsFetch) == 0 {
		b.WriteString("Cache is fully synced - no fetch needed.\n")
		return b.String()
	}
	fmt.Fprintf(&b, "Total IDs needing fetch: %d\n", len(status.NeedsFetch))
	for i, batch := range chunkIDs(status.NeedsFetch, displayBatchSize) {
		fmt.Fprintf(&b, "\nBatch %d: %s\n", i+1, formatIDList(batch, 0))
	}
	return b.String()
}

// FormatCacheCheck renders the completeness-oriented cache check.
func FormatCacheCheck(status SyncStatus, cachePath string) string {
	var b strings.Builder
	b.WriteString(statusDivider + "\n")
	b.WriteString("WORK ITEM CACHE - STATUS CHECK\n")
	b.WriteString(statusDivider + "\n\n")
	fmt.Fprintf(&b, "Expected items: %d\n", status.QueryCount)
	fmt.Fprintf(&b, "Cached items:   %d (%s)\n", status.CacheCount, cachePath)
	fmt.Fprintf(&b, "Missing items:  %d\n", len(status.MissingIDs))
	if len(status.RemovedIDs) > 0 {
		fmt.Fprintf(&b, "Extra items (not in expected set): %d\n", len(status.RemovedIDs))
	}

	complete := status.QueryCount - len(status.MissingIDs) - len(status.IncompleteIDs)
	if complete < 0 {
		complete = 0
	}
	b.WriteString("\nField completeness (description or AC present):\n")
	fmt.Fprintf(&b, "  Complete:   %d\n", complete)
	fmt.Fprintf(&b, "  Incomplete: %d\n", len(status.IncompleteIDs))
	if len(status.IncompleteIDs) > 0 {
		fmt.Fprintf(&b, "  IDs: %s\n", formatIDList(status.IncompleteIDs, maxDisplayIDs))
	}

	b.WriteString("\n" + statusDivider + "\n")
	if len(status.NeedsFetch) == 0 {
		b.WriteString("CACHE IS COMPLETE - ready for quality assessment.\n")
		b.WriteString("Run: ticketqa assess\n")
		return b.String()
	}
	fmt.Fprintf(&b, "CACHE NEEDS UPDATES - %d items to fetch\n", len(status.NeedsFetch))
	for i, batch := range chunkIDs(status.NeedsFetch, displayBatchSize) {
		fmt.Fprintf(&b, "\nBatch %d (%d items): %s\n", i+1, len(batch), formatIDList(batch, 0))
	}
	b.WriteString("\nRun: ticketqa fetch\n")
	return b.String()
}

// FormatFetchInstructions tells the operator how to get the cache back in
// sync when the pipeline refuses to assess stale data.
func FormatFetchInstructions(status SyncStatus, cfg Config) string {
	var b strings.Builder
	b.WriteString("\n" + statusDivider + "\n")
	b.WriteString("SYNC REQUIRED\n")
	b.WriteString(statusDivider + "\n")
	if len(status.RemovedIDs) > 0 {
		fmt.Fprintf(&b, "\nItems no longer expected: %d\n", len(status.RemovedIDs))
		b.WriteString("Run: ticketqa sync --clean <ids-file>\n")
	}
	if len(status.MissingIDs) > 0 {
		fmt.Fprintf(&b, "\nNew items to fetch: %d\n", len(status.MissingIDs))
	}
	if len(status.IncompleteIDs) > 0 {
		fmt.Fprintf(&b, "\nIncomplete items to re-fetch: %d\n", len(status.IncompleteIDs))
	}
	if cfg.ADOConfigured() {
		b.WriteString("\nRun: ticketqa fetch\n")
		return b.String()
	}
	b.WriteString("\nFetch these IDs with your work-item client, then: ticketqa save <response.json>\n")
	for i, batch := range chunkIDs(status.NeedsFetch, displayBatchSize) {
		fmt.Fprintf(&b, "Batch %d: %s\n", i+1, formatIDList(batch, 0))
	}
	return b.String()
}

func writeIDSection(b *strings.Builder, label string, ids []int) {
	fmt.Fprintf(b, "%s: %d\n", label, len(ids))
	if len(ids) > 0 {
		fmt.Fprintf(b, "  IDs: %s\n", formatIDList(ids, maxDisplayIDs))
	}
}

// formatIDList joins IDs with commas; max > 0 truncates with a count of the
// remainder.
func formatIDList(ids []int, max int) string {
	shown := ids
	more := 0
	if max > 0 && len(ids) > max {
		shown = ids[:max]
		more = len(ids) - max
	}
	parts := make([]string, len(shown))
	for i, id := range shown {
		parts[i] = fmt.Sprint(id)
	}
	out := strings.Join(parts, ", ")
	if more > 0 {
		out += fmt.Sprintf(" ... and %d more", more)
	}
	return out
}

// chunkIDs splits ids into slices of at most size, preserving order.
func chunkIDs(ids []int, size int) [][]int {
	if size <= 0 {
		size = displayBatchSize
	}
	var chunks [][]int
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		chunks = append(chunks, ids[start:end])
	}
	return chunks
}
