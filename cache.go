package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/natefinch/atomic"
)

// NewCacheDocument returns an empty document ready for merging.
func NewCacheDocument() *CacheDocument {
	return &CacheDocument{WorkItems: []WorkItemRecord{}}
}

// LoadCache reads the cache document at path. A missing file yields an empty
// document, not an error. Malformed JSON is a hard error and leaves the file
// untouched.
func LoadCache(path string) (*CacheDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewCacheDocument(), nil
		}
		return nil, fmt.Errorf("reading cache %s: %w", path, err)
	}
	var doc CacheDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing cache %s: %w", path, err)
	}
	if doc.WorkItems == nil {
		doc.WorkItems = []WorkItemRecord{}
	}
	return &doc, nil
}

// SaveCache refreshes the bookkeeping metadata and persists the document
// with a write-then-rename so an interrupted run never corrupts the file.
func SaveCache(path string, doc *CacheDocument) error {
	doc.Metadata.LastUpdated = time.Now().UTC().Format(time.RFC3339)
	doc.Metadata.TotalItems = len(doc.WorkItems)

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding cache: %w", err)
	}
	data = append(data, '\n')
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("writing cache %s: %w", path, err)
	}
	return nil
}

// MergeRecords folds a fetched batch into the document. Unknown IDs are
// inserted as-is; known IDs merge field-by-field, most complete value wins.
// Records without a resolvable ID are skipped. Returns how many records were
// added and how many existing records actually changed.
func (doc *CacheDocument) MergeRecords(batch []WorkItemRecord) (added, updated int) {
	index := make(map[int]int, len(doc.WorkItems))
	for i, rec := range doc.WorkItems {
		if id := rec.ResolveID(); id != 0 {
			index[id] = i
		}
	}

	for _, rec := range batch {
		id := rec.ResolveID()
		if id == 0 {
			continue
		}
		pos, exists := index[id]
		if !exists {
			doc.WorkItems = append(doc.WorkItems, rec)
			index[id] = len(doc.WorkItems) - 1
			added++
			continue
		}
		merged, changed := mergeFields(doc.WorkItems[pos].Fields, rec.Fields)
		if changed {
			doc.WorkItems[pos].Fields = merged
			updated++
		}
	}
	return added, updated
}

// mergeFields applies the most-complete-wins rule per field: an incoming
// value replaces the stored one only when the stored value is empty or
// absent, or the incoming value is strictly longer. A populated field is
// never emptied or shrunk. Pure; the inputs are not modified.
func mergeFields(stored, incoming map[string]any) (map[string]any, bool) {
	merged := make(map[string]any, len(stored)+len(incoming))
	for k, v := range stored {
		merged[k] = v
	}
	changed := false
	for key, newVal := range incoming {
		oldVal, ok := merged[key]
		switch {
		case !ok:
			merged[key] = newVal
			changed = true
		case isEmptyValue(oldVal):
			if !isEmptyValue(newVal) {
				merged[key] = newVal
				changed = true
			}
		case !isEmptyValue(newVal) && valueLen(newVal) > valueLen(oldVal):
			merged[key] = newVal
			changed = true
		}
	}
	return merged, changed
}

func isEmptyValue(v any) bool {
	switch s := v.(type) {
	case nil:
		return true
	case string:
		return s == ""
	}
	return false
}

// valueLen is the comparable length of a field value: byte length for
// strings, encoded JSON length for everything else.
func valueLen(v any) int {
	switch s := v.(type) {
	case nil:
		return 0
	case string:
		return len(s)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return 0
	}
	return len(data)
}

// RemoveStale drops every record whose ID is not in keep, including records
// with no resolvable ID. Returns the number removed.
func (doc *CacheDocument) RemoveStale(keep []int) int {
	keepSet := make(map[int]bool, len(keep))
	for _, id := range keep {
		keepSet[id] = true
	}
	kept := doc.WorkItems[:0]
	removed := 0
	for _, rec := range doc.WorkItems {
		if keepSet[rec.ResolveID()] {
			kept = append(kept, rec)
		} else {
			removed++
		}
	}
	doc.WorkItems = kept
	return removed
}

// CachedIDs returns the set of resolvable record IDs in the document.
func (doc *CacheDocument) CachedIDs() map[int]bool {
	ids := make(map[int]bool, len(doc.WorkItems))
	for _, rec := range doc.WorkItems {
		if id := rec.ResolveID(); id != 0 {
			ids[id] = true
		}
	}
	return ids
}

// ParseBatchPayload decodes a batch of raw work items from any of the shapes
// callers hand us: a bare array, {"work_items": [...]}, the API's
// {"value": [...]}, or a single record object.
func ParseBatchPayload(data []byte) ([]WorkItemRecord, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty payload")
	}
	if trimmed[0] == '[' {
		var items []WorkItemRecord
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("parsing payload: %w", err)
		}
		return items, nil
	}
	var envelope struct {
		WorkItems []WorkItemRecord `json:"work_items"`
		Value     []WorkItemRecord `json:"value"`
	}
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return nil, fmt.Errorf("parsing payload: %w", err)
	}
	if envelope.WorkItems != nil {
		return envelope.WorkItems, nil
	}
	if envelope.Value != nil {
		return envelope.Value, nil
	}
	var single WorkItemRecord
	if err := json.Unmarshal(trimmed, &single); err != nil {
		return nil, fmt.Errorf("parsing payload: %w", err)
	}
	if single.ResolveID() == 0 && len(single.Fields) == 0 {
		return nil, fmt.Errorf("payload contains no work items")
	}
	return []WorkItemRecord{single}, nil
}
