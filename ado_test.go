package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestBasicPATToken(t *testing.T) {
	if got := basicPATToken("secret"); got != "OnNlY3JldA==" {
		t.Errorf("basicPATToken = %q", got)
	}
}

func TestRunStoredQueriesFlatAndTree(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Basic OnNlY3JldA==" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.URL.Query().Get("api-version"); got != "7.1" {
			t.Errorf("api-version = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/proj/_apis/wit/wiql/q-flat"):
			_ = json.NewEncoder(w).Encode(map[string]any{
				"queryType": "flat",
				"workItems": []map[string]int{{"id": 2}, {"id": 1}},
			})
		case strings.HasSuffix(r.URL.Path, "/proj/_apis/wit/wiql/q-tree"):
			_ = json.NewEncoder(w).Encode(map[string]any{
				"queryType": "tree",
				"workItemRelations": []map[string]any{
					{"target": map[string]int{"id": 2}},
					{"target": map[string]int{"id": 3}},
					{"target": map[string]int{"id": 0}},
				},
			})
		default:
			t.Errorf("unexpected path: %s", r.URL.Path)
			w.WriteHeader(404)
		}
	}))
	defer server.Close()

	cfg := Config{
		OrganizationURL:     server.URL,
		Project:             "proj",
		PersonalAccessToken: "secret",
		QueryIDs:            []string{"q-flat", "q-tree"},
	}
	ids, err := RunStoredQueries(cfg)
	if err != nil {
		t.Fatalf("RunStoredQueries: %v", err)
	}
	if diff := cmp.Diff([]int{1, 2, 3}, ids); diff != "" {
		t.Errorf("IDs mismatch:\n%s", diff)
	}
}

func TestRunStoredQueriesNoneConfigured(t *testing.T) {
	_, err := RunStoredQueries(Config{})
	if err == nil || err.Error() != "no query_ids configured" {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestFetchAndMergeChunksRequests(t *testing.T) {
	var gotChunks [][]int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" || !strings.HasSuffix(r.URL.Path, "/proj/_apis/wit/workitemsbatch") {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Content-Type"); got != "application/json" {
			t.Errorf("Content-Type = %q", got)
		}
		var req struct {
			IDs         []int    `json:"ids"`
			Fields      []string `json:"fields"`
			ErrorPolicy string   `json:"errorPolicy"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		if req.ErrorPolicy != "omit" {
			t.Errorf("errorPolicy = %q", req.ErrorPolicy)
		}
		if len(req.Fields) == 0 {
			t.Error("fields missing from request")
		}
		gotChunks = append(gotChunks, req.IDs)

		var value []map[string]any
		for _, id := range req.IDs {
			value = append(value, map[string]any{
				"id":     id,
				"fields": map[string]any{fieldID: id, fieldDescription: "body"},
			})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"count": len(value), "value": value})
	}))
	defer server.Close()

	cfg := Config{
		OrganizationURL:     server.URL,
		Project:             "proj",
		PersonalAccessToken: "secret",
		RequiredFields:      DefaultRequiredFields(),
		FetchBatchSize:      2,
	}
	doc := NewCacheDocument()
	result, err := FetchAndMerge(cfg, doc, []int{1, 2, 3})
	if err != nil {
		t.Fatalf("FetchAndMerge: %v", err)
	}

	if diff := cmp.Diff([][]int{{1, 2}, {3}}, gotChunks); diff != "" {
		t.Errorf("chunks mismatch:\n%s", diff)
	}
	if result.Requested != 3 || result.Fetched != 3 || result.Added != 3 || result.Updated != 0 {
		t.Errorf("result = %+v", result)
	}
	if len(doc.WorkItems) != 3 {
		t.Errorf("cache has %d items, want 3", len(doc.WorkItems))
	}
}

func TestFetchAndMergeAllChunksFail(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(500)
		_, _ = w.Write([]byte("boom"))
	}))
	defer server.Close()

	cfg := Config{
		OrganizationURL:     server.URL,
		Project:             "proj",
		PersonalAccessToken: "secret",
		RequiredFields:      DefaultRequiredFields(),
		FetchBatchSize:      200,
	}
	doc := NewCacheDocument()
	result, err := FetchAndMerge(cfg, doc, []int{1, 2})
	if err == nil {
		t.Fatal("expected error when every chunk fails")
	}
	if !strings.Contains(err.Error(), "all fetches failed") {
		t.Errorf("error = %v", err)
	}
	if !strings.Contains(err.Error(), "Azure DevOps API returned 500: boom") {
		t.Errorf("error should carry the API response: %v", err)
	}
	if result.Fetched != 0 || len(doc.WorkItems) != 0 {
		t.Errorf("failed fetch must not touch the cache: %+v", result)
	}
}

func TestFetchAndMergePartialFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			IDs []int `json:"ids"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if len(req.IDs) == 1 && req.IDs[0] == 2 {
			w.WriteHeader(503)
			_, _ = w.Write([]byte("throttled"))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"count": 1,
			"value": []map[string]any{
				{"id": req.IDs[0], "fields": map[string]any{fieldID: req.IDs[0], fieldDescription: "body"}},
			},
		})
	}))
	defer server.Close()

	cfg := Config{
		OrganizationURL:     server.URL,
		Project:             "proj",
		PersonalAccessToken: "secret",
		RequiredFields:      DefaultRequiredFields(),
		FetchBatchSize:      1,
	}
	doc := NewCacheDocument()
	result, err := FetchAndMerge(cfg, doc, []int{1, 2})
	if err != nil {
		t.Fatalf("partial failure should not fail the run: %v", err)
	}
	if result.Fetched != 1 || result.Added != 1 {
		t.Errorf("result = %+v", result)
	}
	if len(result.Errors) != 1 || !strings.Contains(result.Errors[0], "503") {
		t.Errorf("Errors = %v", result.Errors)
	}
}

func TestFetchAndMergeNoIDs(t *testing.T) {
	result, err := FetchAndMerge(Config{}, NewCacheDocument(), nil)
	if err != nil {
		t.Fatalf("FetchAndMerge(nil ids): %v", err)
	}
	if result.Requested != 0 || result.Fetched != 0 {
		t.Errorf("result = %+v", result)
	}
}

func TestFormatFetchSummary(t *testing.T) {
	tests := []struct {
		name   string
		result FetchResult
		want   string
	}{
		{
			name:   "nothing requested",
			result: FetchResult{},
			want:   "Cache is fully synced - no fetch needed.",
		},
		{
			name:   "all added",
			result: FetchResult{Requested: 2, Fetched: 2, Added: 2},
			want:   "Fetched 2 of 2 work items: 2 added, 0 updated",
		},
		{
			name:   "mixed with unchanged and missing",
			result: FetchResult{Requested: 10, Fetched: 8, Added: 3, Updated: 2},
			want:   "Fetched 8 of 10 work items: 3 added, 2 updated, 3 unchanged (2 not returned)",
		},
		{
			name:   "with warnings",
			result: FetchResult{Requested: 4, Fetched: 2, Added: 2, Errors: []string{"chunk failed"}},
			want:   "Fetched 2 of 4 work items: 2 added, 0 updated (2 not returned)\nWarnings:\n- chunk failed",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FormatFetchSummary(tt.result)
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
