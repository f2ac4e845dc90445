package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

const adoAPIVersion = "7.1"

type adoWIQLResult struct {
	QueryType string `json:"queryType"`
	WorkItems []struct {
		ID int `json:"id"`
	} `json:"workItems"`
	WorkItemRelations []struct {
		Target struct {
			ID int `json:"id"`
		} `json:"target"`
	} `json:"workItemRelations"`
}

type adoBatchResponse struct {
	Count int              `json:"count"`
	Value []WorkItemRecord `json:"value"`
}

// FetchResult tracks what one fetch run did to the cache.
type FetchResult struct {
	Requested int
	Fetched   int
	Added     int
	Updated   int
	Errors    []string
}

// RunStoredQueries executes every configured stored query and returns the
// union of work-item IDs they select, sorted ascending. Flat and tree query
// results are both handled.
func RunStoredQueries(cfg Config) ([]int, error) {
	if len(cfg.QueryIDs) == 0 {
		return nil, fmt.Errorf("no query_ids configured")
	}
	seen := make(map[int]bool)
	var ids []int
	for _, queryID := range cfg.QueryIDs {
		queryIDs, err := runStoredQuery(cfg, queryID)
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", queryID, err)
		}
		log.Printf("ado query %s returned %d ids", queryID, len(queryIDs))
		for _, id := range queryIDs {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	sort.Ints(ids)
	return ids, nil
}

func runStoredQuery(cfg Config, queryID string) ([]int, error) {
	apiURL := fmt.Sprintf("%s/%s/_apis/wit/wiql/%s?api-version=%s",
		strings.TrimRight(cfg.OrganizationURL, "/"), url.PathEscape(cfg.Project),
		url.PathEscape(queryID), adoAPIVersion)

	body, err := adoRequest(cfg, "GET", apiURL, nil)
	if err != nil {
		return nil, err
	}

	var result adoWIQLResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}
	var ids []int
	for _, wi := range result.WorkItems {
		ids = append(ids, wi.ID)
	}
	for _, rel := range result.WorkItemRelations {
		if rel.Target.ID != 0 {
			ids = append(ids, rel.Target.ID)
		}
	}
	return ids, nil
}

// FetchAndMerge fetches the given IDs in chunks and merges the returned
// records into the document. A failed chunk is recorded and skipped; the
// run only fails outright when every chunk failed. The caller saves.
func FetchAndMerge(cfg Config, doc *CacheDocument, ids []int) (FetchResult, error) {
	result := FetchResult{Requested: len(ids)}
	if len(ids) == 0 {
		return result, nil
	}

	var records []WorkItemRecord
	for _, chunk := range chunkIDs(ids, cfg.FetchBatchSize) {
		batch, err := fetchWorkItemChunk(cfg, chunk)
		if err != nil {
			log.Printf("ado fetch chunk %d..%d failed: %v", chunk[0], chunk[len(chunk)-1], err)
			result.Errors = append(result.Errors, err.Error())
			continue
		}
		log.Printf("ado fetch chunk requested=%d got=%d", len(chunk), len(batch))
		records = append(records, batch...)
	}

	result.Fetched = len(records)
	if len(result.Errors) > 0 && result.Fetched == 0 {
		return result, fmt.Errorf("all fetches failed: %s", strings.Join(result.Errors, "; "))
	}
	result.Added, result.Updated = doc.MergeRecords(records)
	return result, nil
}

func fetchWorkItemChunk(cfg Config, ids []int) ([]WorkItemRecord, error) {
	payload, err := json.Marshal(map[string]any{
		"ids":         ids,
		"fields":      cfg.RequiredFields,
		"errorPolicy": "omit",
	})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	apiURL := fmt.Sprintf("%s/%s/_apis/wit/workitemsbatch?api-version=%s",
		strings.TrimRight(cfg.OrganizationURL, "/"), url.PathEscape(cfg.Project), adoAPIVersion)

	body, err := adoRequest(cfg, "POST", apiURL, payload)
	if err != nil {
		return nil, err
	}

	var result adoBatchResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}
	return result.Value, nil
}

func adoRequest(cfg Config, method, apiURL string, payload []byte) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, apiURL, reqBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Basic "+basicPATToken(cfg.PersonalAccessToken))
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := externalHTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("Azure DevOps API returned %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

// basicPATToken builds the basic-auth token for a personal access token:
// empty username, PAT as password.
func basicPATToken(pat string) string {
	return base64.StdEncoding.EncodeToString([]byte(":" + pat))
}

// FormatFetchSummary renders a FetchResult as a one-line summary with an
// optional warning block, suitable for both terminal and Slack.
func FormatFetchSummary(result FetchResult) string {
	if result.Requested == 0 {
		return "Cache is fully synced - no fetch needed."
	}
	unchanged := result.Fetched - result.Added - result.Updated
	parts := []string{
		fmt.Sprintf("%d added", result.Added),
		fmt.Sprintf("%d updated", result.Updated),
	}
	if unchanged > 0 {
		parts = append(parts, fmt.Sprintf("%d unchanged", unchanged))
	}
	msg := fmt.Sprintf("Fetched %d of %d work items: %s", result.Fetched, result.Requested, strings.Join(parts, ", "))
	if missing := result.Requested - result.Fetched; missing > 0 {
		msg += fmt.Sprintf(" (%d not returned)", missing)
	}
	if len(result.Errors) > 0 {
		msg += "\nWarnings:\n- " + strings.Join(result.Errors, "\n- ")
	}
	return msg
}
