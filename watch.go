package main

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/slack-go/slack"
)

// validateCronSchedule checks a standard 5-field cron expression
// (minute hour day-of-month month day-of-week).
func validateCronSchedule(schedule string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	_, err := parser.Parse(strings.TrimSpace(schedule))
	return err
}

// StartWatchLoop runs the sync-fetch-assess pipeline on a cron schedule and
// posts results to Slack when configured. Runs in the foreground and only
// returns on an invalid schedule. Examples: "0 9 * * *" (daily 9am),
// "0 9 * * 1" (Mondays 9am).
func StartWatchLoop(cfg Config, schedule string) error {
	schedule = strings.TrimSpace(schedule)
	if schedule == "" {
		return fmt.Errorf("no schedule configured (set watch_schedule or pass --schedule)")
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(schedule)
	if err != nil {
		return fmt.Errorf("invalid schedule '%s': %v", schedule, err)
	}

	log.Printf("Watch scheduled (cron: %s)", schedule)
	for {
		now := time.Now().In(cfg.Location)
		next := sched.Next(now)
		wait := next.Sub(now)
		log.Printf("Next assessment at %s (in %s)", next.Format("Mon Jan 2 15:04"), wait.Round(time.Minute))

		time.Sleep(wait)

		if err := runWatchTick(cfg); err != nil {
			log.Printf("Watch run error: %v", err)
		}
	}
}

// runWatchTick executes one full pipeline pass: refresh the expected set
// from stored queries when possible, fetch what the reconciler flags, save,
// assess, write reports, deliver. Partial failures are logged and the tick
// carries on with what it has.
func runWatchTick(cfg Config) error {
	doc, err := LoadCache(cfg.CachePath)
	if err != nil {
		return err
	}

	expected := ExpectedIDs(doc, cfg)
	if cfg.ADOConfigured() && len(cfg.QueryIDs) > 0 {
		ids, err := RunStoredQueries(cfg)
		if err != nil {
			log.Printf("Watch query error: %v (keeping previous expected set)", err)
		} else {
			expected = ids
			doc.UpdateExpectedIDs(ids)
		}
	}
	if len(expected) == 0 {
		return fmt.Errorf("no expected IDs: configure query_ids or run 'ticketqa sync --check' first")
	}

	status := CheckSyncStatus(doc, expected)
	if len(status.NeedsFetch) > 0 && cfg.ADOConfigured() {
		result, err := FetchAndMerge(cfg, doc, status.NeedsFetch)
		if err != nil {
			log.Printf("Watch fetch error: %v", err)
		} else {
			log.Printf("Watch fetch: %s", FormatFetchSummary(result))
		}
	}
	if err := SaveCache(cfg.CachePath, doc); err != nil {
		return err
	}

	now := time.Now().In(cfg.Location)
	items := AssessExpected(doc, expected)
	summary := Summarize(cfg.ReportLabel, items, now)
	csvPath, err := WriteCSVReport(items, cfg.ReportOutputDir, now, cfg.ReportLabel)
	if err != nil {
		return err
	}
	content := RenderSummaryMarkdown(summary)
	summaryPath, err := WriteSummaryFile(content, cfg.ReportOutputDir, now, cfg.ReportLabel)
	if err != nil {
		return err
	}
	log.Printf("Watch assessment complete: %d items (F=%d D=%d) csv=%s summary=%s",
		summary.Total, len(summary.FImminent), len(summary.DImminent), csvPath, summaryPath)

	if cfg.SlackConfigured() {
		api := slack.New(cfg.SlackBotToken)
		if err := PostAssessmentSummary(api, cfg, summary); err != nil {
			log.Printf("Watch post error: %v", err)
		}
		if err := UploadReportCSV(api, cfg, csvPath, summary); err != nil {
			log.Printf("Watch upload error: %v", err)
		}
	}
	return nil
}
