package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/slack-go/slack"
	flag "github.com/spf13/pflag"
)

const usageText = `ticketqa - work item quality assessment

Usage: ticketqa <command> [flags]

Commands:
  check    Show cache coverage and completeness for the expected items
  sync     Reconcile the cache against an expected-ID file
  save     Merge a fetched work-item payload (file or stdin) into the cache
  fetch    Fetch expected work items from Azure DevOps into the cache
  assess   Grade cached work items and write CSV and summary reports
  run      Sync check, optional fetch, then assess
  nudge    DM creators whose items graded D or F
  watch    Run the pipeline on a cron schedule

Run 'ticketqa <command> --help' for command flags.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usageText)
		os.Exit(2)
	}
	command, args := os.Args[1], os.Args[2:]
	switch command {
	case "help", "-h", "--help":
		fmt.Print(usageText)
		return
	}

	cfg := LoadConfig()
	ConfigureExternalHTTPClient(cfg.ExternalHTTPTimeoutSeconds)

	var err error
	switch command {
	case "check":
		err = cmdCheck(os.Stdout, cfg, args)
	case "sync":
		err = cmdSync(os.Stdout, cfg, args)
	case "save":
		err = cmdSave(os.Stdout, os.Stdin, cfg, args)
	case "fetch":
		err = cmdFetch(os.Stdout, cfg, args)
	case "assess":
		err = cmdAssess(os.Stdout, cfg, args)
	case "run":
		err = cmdRun(os.Stdout, cfg, args)
	case "nudge":
		err = cmdNudge(os.Stdout, cfg, args)
	case "watch":
		err = cmdWatch(cfg, args)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q\n\n", command)
		fmt.Fprint(os.Stderr, usageText)
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("%s: %v", command, err)
	}
}

func newFlagSet(name string, out io.Writer, usage string) *flag.FlagSet {
	flagSet := flag.NewFlagSet(name, flag.ContinueOnError)
	flagSet.SetOutput(out)
	flagSet.Usage = func() {
		fmt.Fprintf(out, "Usage: ticketqa %s\n\nFlags:\n", usage)
		fmt.Fprint(out, flagSet.FlagUsages())
	}
	return flagSet
}

// parseFlags runs the flag set and reports whether the command should stop
// without error, which is the case for --help.
func parseFlags(flagSet *flag.FlagSet, args []string) (stop bool, err error) {
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return true, nil
		}
		return true, err
	}
	return false, nil
}

func cmdCheck(out io.Writer, cfg Config, args []string) error {
	flagSet := newFlagSet("check", out, "check [--json]")
	jsonOut := flagSet.Bool("json", false, "Output status as JSON")
	if stop, err := parseFlags(flagSet, args); stop || err != nil {
		return err
	}

	doc, err := LoadCache(cfg.CachePath)
	if err != nil {
		return err
	}
	expected := ExpectedIDs(doc, cfg)
	if len(expected) == 0 {
		return fmt.Errorf("no expected IDs: run 'ticketqa sync --check <ids-file>' or set expected_ids in config")
	}

	status := CheckSyncStatus(doc, expected)
	if *jsonOut {
		return writeJSON(out, status)
	}
	fmt.Fprint(out, FormatCacheCheck(status, cfg.CachePath))
	return nil
}

func cmdSync(out io.Writer, cfg Config, args []string) error {
	flagSet := newFlagSet("sync", out, "sync (--check FILE | --update-ids FILE | --clean FILE | --status) [--json]")
	checkFile := flagSet.String("check", "", "Diff the cache against ids FILE and store the expected set")
	updateFile := flagSet.String("update-ids", "", "Store the expected set from ids FILE without diffing")
	cleanFile := flagSet.String("clean", "", "Remove cached items not listed in ids FILE")
	statusOnly := flagSet.Bool("status", false, "Show the diff for the stored expected set")
	jsonOut := flagSet.Bool("json", false, "Output status as JSON")
	if stop, err := parseFlags(flagSet, args); stop || err != nil {
		return err
	}

	doc, err := LoadCache(cfg.CachePath)
	if err != nil {
		return err
	}

	switch {
	case *statusOnly:
		expected := ExpectedIDs(doc, cfg)
		if len(expected) == 0 {
			return fmt.Errorf("no expected IDs in cache metadata: run 'ticketqa sync --check <ids-file>' first")
		}
		status := CheckSyncStatus(doc, expected)
		if *jsonOut {
			return writeJSON(out, status)
		}
		fmt.Fprint(out, FormatSyncStatus(status))
		return nil

	case *checkFile != "":
		ids, err := ReadIDsFile(*checkFile)
		if err != nil {
			return err
		}
		status := CheckSyncStatus(doc, ids)
		if *jsonOut {
			if err := writeJSON(out, status); err != nil {
				return err
			}
		} else {
			fmt.Fprint(out, FormatSyncStatus(status))
		}
		doc.UpdateExpectedIDs(ids)
		if err := SaveCache(cfg.CachePath, doc); err != nil {
			return err
		}
		fmt.Fprintf(out, "\nUpdated expected IDs: %d items\n", len(doc.Metadata.ExpectedIDs))
		return nil

	case *updateFile != "":
		ids, err := ReadIDsFile(*updateFile)
		if err != nil {
			return err
		}
		doc.UpdateExpectedIDs(ids)
		if err := SaveCache(cfg.CachePath, doc); err != nil {
			return err
		}
		fmt.Fprintf(out, "Updated expected IDs: %d items\n", len(doc.Metadata.ExpectedIDs))
		return nil

	case *cleanFile != "":
		ids, err := ReadIDsFile(*cleanFile)
		if err != nil {
			return err
		}
		removed := doc.RemoveStale(ids)
		if removed == 0 {
			fmt.Fprintln(out, "No stale items to remove")
			return nil
		}
		if err := SaveCache(cfg.CachePath, doc); err != nil {
			return err
		}
		fmt.Fprintf(out, "Removed %d stale items from cache\n", removed)
		return nil
	}

	flagSet.Usage()
	return fmt.Errorf("one of --check, --update-ids, --clean or --status is required")
}

func cmdSave(out io.Writer, in io.Reader, cfg Config, args []string) error {
	flagSet := newFlagSet("save", out, "save [payload.json]")
	if stop, err := parseFlags(flagSet, args); stop || err != nil {
		return err
	}

	var data []byte
	var err error
	if flagSet.NArg() > 0 {
		data, err = os.ReadFile(flagSet.Arg(0))
	} else {
		data, err = io.ReadAll(in)
	}
	if err != nil {
		return fmt.Errorf("reading payload: %w", err)
	}

	items, err := ParseBatchPayload(data)
	if err != nil {
		return err
	}
	doc, err := LoadCache(cfg.CachePath)
	if err != nil {
		return err
	}
	added, updated := doc.MergeRecords(items)
	if err := SaveCache(cfg.CachePath, doc); err != nil {
		return err
	}
	fmt.Fprintf(out, "Processed %d items: %d added, %d updated\n", len(items), added, updated)
	fmt.Fprintf(out, "Cache saved: %d items (%s)\n", doc.Metadata.TotalItems, cfg.CachePath)
	return nil
}

func cmdFetch(out io.Writer, cfg Config, args []string) error {
	flagSet := newFlagSet("fetch", out, "fetch [--ids FILE | --query] [--all]")
	idsFile := flagSet.String("ids", "", "Fetch the IDs in FILE instead of the stored expected set")
	useQueries := flagSet.Bool("query", false, "Refresh the expected set from the configured stored queries first")
	fetchAll := flagSet.Bool("all", false, "Fetch every expected item, not just missing or incomplete ones")
	if stop, err := parseFlags(flagSet, args); stop || err != nil {
		return err
	}

	if !cfg.ADOConfigured() {
		return fmt.Errorf("Azure DevOps is not configured (organization_url, project, personal_access_token)")
	}
	doc, err := LoadCache(cfg.CachePath)
	if err != nil {
		return err
	}

	var expected []int
	switch {
	case *idsFile != "":
		expected, err = ReadIDsFile(*idsFile)
		if err != nil {
			return err
		}
	case *useQueries:
		expected, err = RunStoredQueries(cfg)
		if err != nil {
			return err
		}
		doc.UpdateExpectedIDs(expected)
		fmt.Fprintf(out, "Expected set refreshed from %d stored queries: %d items\n", len(cfg.QueryIDs), len(expected))
	default:
		expected = ExpectedIDs(doc, cfg)
		if len(expected) == 0 {
			return fmt.Errorf("no expected IDs: pass --ids FILE or --query, or run 'ticketqa sync --check' first")
		}
	}

	ids := expected
	if !*fetchAll {
		ids = CheckSyncStatus(doc, expected).NeedsFetch
	}
	if len(ids) == 0 {
		fmt.Fprintln(out, "Cache is fully synced - no fetch needed.")
		if *useQueries {
			return SaveCache(cfg.CachePath, doc)
		}
		return nil
	}

	result, err := FetchAndMerge(cfg, doc, ids)
	if err != nil {
		return err
	}
	if err := SaveCache(cfg.CachePath, doc); err != nil {
		return err
	}
	fmt.Fprintln(out, FormatFetchSummary(result))
	return nil
}

func cmdAssess(out io.Writer, cfg Config, args []string) error {
	flagSet := newFlagSet("assess", out, "assess [--notify] [--email]")
	notify := flagSet.Bool("notify", false, "Post the summary and CSV report to Slack")
	email := flagSet.Bool("email", false, "Also write an email draft (.eml) of the summary")
	if stop, err := parseFlags(flagSet, args); stop || err != nil {
		return err
	}

	doc, err := LoadCache(cfg.CachePath)
	if err != nil {
		return err
	}
	if len(doc.WorkItems) == 0 {
		return fmt.Errorf("cache is empty (%s): fetch or save work items first", cfg.CachePath)
	}
	expected := ExpectedIDs(doc, cfg)
	if len(expected) == 0 {
		return fmt.Errorf("no expected IDs: run 'ticketqa sync --check <ids-file>' or set expected_ids in config")
	}

	status := CheckSyncStatus(doc, expected)
	if len(status.NeedsFetch) > 0 {
		log.Printf("WARNING: %d expected items missing or incomplete; run 'ticketqa check' for details", len(status.NeedsFetch))
	}

	return assessAndDeliver(out, cfg, doc, expected, *notify, *email)
}

// assessAndDeliver is the shared back half of assess and run: grade, write
// reports, print the summary, and deliver as requested.
func assessAndDeliver(out io.Writer, cfg Config, doc *CacheDocument, expected []int, notify, email bool) error {
	now := time.Now().In(cfg.Location)
	items := AssessExpected(doc, expected)
	summary := Summarize(cfg.ReportLabel, items, now)

	csvPath, err := WriteCSVReport(items, cfg.ReportOutputDir, now, cfg.ReportLabel)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "CSV report saved: %s\n", csvPath)

	content := RenderSummaryMarkdown(summary)
	summaryPath, err := WriteSummaryFile(content, cfg.ReportOutputDir, now, cfg.ReportLabel)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Summary report saved: %s\n\n", summaryPath)
	fmt.Fprint(out, content)

	if email {
		emailPath, err := WriteEmailDraftFile(content, cfg.ReportOutputDir, now, cfg.ReportLabel)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "\nEmail draft saved: %s\n", emailPath)
	}

	if notify {
		if !cfg.SlackConfigured() {
			return fmt.Errorf("Slack is not configured (slack_bot_token, report_channel_id)")
		}
		api := slack.New(cfg.SlackBotToken)
		if err := PostAssessmentSummary(api, cfg, summary); err != nil {
			return err
		}
		if err := UploadReportCSV(api, cfg, csvPath, summary); err != nil {
			return err
		}
		fmt.Fprintln(out, "\nPosted summary and report to Slack")
	}
	return nil
}

func cmdRun(out io.Writer, cfg Config, args []string) error {
	flagSet := newFlagSet("run", out, "run [--fetch] [--notify] [--email]")
	doFetch := flagSet.Bool("fetch", false, "Fetch missing or incomplete items before assessing")
	notify := flagSet.Bool("notify", false, "Post the summary and CSV report to Slack")
	email := flagSet.Bool("email", false, "Also write an email draft (.eml) of the summary")
	if stop, err := parseFlags(flagSet, args); stop || err != nil {
		return err
	}

	doc, err := LoadCache(cfg.CachePath)
	if err != nil {
		return err
	}
	expected := ExpectedIDs(doc, cfg)
	if len(expected) == 0 {
		return fmt.Errorf("no expected IDs: run 'ticketqa sync --check <ids-file>' or set expected_ids in config")
	}

	lastSync := doc.Metadata.LastQuerySync
	if lastSync == "" {
		lastSync = "never"
	}
	fmt.Fprintf(out, "Expected: %d items\nCached: %d items\nLast query sync: %s\n\n",
		len(expected), len(doc.CachedIDs()), lastSync)

	status := CheckSyncStatus(doc, expected)
	if len(status.NeedsFetch) > 0 {
		if !*doFetch {
			fmt.Fprint(out, FormatFetchInstructions(status, cfg))
			return fmt.Errorf("cache is out of sync: %d items need fetching (re-run with --fetch)", len(status.NeedsFetch))
		}
		if !cfg.ADOConfigured() {
			return fmt.Errorf("--fetch requires Azure DevOps config (organization_url, project, personal_access_token)")
		}
		result, err := FetchAndMerge(cfg, doc, status.NeedsFetch)
		if err != nil {
			return err
		}
		if err := SaveCache(cfg.CachePath, doc); err != nil {
			return err
		}
		fmt.Fprintf(out, "%s\n\n", FormatFetchSummary(result))
	}

	return assessAndDeliver(out, cfg, doc, expected, *notify, *email)
}

func cmdNudge(out io.Writer, cfg Config, args []string) error {
	flagSet := newFlagSet("nudge", out, "nudge [--dry-run]")
	dryRun := flagSet.Bool("dry-run", false, "Print the messages instead of sending them")
	if stop, err := parseFlags(flagSet, args); stop || err != nil {
		return err
	}

	doc, err := LoadCache(cfg.CachePath)
	if err != nil {
		return err
	}
	expected := ExpectedIDs(doc, cfg)
	if len(expected) == 0 {
		return fmt.Errorf("no expected IDs: run 'ticketqa sync --check <ids-file>' or set expected_ids in config")
	}

	now := time.Now().In(cfg.Location)
	summary := Summarize(cfg.ReportLabel, AssessExpected(doc, expected), now)
	if len(summary.CreatorIssues) == 0 {
		fmt.Fprintln(out, "No D or F graded items - nothing to nudge.")
		return nil
	}

	if *dryRun {
		for _, ci := range summary.CreatorIssues {
			fmt.Fprintf(out, "--- %s ---\n%s\n\n", ci.Creator, buildNudgeMessage(ci))
		}
		return nil
	}

	if cfg.SlackBotToken == "" {
		return fmt.Errorf("slack_bot_token is not configured")
	}
	api := slack.New(cfg.SlackBotToken)
	sent, unresolved, err := NudgeCreators(api, summary)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Nudged %d creators\n", sent)
	if len(unresolved) > 0 {
		fmt.Fprintf(out, "Unresolved creators: %s\n", strings.Join(unresolved, ", "))
	}
	return nil
}

func cmdWatch(cfg Config, args []string) error {
	flagSet := newFlagSet("watch", os.Stdout, "watch [--schedule CRON]")
	schedule := flagSet.String("schedule", "", "Cron expression overriding watch_schedule")
	if stop, err := parseFlags(flagSet, args); stop || err != nil {
		return err
	}

	sched := *schedule
	if sched == "" {
		sched = cfg.WatchSchedule
	}
	return StartWatchLoop(cfg, sched)
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
