package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/slack-go/slack"
)

// PostAssessmentSummary posts the grade-distribution digest to the report
// channel.
func PostAssessmentSummary(api *slack.Client, cfg Config, s Summary) error {
	_, _, err := api.PostMessage(cfg.ReportChannelID, slack.MsgOptionText(formatSlackSummary(s), false))
	if err != nil {
		return fmt.Errorf("posting summary: %w", err)
	}
	return nil
}

func formatSlackSummary(s Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*%s* - %d items assessed\n", s.Label, s.Total)
	parts := make([]string, 0, len(gradeOrder))
	for _, g := range gradeOrder {
		count := s.GradeCounts[g]
		parts = append(parts, fmt.Sprintf("%s: %d (%.1f%%)", g, count, percent(count, s.Total)))
	}
	b.WriteString(strings.Join(parts, "  |  "))
	fmt.Fprintf(&b, "\nPrelim: %d, imminent: %d", s.PrelimCount, s.Total-s.PrelimCount)
	if n := len(s.FImminent); n > 0 {
		fmt.Fprintf(&b, "\n:rotating_light: %d F-grade imminent", n)
	}
	if n := len(s.DImminent); n > 0 {
		fmt.Fprintf(&b, "\n:warning: %d D-grade imminent", n)
	}
	return b.String()
}

// UploadReportCSV uploads the CSV report file to the report channel.
func UploadReportCSV(api *slack.Client, cfg Config, path string, s Summary) error {
	fi, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stating report file: %w", err)
	}
	if fi.Size() <= 0 {
		return fmt.Errorf("report file is empty: %s", path)
	}
	_, err = api.UploadFileV2(slack.UploadFileV2Parameters{
		File:           path,
		FileSize:       int(fi.Size()),
		Filename:       filepath.Base(path),
		Channel:        cfg.ReportChannelID,
		Title:          fmt.Sprintf("%s report", s.Label),
		InitialComment: fmt.Sprintf("Assessed %d items: %d F-grade and %d D-grade imminent", s.Total, len(s.FImminent), len(s.DImminent)),
	})
	if err != nil {
		return fmt.Errorf("uploading report file: %w", err)
	}
	return nil
}

// NudgeCreators DMs every creator in the rollup their failing item list.
// Creators that cannot be matched to a workspace user are reported back, not
// treated as errors.
func NudgeCreators(api *slack.Client, s Summary) (sent int, unresolved []string, err error) {
	if len(s.CreatorIssues) == 0 {
		return 0, nil, nil
	}
	users, err := api.GetUsers()
	if err != nil {
		return 0, nil, fmt.Errorf("listing workspace users: %w", err)
	}
	nameToID := indexUsersByName(users)

	for _, ci := range s.CreatorIssues {
		userID, ok := nameToID[normalizeName(ci.Creator)]
		if !ok {
			unresolved = append(unresolved, ci.Creator)
			continue
		}
		channel, _, _, openErr := api.OpenConversation(&slack.OpenConversationParameters{
			Users: []string{userID},
		})
		if openErr != nil {
			log.Printf("Error opening DM with %s: %v", ci.Creator, openErr)
			unresolved = append(unresolved, ci.Creator)
			continue
		}
		if _, _, postErr := api.PostMessage(channel.ID, slack.MsgOptionText(buildNudgeMessage(ci), false)); postErr != nil {
			log.Printf("Error sending nudge to %s: %v", ci.Creator, postErr)
			unresolved = append(unresolved, ci.Creator)
			continue
		}
		log.Printf("Sent nudge to %s", ci.Creator)
		sent++
	}
	return sent, unresolved, nil
}

func buildNudgeMessage(ci CreatorIssues) string {
	var b strings.Builder
	b.WriteString("Hey! Some of your work items need more detail before they are ready to pick up:\n")
	if len(ci.FGrades) > 0 {
		fmt.Fprintf(&b, "• F-grade (no usable description or AC): %s\n", formatIDList(ci.FGrades, maxCreatorIDs))
	}
	if len(ci.DGrades) > 0 {
		fmt.Fprintf(&b, "• D-grade (thin description): %s\n", formatIDList(ci.DGrades, maxCreatorIDs))
	}
	b.WriteString("Please add a description and acceptance criteria so the work is clear.")
	return b.String()
}

// indexUsersByName maps lowercased username, real name and display name to
// user IDs. First match wins on collisions.
func indexUsersByName(users []slack.User) map[string]string {
	nameToID := make(map[string]string)
	for _, user := range users {
		addName := func(n string) {
			n = normalizeName(n)
			if n == "" {
				return
			}
			if _, exists := nameToID[n]; !exists {
				nameToID[n] = user.ID
			}
		}
		addName(user.Name)
		addName(user.RealName)
		addName(user.Profile.DisplayName)
	}
	return nameToID
}

func normalizeName(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
