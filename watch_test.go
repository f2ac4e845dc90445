package main

import (
	"strings"
	"testing"
)

func TestValidateCronSchedule(t *testing.T) {
	valid := []string{
		"0 9 * * *",
		"*/15 * * * 1-5",
		"30 8 1 * *",
		"  0 9 * * 1  ",
	}
	for _, s := range valid {
		if err := validateCronSchedule(s); err != nil {
			t.Errorf("validateCronSchedule(%q) = %v, want nil", s, err)
		}
	}

	invalid := []string{
		"not a cron line",
		"61 9 * * *",
		"0 9 * *",
		"",
	}
	for _, s := range invalid {
		if err := validateCronSchedule(s); err == nil {
			t.Errorf("validateCronSchedule(%q) = nil, want error", s)
		}
	}
}

func TestStartWatchLoopRejectsBadSchedules(t *testing.T) {
	err := StartWatchLoop(Config{}, "")
	if err == nil || !strings.Contains(err.Error(), "no schedule configured") {
		t.Errorf("unexpected error for empty schedule: %v", err)
	}

	err = StartWatchLoop(Config{}, "bogus")
	if err == nil || !strings.Contains(err.Error(), "invalid schedule") {
		t.Errorf("unexpected error for bogus schedule: %v", err)
	}
}
