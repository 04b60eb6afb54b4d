package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stemsi/exstem-engine/internal/bankfile"
	"github.com/stemsi/exstem-engine/internal/model"
)

const miniBank = `
id: mini
title: Mini Quiz
duration_seconds: 120
questions:
  - {id: 1, prompt: "2 + 2", options: ["3", "4"], correct_option_index: 1, category: Arithmetic}
  - {id: 2, prompt: "3 * 3", options: ["6", "9"], correct_option_index: 1, category: Arithmetic}
  - {id: 3, prompt: "x + 1 = 2", options: ["0", "1"], correct_option_index: 1, category: Algebra}
`

func writeTemp(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestGradeScript(t *testing.T) {
	dir := t.TempDir()
	bank, err := bankfile.LoadFile(writeTemp(t, dir, "mini.yaml", miniBank))
	if err != nil {
		t.Fatal(err)
	}
	now := time.Date(2024, 1, 25, 13, 0, 0, 0, time.UTC)

	res, err := gradeScript(bank, &bankfile.AnswerScript{RemainingSeconds: 100, Answers: map[int]int{1: 1, 2: 0}}, now)
	if err != nil {
		t.Fatalf("grade: %v", err)
	}
	if res.Score != 1 || res.Percentage != 33 || res.TimeTakenSeconds != 20 {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Reason != model.SubmitReasonUserRequested || !res.SubmittedAt.Equal(now.Add(20*time.Second)) {
		t.Fatalf("unexpected submission %s at %s", res.Reason, res.SubmittedAt)
	}

	expired, err := gradeScript(bank, &bankfile.AnswerScript{Answers: map[int]int{}}, now)
	if err != nil {
		t.Fatalf("grade expired: %v", err)
	}
	if expired.Reason != model.SubmitReasonTimeExpired || expired.UnansweredCount != 3 {
		t.Fatalf("unexpected expiry result %+v", expired)
	}

	if _, err := gradeScript(bank, &bankfile.AnswerScript{Answers: map[int]int{9: 0}}, now); err == nil {
		t.Fatal("unknown question must fail")
	}
	if _, err := gradeScript(bank, &bankfile.AnswerScript{RemainingSeconds: 121, Answers: map[int]int{}}, now); err == nil ||
		!strings.Contains(err.Error(), "remaining_seconds 121") {
		t.Fatalf("remaining beyond the bank duration must fail, got %v", err)
	}
}

func TestGradeCommandNamesBadAnswersFile(t *testing.T) {
	dir := t.TempDir()
	bankPath := writeTemp(t, dir, "mini.yaml", miniBank)
	answers := writeTemp(t, dir, "late.yaml", "remaining_seconds: 600\nanswers:\n  1: 1\n")

	_, err := run(t, "grade", bankPath, answers)
	if err == nil || !strings.Contains(err.Error(), answers) {
		t.Fatalf("expected error naming %s, got %v", answers, err)
	}
}

func TestValidateCommand(t *testing.T) {
	dir := t.TempDir()
	writeTemp(t, dir, "mini.yaml", miniBank)

	out, err := run(t, "validate", dir)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !strings.Contains(out, "ok mini") || !strings.Contains(out, "duration=00:02:00") {
		t.Fatalf("unexpected output %q", out)
	}

	bad := writeTemp(t, dir, "bad.yaml", "id: bad\nduration_seconds: 60\nquestions: []\n")
	if _, err := run(t, "validate", bad); err == nil {
		t.Fatal("empty bank must fail validation")
	}
}

func TestGradeCommandArchivesResult(t *testing.T) {
	dir := t.TempDir()
	bankPath := writeTemp(t, dir, "mini.yaml", miniBank)
	answers := writeTemp(t, dir, "answers.yaml", "remaining_seconds: 60\nanswers:\n  1: 1\n  2: 1\n  3: 1\n")
	db := filepath.Join(dir, "archive", "results.db")

	out, err := run(t, "grade", "--json", "--archive", db, bankPath, answers)
	if err != nil {
		t.Fatalf("grade: %v", err)
	}
	var summary struct {
		Score int    `json:"score"`
		Band  string `json:"band"`
	}
	if err := json.Unmarshal([]byte(out), &summary); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if summary.Score != 3 || summary.Band != "EXCELLENT" {
		t.Fatalf("unexpected summary %+v", summary)
	}

	out, err = run(t, "history", db, "mini")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if !strings.Contains(out, "3/3 100% EXCELLENT USER_REQUESTED") {
		t.Fatalf("unexpected history %q", out)
	}
}
