package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/stemsi/exstem-engine/internal/bankfile"
	"github.com/stemsi/exstem-engine/internal/database"
	"github.com/stemsi/exstem-engine/internal/grading"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/repository"
	"github.com/stemsi/exstem-engine/internal/session"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var asJSON bool

	root := &cobra.Command{
		Use:           "examctl",
		Short:         "Validate question banks and grade recorded answers offline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVar(&asJSON, "json", false, "print machine-readable JSON")

	root.AddCommand(newValidateCmd(&asJSON))
	root.AddCommand(newGradeCmd(&asJSON))
	root.AddCommand(newHistoryCmd(&asJSON))
	return root
}

func newValidateCmd(asJSON *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <bank-file|dir>...",
		Short: "Check that question banks load and pass validation",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var summaries []model.BankSummary
			for _, path := range args {
				banks, err := loadBanks(path)
				if err != nil {
					return err
				}
				for _, b := range banks {
					summaries = append(summaries, b.Summary())
				}
			}

			out := cmd.OutOrStdout()
			if *asJSON {
				return writeJSON(out, summaries)
			}
			for _, s := range summaries {
				_, _ = fmt.Fprintf(out, "ok %s %q questions=%d categories=%d duration=%s\n",
					s.ID, s.Title, s.QuestionCount, s.Categories, model.FormatClock(s.DurationSeconds))
			}
			return nil
		},
	}
}

func newGradeCmd(asJSON *bool) *cobra.Command {
	var archivePath string

	cmd := &cobra.Command{
		Use:   "grade <bank-file> <answers-file>",
		Short: "Replay an answer script through a session and print the result",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			bank, err := bankfile.LoadFile(args[0])
			if err != nil {
				return err
			}
			script, err := bankfile.LoadAnswers(args[1])
			if err != nil {
				return err
			}

			res, err := gradeScript(bank, script, time.Now().UTC())
			if err != nil {
				return fmt.Errorf("%s: %w", args[1], err)
			}

			if archivePath != "" {
				if err := archive(cmd.Context(), archivePath, res); err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			if *asJSON {
				return writeJSON(out, grading.Summarize(res))
			}
			printSummary(out, grading.Summarize(res))
			return nil
		},
	}
	cmd.Flags().StringVar(&archivePath, "archive", "", "append the result to this SQLite archive")
	return cmd
}

func newHistoryCmd(asJSON *bool) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history <archive.db> <bank-id>",
		Short: "List archived results for a bank, most recent first",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			db, err := database.OpenSQLite(ctx, args[0])
			if err != nil {
				return err
			}
			defer db.Close()

			store, err := repository.NewSQLiteResultStore(ctx, db)
			if err != nil {
				return err
			}
			results, err := store.ListByBank(ctx, args[1], limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if *asJSON {
				if results == nil {
					results = []model.Result{}
				}
				return writeJSON(out, results)
			}
			if len(results) == 0 {
				_, _ = fmt.Fprintln(out, "no results")
				return nil
			}
			for _, r := range results {
				_, _ = fmt.Fprintf(out, "%s %s %d/%d %d%% %s %s\n",
					r.SubmittedAt.Format(time.RFC3339), r.SessionID, r.Score, r.TotalQuestions,
					r.Percentage, grading.BandFor(r.Percentage), r.Reason)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of results")
	return cmd
}

// gradeScript runs script through a fresh session started at now. Time used
// is the bank duration minus the script's remaining seconds; a script with
// no time left ends by expiry.
func gradeScript(bank *model.QuestionBank, script *bankfile.AnswerScript, now time.Time) (*model.Result, error) {
	id := uuid.New()
	if script.SessionID != "" {
		parsed, err := uuid.Parse(script.SessionID)
		if err != nil {
			return nil, fmt.Errorf("answers: session_id: %w", err)
		}
		id = parsed
	}

	sess, err := session.New(id, bank)
	if err != nil {
		return nil, err
	}
	if err := sess.Start(now); err != nil {
		return nil, err
	}

	qids := make([]int, 0, len(script.Answers))
	for qid := range script.Answers {
		qids = append(qids, qid)
	}
	sort.Ints(qids)
	for _, qid := range qids {
		if err := sess.RecordAnswer(qid, script.Answers[qid]); err != nil {
			return nil, fmt.Errorf("answers: question %d: %w", qid, err)
		}
	}

	if script.RemainingSeconds > bank.DurationSeconds {
		return nil, fmt.Errorf("answers: remaining_seconds %d exceeds the %ds duration of bank %s",
			script.RemainingSeconds, bank.DurationSeconds, bank.ID)
	}
	elapsed := bank.DurationSeconds - script.RemainingSeconds
	end := now.Add(time.Duration(elapsed) * time.Second)
	res, err := sess.Tick(elapsed, end)
	if err != nil {
		return nil, err
	}
	if res != nil {
		return res, nil
	}
	return sess.Submit(end, model.SubmitReasonUserRequested)
}

func archive(ctx context.Context, path string, res *model.Result) error {
	db, err := database.OpenSQLite(ctx, path)
	if err != nil {
		return err
	}
	defer db.Close()

	store, err := repository.NewSQLiteResultStore(ctx, db)
	if err != nil {
		return err
	}
	return store.Save(ctx, res)
}

func loadBanks(path string) ([]*model.QuestionBank, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return bankfile.LoadDir(path)
	}
	bank, err := bankfile.LoadFile(path)
	if err != nil {
		return nil, err
	}
	return []*model.QuestionBank{bank}, nil
}

func printSummary(w io.Writer, s grading.Summary) {
	_, _ = fmt.Fprintf(w, "session    %s\n", s.SessionID)
	_, _ = fmt.Fprintf(w, "bank       %s\n", s.BankID)
	_, _ = fmt.Fprintf(w, "score      %d/%d (%d%%) %s\n", s.Score, s.TotalQuestions, s.Percentage, s.Band)
	_, _ = fmt.Fprintf(w, "answers    correct=%d incorrect=%d unanswered=%d\n", s.CorrectCount, s.IncorrectCount, s.UnansweredCount)
	_, _ = fmt.Fprintf(w, "time       %s (%d%% of allotted)\n", s.TimeTaken, s.TimeUsedPercent)
	_, _ = fmt.Fprintf(w, "reason     %s\n", s.Reason)
	for _, c := range s.Categories {
		_, _ = fmt.Fprintf(w, "  %-28s %d/%d %3d%% %s\n", c.Category, c.Correct, c.Total, c.Percentage, c.Tier)
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
