package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/stemsi/exstem-agent/internal/answers"
	"github.com/stemsi/exstem-agent/internal/backend"
	"github.com/stemsi/exstem-agent/internal/config"
	"github.com/stemsi/exstem-agent/internal/connectivity"
	"github.com/stemsi/exstem-agent/internal/logger"
	"github.com/stemsi/exstem-agent/internal/model"
	"github.com/stemsi/exstem-agent/internal/pipeline"
	"github.com/stemsi/exstem-agent/internal/session"
	"github.com/stemsi/exstem-agent/internal/storage"
	"golang.org/x/term"
)

// examcli is a terminal exam runner for headless use and smoke testing.
// It drives the engine directly, without the agent API hop, so a broken lab
// workstation can still sit an exam over SSH.
func main() {
	cfg := config.Load()
	log := logger.Setup("warn", cfg.LogFormat)

	ctx := context.Background()
	reader := bufio.NewReader(os.Stdin)

	kv, err := storage.NewSQLiteStore(ctx, cfg.SQLitePath, log)
	if err != nil {
		fmt.Printf("Error opening store: %v\n", err)
		os.Exit(1)
	}
	defer kv.Close()

	tokens := backend.NewTokenHolder()
	client := backend.NewClient(cfg.BackendURL, cfg.RequestTimeout, tokens, backend.AuthHooks{}, log)
	watcher := connectivity.NewWatcher(client.Health, cfg.ProbeInterval, log)
	watcher.Start(ctx)
	defer watcher.Stop()

	answerStore := answers.NewStore(kv, log)
	pipe := pipeline.New(kv, client, answerStore, watcher.Online, log)
	manager := session.NewManager(kv, client, tokens, answerStore, pipe, watcher.Online, nil, log)
	defer manager.Close()

	fmt.Println("=== ExStem Exam Runner ===")

	// ─── Login ─────────────────────────────────────────────────────────
	fmt.Print("NISN: ")
	nisn, _ := reader.ReadString('\n')
	nisn = strings.TrimSpace(nisn)

	fmt.Print("Password (hidden): ")
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		fmt.Printf("Error reading password: %v\n", err)
		os.Exit(1)
	}

	if err := client.Login(ctx, nisn, string(password)); err != nil {
		fmt.Printf("Login failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Login OK")

	// ─── Pick an Exam ──────────────────────────────────────────────────
	exams, err := client.FetchExams(ctx)
	if err != nil {
		fmt.Printf("Cannot list exams: %v\n", err)
		os.Exit(1)
	}
	if len(exams) == 0 {
		fmt.Println("No exams available")
		return
	}
	for i, e := range exams {
		fmt.Printf("  [%d] %s (%d min)\n", i+1, e.Title, e.DurationSeconds/60)
	}
	fmt.Print("Pick exam number: ")
	pickStr, _ := reader.ReadString('\n')
	pick, err := strconv.Atoi(strings.TrimSpace(pickStr))
	if err != nil || pick < 1 || pick > len(exams) {
		fmt.Println("Invalid choice")
		os.Exit(1)
	}
	examID := exams[pick-1].ID

	if err := manager.Start(ctx, examID, true); err != nil {
		fmt.Printf("Cannot start session: %v\n", err)
		os.Exit(1)
	}

	// ─── Question Loop ─────────────────────────────────────────────────
	fmt.Println("\nCommands: a <answer>  n(ext)  p(rev)  g <num>  s(tate)  f(inish)")
	for {
		state, err := manager.State()
		if err != nil {
			fmt.Printf("State error: %v\n", err)
			return
		}
		if state.Finished {
			break
		}

		q, err := manager.Question()
		if err != nil {
			fmt.Printf("Question error: %v\n", err)
			return
		}
		printQuestion(state.CurrentIndex, q)
		fmt.Printf("[%ds left, %d/%d answered] > ", state.RemainingSeconds, state.AnsweredCount, state.TotalQuestions)

		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")

		switch cmd {
		case "n":
			manager.Next()
		case "p":
			manager.Prev()
		case "g":
			num, err := strconv.Atoi(arg)
			if err != nil {
				fmt.Println("Usage: g <question number>")
				continue
			}
			if err := manager.Goto(num - 1); err != nil {
				fmt.Printf("Cannot go there: %v\n", err)
			}
		case "s":
			fmt.Printf("Exam: %s | remaining %ds | answered %d/%d\n",
				state.ExamTitle, state.RemainingSeconds, state.AnsweredCount, state.TotalQuestions)
		case "a":
			if err := record(ctx, manager, q, arg); err != nil {
				fmt.Printf("Not saved: %v\n", err)
			} else {
				fmt.Println("Saved")
			}
		case "f":
			outcome, err := manager.Finish(ctx)
			if err != nil {
				fmt.Printf("Finish failed: %v\n", err)
				continue
			}
			printOutcome(outcome)
			return
		default:
			fmt.Println("Unknown command")
		}
	}
}

func printQuestion(index int, q *model.Question) {
	fmt.Printf("\n── Question %d (%s) ──\n%s\n", index+1, q.QuestionType, q.QuestionText)
	switch q.QuestionType {
	case model.QuestionTypeMultipleChoice, model.QuestionTypeTrueFalse:
		for _, opt := range q.Options {
			fmt.Printf("  %s) %s\n", opt.ID, opt.Text)
		}
		fmt.Println("Answer with: a <option id>")
	case model.QuestionTypeShortAnswer:
		fmt.Println("Answer with: a <text>")
	case model.QuestionTypeMatching:
		for _, l := range q.LeftItems {
			fmt.Printf("  %s) %s\n", l.ID, l.Text)
		}
		for _, r := range q.RightItems {
			fmt.Printf("     %s) %s\n", r.ID, r.Text)
		}
		fmt.Println("Answer with: a <left id>=<right id>")
	case model.QuestionTypeOrdering:
		for _, item := range q.OrderItems {
			fmt.Printf("  %s) %s\n", item.ID, item.Text)
		}
		fmt.Println("Answer with: a <id,id,id,...>")
	}
}

func record(ctx context.Context, manager *session.Manager, q *model.Question, arg string) error {
	switch q.QuestionType {
	case model.QuestionTypeMultipleChoice, model.QuestionTypeTrueFalse:
		return manager.SetChoice(ctx, q.ID, arg)
	case model.QuestionTypeShortAnswer:
		return manager.SetText(ctx, q.ID, arg)
	case model.QuestionTypeMatching:
		left, right, found := strings.Cut(arg, "=")
		if !found {
			return fmt.Errorf("expected <left id>=<right id>")
		}
		return manager.SetMatch(ctx, q.ID, strings.TrimSpace(left), strings.TrimSpace(right))
	case model.QuestionTypeOrdering:
		parts := strings.Split(arg, ",")
		order := make([]string, 0, len(parts))
		for _, p := range parts {
			order = append(order, strings.TrimSpace(p))
		}
		return manager.SetOrdering(ctx, q.ID, order)
	}
	return fmt.Errorf("unsupported question type %s", q.QuestionType)
}

func printOutcome(outcome pipeline.Outcome) {
	if outcome.Status == pipeline.OutcomeQueued {
		fmt.Println("\nNo connection — your attempt is saved and will be sent automatically.")
		return
	}
	r := outcome.Result
	fmt.Printf("\n── Result ──\nScore: %.1f (%d questions, %.0f%%)\nTime spent: %ds\n",
		r.Score, r.TotalQuestions, r.Percentage, r.TimeSpentSeconds)
}
