package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/alsksssass/deepagent/internal/events"
	"github.com/alsksssass/deepagent/internal/orchestrator"
	"github.com/alsksssass/deepagent/internal/process"
	"github.com/alsksssass/deepagent/internal/repo"
	"github.com/alsksssass/deepagent/internal/scheduler"
	"github.com/alsksssass/deepagent/internal/tui"
)

// shutdownTimeout bounds how long a signalled run may take to wind down.
const shutdownTimeout = 10 * time.Second

var (
	runRepos  []string
	runUser   string
	runTaskID string
	runTUI    bool
	runResume bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Analyze repositories",
	Long: `Run the analysis pipeline over one or more repositories.

Each --repo is a git URL (SSH, HTTP(S), git or file scheme) or an absolute
path. With --user, only that developer's commits are evaluated.

Results are written under <work_dir>/<task>/results and the task log under
<work_dir>/<task>/logs/run.log. Use --resume with the --task-id of a failed
run to skip the levels that already succeeded.`,
	Example: `  deepagent run --repo https://github.com/org/api.git --repo /src/web
  deepagent run --repo git@github.com:org/api.git --user alice@example.com --tui`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringArrayVar(&runRepos, "repo", nil, "Repository URL or absolute path (repeatable)")
	runCmd.Flags().StringVar(&runUser, "user", "", "Evaluate only this developer (name or email)")
	runCmd.Flags().StringVar(&runTaskID, "task-id", "", "Task id (default: a new UUID)")
	runCmd.Flags().BoolVar(&runTUI, "tui", false, "Show the progress view")
	runCmd.Flags().BoolVar(&runResume, "resume", false, "Skip levels whose results already succeeded")
	_ = runCmd.MarkFlagRequired("repo")
}

// runResult is the outcome of an orchestrator run.
type runResult struct {
	report *orchestrator.Report
	err    error
}

func runRun(cmd *cobra.Command, args []string) error {
	// Create signal-aware context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for _, r := range runRepos {
		if err := repo.ValidateLocator(r); err != nil {
			return err
		}
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	task := runTaskID
	if task == "" {
		task = uuid.NewString()
	}

	logFile, err := openTaskLog(cfg.WorkDir, task)
	if err != nil {
		return err
	}
	defer logFile.Close()

	// The progress view owns the terminal, so the log only goes to the file
	var console io.Writer = os.Stderr
	if runTUI {
		console = io.Discard
	}
	logger := log.New(io.MultiWriter(console, logFile), "", log.LstdFlags)

	procs := process.NewManager()
	a, err := newApp(ctx, cfg, procs, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	bus := events.NewBus()
	defer bus.Close()

	orch, err := a.newOrchestrator(bus, runResume)
	if err != nil {
		return err
	}

	in := scheduler.Input{Repos: runRepos, User: runUser}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Task %s\n", task)

	var res runResult
	if runTUI {
		res, err = runWithTUI(ctx, stop, orch, bus, a.levelNames(), task, in, procs)
	} else {
		res, err = runPlain(ctx, stop, orch, task, in, procs)
	}
	if err != nil {
		return err
	}

	if res.err != nil {
		printFailure(out, res.err)
		return res.err
	}
	printReport(out, res.report, reportLocation(cfg, task))
	return nil
}

// openTaskLog opens <workDir>/<task>/logs/run.log for appending.
func openTaskLog(workDir, task string) (*os.File, error) {
	dir := filepath.Join(workDir, task, "logs")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, "run.log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening task log: %w", err)
	}
	return f, nil
}

// runPlain runs the task with log output on the console.
func runPlain(ctx context.Context, stop context.CancelFunc, orch *orchestrator.Orchestrator, task string, in scheduler.Input, procs *process.Manager) (runResult, error) {
	done := make(chan runResult, 1)
	go func() {
		report, err := orch.Run(ctx, task, in)
		done <- runResult{report: report, err: err}
	}()

	select {
	case res := <-done:
		return res, nil
	case <-ctx.Done():
		// Restore default signal handling (double Ctrl+C = force exit)
		stop()
		log.Println("Shutdown signal received, cleaning up...")
		killAll(procs)
		return awaitRun(done)
	}
}

// runWithTUI runs the task behind the progress view. Quitting the view
// cancels the run.
func runWithTUI(ctx context.Context, stop context.CancelFunc, orch *orchestrator.Orchestrator, bus *events.Bus, levels []string, task string, in scheduler.Input, procs *process.Manager) (runResult, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Subscribe before the run starts so no event is missed
	p := tea.NewProgram(tui.New(bus, task, levels), tea.WithAltScreen())

	errChan := make(chan error, 1)
	go func() {
		_, err := p.Run()
		errChan <- err
	}()

	done := make(chan runResult, 1)
	go func() {
		report, err := orch.Run(runCtx, task, in)
		done <- runResult{report: report, err: err}
	}()

	select {
	case err := <-errChan:
		// The view was closed; a finished run has its result waiting
		select {
		case res := <-done:
			return res, err
		default:
		}
		log.Println("Progress view closed, stopping the run...")
		cancel()
		killAll(procs)
		res, waitErr := awaitRun(done)
		return res, errors.Join(err, waitErr)

	case <-ctx.Done():
		stop()
		log.Println("Shutdown signal received, cleaning up...")
		killAll(procs)
		p.Quit()

		res, err := awaitRun(done)
		select {
		case tuiErr := <-errChan:
			if tuiErr != nil {
				log.Printf("TUI exit error: %v", tuiErr)
			}
		case <-time.After(shutdownTimeout):
			log.Println("Shutdown timeout exceeded, forcing exit")
		}
		return res, err
	}
}

func killAll(procs *process.Manager) {
	if err := procs.KillAll(); err != nil {
		log.Printf("Error killing subprocesses: %v", err)
	}
}

// awaitRun waits for a cancelled run to return.
func awaitRun(done <-chan runResult) (runResult, error) {
	select {
	case res := <-done:
		return res, nil
	case <-time.After(shutdownTimeout):
		return runResult{}, errors.New("shutdown timeout exceeded, forcing exit")
	}
}
