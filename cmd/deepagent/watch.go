package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/alsksssass/deepagent/internal/orchestrator"
	"github.com/alsksssass/deepagent/internal/store"
)

var watchCmd = &cobra.Command{
	Use:   "watch TASK",
	Short: "Follow the results of a running task",
	Long: `Print each result of a task as it is written, until the report is
finalized or the command is interrupted. Requires the local storage backend.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Storage.Backend != "local" {
		return fmt.Errorf("watch requires the local storage backend (configured: %s)", cfg.Storage.Backend)
	}
	st, err := newStore(ctx, cfg)
	if err != nil {
		return err
	}

	task := args[0]
	w, err := newResultWatcher(cfg.WorkDir, task, st)
	if err != nil {
		return err
	}
	defer w.Close()

	return w.Run(ctx, cmd.OutOrStdout())
}

// resultWatcher prints results of one task as they appear on disk.
type resultWatcher struct {
	root    string
	task    string
	store   *store.Store
	watcher *fsnotify.Watcher
}

// newResultWatcher watches <root>/<task> and its results tree. The task
// directory must exist; the results directory is created when missing.
func newResultWatcher(root, task string, st *store.Store) (*resultWatcher, error) {
	taskDir := filepath.Join(root, task)
	if _, err := os.Stat(taskDir); err != nil {
		return nil, fmt.Errorf("task %s not found under %s", task, root)
	}
	resultsDir := filepath.Join(taskDir, "results")
	if err := os.MkdirAll(resultsDir, 0755); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	w := &resultWatcher{root: root, task: task, store: st, watcher: watcher}

	for _, dir := range []string{taskDir, resultsDir} {
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			return nil, fmt.Errorf("watching %s: %w", dir, err)
		}
	}
	// Batched agents that already started have their own directory
	entries, err := os.ReadDir(resultsDir)
	if err != nil {
		watcher.Close()
		return nil, err
	}
	for _, e := range entries {
		if e.IsDir() {
			if err := watcher.Add(filepath.Join(resultsDir, e.Name())); err != nil {
				watcher.Close()
				return nil, err
			}
		}
	}
	return w, nil
}

func (w *resultWatcher) Close() error {
	return w.watcher.Close()
}

// Run prints the results written so far, then each new one, and returns
// once the report exists.
func (w *resultWatcher) Run(ctx context.Context, out io.Writer) error {
	keys, err := w.store.List(ctx, w.task)
	if err != nil {
		return err
	}
	for _, key := range keys {
		w.print(ctx, out, key)
	}
	if w.reportReady() {
		fmt.Fprintf(out, "%s Report ready: %s\n", okMark(), filepath.Join(w.root, w.task, orchestrator.ReportMarkdownDocument))
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&fsnotify.Create == 0 {
				continue
			}
			done, err := w.handle(ctx, out, event.Name)
			if err != nil || done {
				return err
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watching task %s: %w", w.task, err)
		}
	}
}

// handle processes one created path and reports whether the task finished.
func (w *resultWatcher) handle(ctx context.Context, out io.Writer, name string) (bool, error) {
	if info, err := os.Stat(name); err == nil && info.IsDir() {
		// A new batch directory; items written before the watch was added are listed
		if err := w.watcher.Add(name); err != nil {
			return false, err
		}
		entries, err := os.ReadDir(name)
		if err != nil {
			return false, err
		}
		for _, e := range entries {
			w.handlePath(ctx, out, filepath.Join(name, e.Name()))
		}
		return false, nil
	}

	if filepath.Base(name) == orchestrator.ReportMarkdownDocument && filepath.Dir(name) == filepath.Join(w.root, w.task) {
		fmt.Fprintf(out, "%s Report ready: %s\n", okMark(), name)
		return true, nil
	}
	w.handlePath(ctx, out, name)
	return false, nil
}

func (w *resultWatcher) handlePath(ctx context.Context, out io.Writer, name string) {
	rel, err := filepath.Rel(w.root, name)
	if err != nil {
		return
	}
	if key, ok := store.ParsePath(filepath.ToSlash(rel)); ok {
		w.print(ctx, out, key)
	}
}

func (w *resultWatcher) print(ctx context.Context, out io.Writer, key store.Key) {
	resp, err := w.store.Inspect(ctx, key)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			fmt.Fprintf(out, "%s %s: %v\n", failMark(), resultName(key), err)
		}
		return
	}
	line := fmt.Sprintf("%s %s", statusMark(string(resp.Status)), resultName(key))
	if resp.Error != "" {
		line += ": " + resp.Error
	}
	fmt.Fprintln(out, line)
}

func (w *resultWatcher) reportReady() bool {
	_, err := os.Stat(filepath.Join(w.root, w.task, orchestrator.ReportMarkdownDocument))
	return err == nil
}
