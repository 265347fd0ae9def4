package cmd

import (
	"context"
	"errors"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/pagesearch/internal/config"
	apperr "github.com/Aman-CERP/pagesearch/internal/errors"
	"github.com/Aman-CERP/pagesearch/internal/index"
	"github.com/Aman-CERP/pagesearch/internal/output"
)

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch [file]",
		Short: "Index pages as they are visited",
		Long: `Run as a long-lived indexer fed with JSON lines page records, one per
visit, from the file argument or stdin.

Records are queued and indexed by background workers, so a slow provider
never holds up the producer. A full queue drops the record with a warning;
the page is indexed again on its next visit.

The config file is watched while running. Provider and chunking changes
are applied once in-flight pages finish, and pages affected by a
dimension change are re-embedded.

Input ending or an interrupt drains the queue, saves the store and prints
a summary.`,
		Example: `  # Feed visits from a browser extension bridge
  history-bridge --follow | pagesearch watch`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input := ""
			if len(args) == 1 {
				input = args[0]
			}
			return runWatch(cmd, input)
		},
	}
	return cmd
}

func runWatch(cmd *cobra.Command, input string) error {
	ctx := cmd.Context()
	in, err := openInput(cmd, input)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	out := output.New(cmd.OutOrStdout())
	var mu sync.Mutex

	watchCtx, stopWatching := context.WithCancel(ctx)
	defer stopWatching()
	g, gctx := errgroup.WithContext(watchCtx)

	if path := watchedConfigPath(); path != "" {
		w, err := config.NewWatcher(path, a.cfg, config.WithLoader(loadWithOverrides))
		if err != nil {
			return err
		}
		defer func() { _ = w.Close() }()
		g.Go(func() error { return ignoreCanceled(w.Run(gctx)) })
		g.Go(func() error { return ignoreCanceled(a.coordinator.Watch(gctx, w)) })
		out.Statusf("👀", "Watching %s for settings changes", path)
	}

	sched, err := index.NewScheduler(a.pipeline, index.SchedulerConfig{
		Workers:   a.cfg.Indexing.Workers,
		QueueSize: a.cfg.Indexing.QueueSize,
		Retry:     apperr.DefaultRetryConfig(),
		OnDone: func(pc index.PageContext, o index.Outcome, err error) {
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				out.Errorf("%s: %v", pc.URL, err)
				return
			}
			out.Outcome(o)
		},
	})
	if err != nil {
		return err
	}

	// The reader may block on stdin past an interrupt, so it is not part
	// of the group.
	readDone := make(chan error, 1)
	go func() {
		readDone <- readRecords(in, func(rec pageRecord) error {
			err := sched.Submit(rec.pageContext())
			if errors.Is(err, index.ErrQueueFull) {
				mu.Lock()
				out.Warningf("%s: queue full, skipped until next visit", rec.URL)
				mu.Unlock()
				return nil
			}
			return err
		})
	}()

	var readErr error
	select {
	case readErr = <-readDone:
	case <-ctx.Done():
	}
	if errors.Is(readErr, index.ErrShutdown) {
		readErr = nil
	}

	stopWatching()
	watchErr := g.Wait()
	shutdownErr := sched.Shutdown(a.cfg.Indexing.ShutdownTimeoutDuration())
	saveErr := a.store.Save(context.WithoutCancel(ctx))

	mu.Lock()
	out.Newline()
	out.Jobs(a.pipeline.Tracker().Snapshot())
	mu.Unlock()

	return errors.Join(readErr, watchErr, shutdownErr, saveErr)
}

// watchedConfigPath is the explicit config file, else the user config when
// it exists.
func watchedConfigPath() string {
	if configPath != "" {
		return configPath
	}
	if config.UserConfigExists() {
		return config.GetUserConfigPath()
	}
	return ""
}

// loadWithOverrides reloads path with the command-line overrides applied,
// so reloads compare equal to the running config when the file is
// unchanged.
func loadWithOverrides(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if dataDirFlag != "" {
		cfg.DataDir = dataDirFlag
	}
	return cfg, nil
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
