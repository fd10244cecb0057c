package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"

	"kmsend/internal/batch"
	"kmsend/internal/progress"
	"kmsend/internal/recipient"
)

func cmdRun(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := configFlag(fs)
	file := fs.String("file", "", "recipient list (.xlsx or .csv)")
	template := fs.String("template", "", "message template, {name} is replaced (default: config)")
	dryRun := fs.Bool("dry-run", false, "print the filtered targets and their messages without sending")
	fs.Parse(args)

	if *file == "" {
		fmt.Fprintln(os.Stderr, "Usage: kmsend run -file <members.xlsx> [-template T] [-dry-run]")
		os.Exit(1)
	}

	a, err := bootstrap(*configPath)
	if err != nil {
		fatalf("Error: %v", err)
	}
	defer a.close()

	if *dryRun {
		if err := dryRunList(a, *file, *template); err != nil {
			a.close()
			fatalf("Error: %v", err)
		}
		return
	}

	var (
		summary  progress.Summary
		runErr   error
		finished bool
	)
	a.crash.RecoverWithContext(map[string]any{"command": "run", "file": *file}, func() {
		summary, runErr = runList(a, *file, *template)
		finished = true
	})
	if !finished {
		a.close()
		fatalf("Error: run stopped by a panic; see %s", crashDir(a.cfg))
	}
	if runErr != nil {
		a.close()
		fatalf("Error: %v", runErr)
	}
	if summary.Total > 0 && len(summary.FailedNames) > 0 {
		a.close()
		os.Exit(2)
	}
}

// runList delivers to every target in path on the calling goroutine.
// Ctrl-C interrupts the remaining recipients; the summary still reports them.
func runList(a *app, path, template string) (progress.Summary, error) {
	lock, err := a.acquireLock()
	if err != nil {
		return progress.Summary{}, err
	}
	defer lock.Release()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := a.claimStore(ctx)
	if err != nil {
		return progress.Summary{}, fmt.Errorf("open run history: %w", err)
	}
	if st != nil {
		defer st.Close()
	}

	p, err := a.newPipeline(recorderFor(st))
	if err != nil {
		return progress.Summary{}, err
	}

	extra, rs := a.sinks(ctx)
	if rs != nil {
		defer rs.Close()
	}
	sinks := append([]progress.Sink{progress.NewConsoleSink(os.Stdout)}, extra...)
	dispatcher := progress.NewDispatcher(a.log.Logger, sinks...)
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		dispatcher.Run(context.Background(), p.events)
	}()

	cols := a.cfg.Columns
	job := batch.Job{
		ID:       uuid.NewString(),
		Source:   filepath.Base(path),
		Template: template,
		Load: func(context.Context) ([]recipient.Recipient, error) {
			return recipient.Load(path, cols)
		},
	}
	a.crash.SetRunID(job.ID)
	fmt.Println("전송 중 마우스/키보드 조작 금지 (Ctrl-C로 중단)")

	summary, err := p.orch.Run(ctx, job)
	p.events.Close()
	<-drained
	return summary, err
}

func dryRunList(a *app, path, template string) error {
	all, err := recipient.Load(path, a.cfg.Columns)
	if err != nil {
		return err
	}
	set := settingsFrom(a.cfg)
	if template == "" {
		template = set.Template
	}
	targets := recipient.Filter(all, set.Filter)

	fmt.Printf("=== %s ===\n", filepath.Base(path))
	fmt.Printf("Rows:    %d\n", len(all))
	fmt.Printf("Targets: %d\n", len(targets))
	fmt.Printf("Delay:   %s between recipients\n", set.Delay)
	fmt.Println()
	for i, t := range targets {
		fmt.Printf("[%d] %s (%s, %s)\n", i+1, t.Name, t.RegistrationType, t.AgeGroup)
		fmt.Printf("    %q\n", batch.FormatMessage(template, t.Name))
	}
	return nil
}
