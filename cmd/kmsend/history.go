package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"kmsend/internal/store"
)

func cmdHistory(args []string) {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	configPath := configFlag(fs)
	limit := fs.Int("limit", 20, "number of runs to list")
	runID := fs.String("run", "", "show the outcomes of one run")
	name := fs.String("name", "", "show the delivery history of one member")
	asJSON := fs.Bool("json", false, "print JSON")
	fs.Parse(args)

	a, err := bootstrap(*configPath)
	if err != nil {
		fatalf("Error: %v", err)
	}
	defer a.close()

	ctx := context.Background()
	st, err := a.openStore(ctx)
	if err != nil {
		a.close()
		fatalf("Error opening run history: %v", err)
	}
	if st == nil {
		a.close()
		fatalf("Run history is disabled (storage.path is empty)")
	}
	defer st.Close()

	var out any
	switch {
	case *runID != "":
		run, err := st.GetRun(ctx, *runID)
		if errors.Is(err, store.ErrNotFound) {
			a.close()
			fatalf("No run with ID %s", *runID)
		}
		if err != nil {
			a.close()
			fatalf("Error: %v", err)
		}
		out = run
		if !*asJSON {
			printRun(run)
		}
	case *name != "":
		outcomes, err := st.RecipientHistory(ctx, *name, *limit)
		if err != nil {
			a.close()
			fatalf("Error: %v", err)
		}
		out = outcomes
		if !*asJSON {
			printRecipient(*name, outcomes)
		}
	default:
		runs, err := st.ListRuns(ctx, *limit)
		if err != nil {
			a.close()
			fatalf("Error: %v", err)
		}
		out = runs
		if !*asJSON {
			printRuns(runs)
		}
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(out)
	}
}

func printRuns(runs []store.Run) {
	if len(runs) == 0 {
		fmt.Println("No runs recorded yet.")
		return
	}
	fmt.Printf("%-36s  %-19s  %-9s  %9s  %s\n", "RUN", "STARTED", "STATUS", "DELIVERED", "SOURCE")
	for _, r := range runs {
		fmt.Printf("%-36s  %-19s  %-9s  %4d/%-4d  %s\n",
			r.ID, r.StartedAt.Local().Format(time.DateTime), r.Status, r.Delivered, r.Total, r.Source)
	}
}

func printRun(r *store.Run) {
	fmt.Printf("=== Run %s ===\n", r.ID)
	fmt.Printf("Source:    %s\n", r.Source)
	fmt.Printf("Status:    %s\n", r.Status)
	fmt.Printf("Started:   %s\n", r.StartedAt.Local().Format(time.DateTime))
	if r.FinishedAt != nil {
		fmt.Printf("Finished:  %s (%s)\n", r.FinishedAt.Local().Format(time.DateTime),
			r.FinishedAt.Sub(r.StartedAt).Round(time.Second))
	}
	fmt.Printf("Delivered: %d/%d\n", r.Delivered, r.Total)
	fmt.Println()
	for _, o := range r.Outcomes {
		if o.Delivered {
			fmt.Printf("[%d] ✅ %s\n", o.Seq+1, o.Name)
			continue
		}
		fmt.Printf("[%d] ❌ %s  %s: %s\n", o.Seq+1, o.Name, o.Category, o.Reason)
	}
}

func printRecipient(name string, outcomes []store.Outcome) {
	fmt.Printf("=== %s ===\n", name)
	if len(outcomes) == 0 {
		fmt.Println("No deliveries recorded.")
		return
	}
	for _, o := range outcomes {
		result := "delivered"
		if !o.Delivered {
			result = fmt.Sprintf("failed (%s: %s)", o.Category, o.Reason)
		}
		fmt.Printf("%s  run %s  %s\n", o.RecordedAt.Local().Format(time.DateTime), o.RunID, result)
	}
}
