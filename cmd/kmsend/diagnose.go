package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"strings"
	"time"

	"kmsend/internal/automation"
	"kmsend/internal/capture"
	"kmsend/internal/config"
	"kmsend/internal/health"
	"kmsend/internal/logging"
	"kmsend/internal/retry"
	"kmsend/internal/verify"
)

// cmdVerify runs the verification step on its own. Lines come from a file,
// or from capturing and recognizing the chat window; with -search the name
// is searched first, exactly as a delivery would, but nothing is sent and
// the clipboard is restored afterwards.
func cmdVerify(args []string) {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	configPath := configFlag(fs)
	name := fs.String("name", "", "contact name to confirm")
	linesFile := fs.String("lines", "", "read recognized lines from a file instead of the screen")
	search := fs.Bool("search", false, "search for the name before capturing")
	save := fs.String("save", "", "write the captured PNG to this path")
	asJSON := fs.Bool("json", false, "print the verdict as JSON")
	fs.Parse(args)

	if *name == "" {
		fmt.Fprintln(os.Stderr, "Usage: kmsend verify -name <contact> [-lines file] [-search] [-save shot.png] [-json]")
		os.Exit(1)
	}

	a, err := bootstrap(*configPath)
	if err != nil {
		fatalf("Error: %v", err)
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var lines []string
	if *linesFile != "" {
		lines, err = readLines(*linesFile)
	} else {
		lines, err = screenLines(ctx, a, *name, *search, *save)
	}
	if err != nil {
		a.close()
		fatalf("Error: %v", err)
	}

	verdict := verify.New(a.cfg.Verification).Verify(*name, lines)
	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(struct {
			Name    string         `json:"name"`
			Lines   []string       `json:"lines"`
			Verdict verify.Verdict `json:"verdict"`
		}{*name, lines, verdict})
	} else {
		printVerdict(*name, lines, verdict)
	}
	if !verdict.Confirmed {
		a.close()
		os.Exit(2)
	}
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if l := strings.TrimSpace(sc.Text()); l != "" {
			lines = append(lines, l)
		}
	}
	return lines, sc.Err()
}

func screenLines(ctx context.Context, a *app, name string, search bool, savePath string) ([]string, error) {
	p, err := a.drivers()
	if err != nil {
		return nil, err
	}
	t := a.cfg.Timing
	pause := func(d time.Duration) { retry.Clock{}.Sleep(ctx, d) }

	if search {
		lock, err := a.acquireLock()
		if err != nil {
			return nil, err
		}
		defer lock.Release()

		if ok, err := p.adapter.Activate(ctx); err != nil || !ok {
			return nil, fmt.Errorf("activate application: ok=%v err=%v", ok, err)
		}
		pause(t.ActivateSettle)
		clip := automation.SystemClipboard{}
		if prev, err := clip.ReadText(); err == nil {
			defer clip.WriteText(prev)
		}
		if err := clip.WriteText(name); err != nil {
			return nil, fmt.Errorf("write clipboard: %w", err)
		}
		for _, step := range []func(context.Context) error{p.adapter.OpenSearch, p.adapter.ClearQuery, p.adapter.InjectPaste} {
			if err := step(ctx); err != nil {
				return nil, err
			}
			pause(t.StepDelay)
		}
		pause(t.SearchSettle)
		defer func() {
			p.adapter.CloseOverlay(context.WithoutCancel(ctx))
			p.adapter.ShowBaseline(context.WithoutCancel(ctx))
		}()
	}

	w, ok, err := p.finder.FindWindow(ctx)
	if err != nil {
		return nil, fmt.Errorf("list windows: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("no %s window on screen", strings.Join(a.cfg.Capture.OwnerNames, "/"))
	}
	png, err := p.capturer.CaptureWindow(ctx, w.ID)
	if err != nil {
		return nil, fmt.Errorf("capture window %s: %w", w.ID, err)
	}
	if savePath != "" {
		if err := os.WriteFile(savePath, png, 0600); err != nil {
			return nil, err
		}
		fmt.Printf("Saved capture to %s\n", savePath)
	}
	return p.recognizer.RecognizeText(ctx, png)
}

func printVerdict(name string, lines []string, v verify.Verdict) {
	fmt.Printf("=== Verification: %s ===\n", name)
	fmt.Printf("Recognized lines: %d\n", len(lines))
	for _, l := range lines {
		mark := " "
		if slices.Contains(v.CandidateLines, l) {
			mark = "+"
		}
		fmt.Printf("  %s %s\n", mark, l)
	}
	fmt.Println()
	fmt.Printf("Name match:    %v\n", v.MatchedByName)
	fmt.Printf("Density match: %v (%d candidate lines)\n", v.MatchedByDensity, len(v.CandidateLines))
	if v.Confirmed {
		fmt.Println("Result:        CONFIRMED")
	} else {
		fmt.Println("Result:        NOT CONFIRMED")
	}
}

// cmdWindows lists what the locator sees and which window would be captured.
func cmdWindows(args []string) {
	fs := flag.NewFlagSet("windows", flag.ExitOnError)
	configPath := configFlag(fs)
	all := fs.Bool("all", false, "list windows of every application")
	fs.Parse(args)

	a, err := bootstrap(*configPath)
	if err != nil {
		fatalf("Error: %v", err)
	}
	defer a.close()

	locator, err := capture.NewLocator(automation.ExecRunner{})
	if err != nil {
		a.close()
		fatalf("Error: %v", err)
	}
	windows, err := locator.ListWindows(context.Background())
	if err != nil {
		a.close()
		fatalf("Error listing windows: %v", err)
	}

	selected, found := capture.Select(windows, a.cfg.Capture)
	fmt.Printf("=== Windows (min %dx%d, owners %s) ===\n",
		a.cfg.Capture.MinWidth, a.cfg.Capture.MinHeight, strings.Join(a.cfg.Capture.OwnerNames, ", "))
	for _, w := range windows {
		match := a.cfg.Capture.Matches(w)
		if !*all && !match && !ownedByTarget(w, a.cfg.Capture) {
			continue
		}
		mark := " "
		switch {
		case found && w.ID == selected.ID:
			mark = "*"
		case match:
			mark = "+"
		}
		fmt.Printf("%s %-10s %-14s %5dx%-5d %s\n", mark, w.ID, w.Owner, w.Width, w.Height, w.Title)
	}
	fmt.Println()
	if found {
		fmt.Printf("Capture target: %s (%s)\n", selected.ID, selected.Owner)
	} else {
		fmt.Println("Capture target: none. Open the chat application's main window.")
		a.close()
		os.Exit(2)
	}
}

// ownedByTarget ignores the size limits, to show windows that were skipped
// only because they are too small.
func ownedByTarget(w capture.Window, c capture.Config) bool {
	c.MinWidth, c.MinHeight = -1, -1
	return c.Matches(w)
}

// cmdDoctor checks everything a run depends on and prints the results.
func cmdDoctor(args []string) {
	fs := flag.NewFlagSet("doctor", flag.ExitOnError)
	configPath := configFlag(fs)
	asJSON := fs.Bool("json", false, "print the report as JSON")
	fs.Parse(args)

	a, err := bootstrap(*configPath)
	if err != nil {
		fatalf("Error: %v", err)
	}
	defer a.close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	st, err := a.openStore(ctx)
	if err != nil {
		a.log.Warn("open run history", "error", err)
	}
	if st != nil {
		defer st.Close()
	}
	_, rs := a.sinks(ctx)
	if rs != nil {
		defer rs.Close()
	}

	hc := a.healthChecker(st, rs)
	hc.SetReady(true)
	report := hc.Report(ctx, true)

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(report)
	} else {
		reports, err := a.crash.CrashReports()
		if err != nil {
			a.log.Warn("read crash reports", "error", err)
		}
		printDoctor(a.cfg, a.loader.Path(), report)
		printCrashes(crashDir(a.cfg), reports)
	}
	if report.Status == health.StatusUnhealthy {
		a.close()
		os.Exit(2)
	}
}

func printDoctor(cfg *config.Config, path string, r health.Report) {
	fmt.Println("=== kmsend doctor ===")
	fmt.Printf("Version:   %s\n", Version)
	fmt.Printf("Config:    %s\n", path)
	fmt.Printf("Data dir:  %s\n", cfg.App.DataDir)
	fmt.Printf("History:   %s\n", orNone(cfg.DatabasePath()))
	fmt.Println()

	names := make([]string, 0, len(r.Components))
	for name := range r.Components {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		res := r.Components[name]
		detail := res.Message
		if res.Error != "" {
			detail = res.Error
		}
		fmt.Printf("  %-10s %-22s %s\n", res.Status, name, detail)
	}

	if issues := config.ValidateAll(cfg); len(issues) > 0 {
		fmt.Println()
		for _, issue := range issues {
			fmt.Printf("  %-10s config.%-15s %s\n", "warning", issue.Field, issue.Message)
		}
	}
	fmt.Println()
	fmt.Printf("Overall: %s\n", r.Status)
}

func printCrashes(dir string, reports []logging.CrashReport) {
	if len(reports) == 0 {
		return
	}
	slices.SortFunc(reports, func(x, y logging.CrashReport) int { return y.Timestamp.Compare(x.Timestamp) })
	last := reports[0]
	fmt.Printf("Crashes: %d reports in %s\n", len(reports), dir)
	fmt.Printf("  last %s: %s\n", last.Timestamp.Local().Format(time.DateTime), last.PanicValue)
}

func orNone(s string) string {
	if s == "" {
		return "(disabled)"
	}
	return s
}
