// Package batch runs the delivery machine over a filtered recipient list on a
// single background worker and reports progress as it goes.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"kmsend/internal/delivery"
	"kmsend/internal/progress"
	"kmsend/internal/recipient"
	"kmsend/internal/retry"
)

// ErrAlreadyRunning is returned by Run while another run is active.
var ErrAlreadyRunning = errors.New("batch: a run is already active")

// DefaultTemplate is the report notice sent to each member.
const DefaultTemplate = "{name}님!\n요청하신 리포트입니다.\n감사합니다."

// FormatMessage substitutes every {name} placeholder.
func FormatMessage(template, name string) string {
	return strings.ReplaceAll(template, "{name}", name)
}

// Deliverer delivers one message. It reports failures as outcomes and does
// not panic.
type Deliverer interface {
	Deliver(ctx context.Context, name, message string, report delivery.Reporter) delivery.Outcome
}

// Publisher accepts progress events without blocking.
type Publisher interface {
	Publish(e progress.Event)
}

// Recorder persists run history. Its errors are logged and never stop a run.
type Recorder interface {
	BeginRun(ctx context.Context, runID, source string, total int, startedAt time.Time) error
	RecordOutcome(ctx context.Context, runID string, seq int, o delivery.Outcome) error
	FinishRun(ctx context.Context, runID string, s progress.Summary, finishedAt time.Time) error
}

// Observer is told about run milestones, for metrics.
type Observer interface {
	RunStarted(runID string)
	RecipientFinished(o delivery.Outcome, elapsed time.Duration)
	RunFinished(s progress.Summary, elapsed time.Duration)
}

// Settings may change between runs. A run uses the snapshot taken when it
// starts.
type Settings struct {
	Filter   recipient.TargetFilter
	Template string
	Delay    time.Duration
}

// DefaultSettings returns the filter, template and 2 s pause between
// recipients.
func DefaultSettings() Settings {
	return Settings{
		Filter:   recipient.DefaultFilter(),
		Template: DefaultTemplate,
		Delay:    2 * time.Second,
	}
}

// Job describes one run. Either Recipients or Load supplies the list.
type Job struct {
	// ID identifies the run in events and history. Generated when empty.
	ID string

	// Source describes where the list came from, for history.
	Source string

	Recipients []recipient.Recipient
	Load       func(ctx context.Context) ([]recipient.Recipient, error)

	// Template overrides the configured template when set.
	Template string
}

func (j Job) recipients(ctx context.Context) ([]recipient.Recipient, error) {
	if j.Load != nil {
		return j.Load(ctx)
	}
	return j.Recipients, nil
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Deliverer Deliverer
	Events    Publisher
	Recorder  Recorder
	Observer  Observer
	Sleeper   retry.Sleeper
	Logger    *slog.Logger
	Settings  Settings
}

// Orchestrator owns the run guard and the background worker.
type Orchestrator struct {
	deliverer Deliverer
	events    Publisher
	recorder  Recorder
	observer  Observer
	sleeper   retry.Sleeper
	logger    *slog.Logger

	state    RunState
	settings atomic.Pointer[Settings]
	current  atomic.Value // string
	wg       sync.WaitGroup
}

// New creates an orchestrator.
func New(d Deps) *Orchestrator {
	if d.Sleeper == nil {
		d.Sleeper = retry.Clock{}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	o := &Orchestrator{
		deliverer: d.Deliverer,
		events:    d.Events,
		recorder:  d.Recorder,
		observer:  d.Observer,
		sleeper:   d.Sleeper,
		logger:    d.Logger.With("component", "batch"),
	}
	o.current.Store("")
	o.SetSettings(d.Settings)
	return o
}

// SetSettings replaces the settings for later runs. An empty template keeps
// the default.
func (o *Orchestrator) SetSettings(s Settings) {
	if s.Template == "" {
		s.Template = DefaultTemplate
	}
	if s.Delay < 0 {
		s.Delay = 0
	}
	s.Filter = recipient.TargetFilter{
		RegistrationTypes: append([]string(nil), s.Filter.RegistrationTypes...),
		AgeGroups:         append([]string(nil), s.Filter.AgeGroups...),
	}
	o.settings.Store(&s)
}

// Settings returns the active settings.
func (o *Orchestrator) Settings() Settings {
	return *o.settings.Load()
}

// Running reports whether a run is active.
func (o *Orchestrator) Running() bool { return o.state.Running() }

// CurrentRun returns the ID of the active run, or "".
func (o *Orchestrator) CurrentRun() string {
	return o.current.Load().(string)
}

// Start launches job on the background worker. It returns false without side
// effects when a run is already active. The worker runs until the job ends;
// cancelling ctx interrupts the remaining recipients.
func (o *Orchestrator) Start(ctx context.Context, job Job) bool {
	if !o.state.TryStart() {
		return false
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	o.current.Store(job.ID)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer o.state.MarkDone()
		defer o.current.Store("")
		o.execute(ctx, job)
	}()
	return true
}

// Run executes job on the calling goroutine.
func (o *Orchestrator) Run(ctx context.Context, job Job) (progress.Summary, error) {
	if !o.state.TryStart() {
		return progress.Summary{}, ErrAlreadyRunning
	}
	defer o.state.MarkDone()
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	o.current.Store(job.ID)
	defer o.current.Store("")
	return o.execute(ctx, job), nil
}

// Wait blocks until the background worker, if any, has exited.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// run is the state of one execution.
type run struct {
	o      *Orchestrator
	id     string
	log    *slog.Logger
	events Publisher
}

func (r *run) say(msg string) {
	r.events.Publish(progress.Log(r.id, msg))
}

func (r *run) complete(s progress.Summary) progress.Summary {
	if s.FailedNames == nil {
		s.FailedNames = []string{}
	}
	r.events.Publish(progress.Complete(r.id, s))
	return s
}

func (o *Orchestrator) execute(ctx context.Context, job Job) progress.Summary {
	set := o.Settings()
	r := &run{o: o, id: job.ID, log: o.logger.With("run_id", job.ID), events: o.events}
	started := time.Now()
	if o.observer != nil {
		o.observer.RunStarted(job.ID)
	}

	all, err := job.recipients(ctx)
	if err != nil {
		r.log.Error("load recipients", "source", job.Source, "error", err)
		r.say(fmt.Sprintf("❌ 에러 발생: %v", err))
		return o.finish(r, progress.Summary{}, started, false)
	}
	r.say(fmt.Sprintf("📊 전체 %d명 로드됨", len(all)))

	targets := recipient.Filter(all, set.Filter)
	r.say(fmt.Sprintf("✅ 타겟 멤버 %d명 필터링됨", len(targets)))
	if len(targets) == 0 {
		r.say("⚠️ 타겟 멤버가 없습니다.")
		return o.finish(r, progress.Summary{}, started, false)
	}

	template := set.Template
	if job.Template != "" {
		template = job.Template
	}

	if o.recorder != nil {
		if err := o.recorder.BeginRun(ctx, job.ID, job.Source, len(targets), started); err != nil {
			r.log.Warn("record run start", "error", err)
		}
	}
	r.log.Info("run started", "targets", len(targets), "source", job.Source)

	sum := progress.Summary{Total: len(targets), FailedNames: []string{}}
	for i, t := range targets {
		if ctx.Err() != nil {
			r.interrupt(ctx, targets[i:], i, &sum)
			break
		}

		r.say(fmt.Sprintf("[%d/%d] %s님 처리 중...", i+1, len(targets), t.Name))
		begin := time.Now()
		out := o.deliverer.Deliver(ctx, t.Name, FormatMessage(template, t.Name), r.say)
		if out.Name == "" {
			out.Name = t.Name
		}
		r.tally(ctx, i, out, &sum)
		if o.observer != nil {
			o.observer.RecipientFinished(out, time.Since(begin))
		}

		if err := o.sleeper.Sleep(ctx, set.Delay); err != nil {
			r.log.Debug("inter-recipient pause interrupted", "error", err)
		}
	}

	r.say(strings.Repeat("=", 40))
	r.say(fmt.Sprintf("🎉 완료! (성공: %d/%d)", sum.Delivered, sum.Total))
	if len(sum.FailedNames) > 0 {
		r.say(fmt.Sprintf("❌ 실패한 타겟 멤버 (%d명):", len(sum.FailedNames)))
		for _, name := range sum.FailedNames {
			r.say("   • " + name)
		}
	}
	r.say(strings.Repeat("=", 40))

	return o.finish(r, sum, started, true)
}

func (r *run) tally(ctx context.Context, seq int, out delivery.Outcome, sum *progress.Summary) {
	if out.Delivered {
		sum.Delivered++
	} else {
		sum.FailedNames = append(sum.FailedNames, out.Name)
		r.log.Info("recipient failed", "category", string(out.Category), "reason", out.FailureReason)
	}
	if r.o.recorder != nil {
		if err := r.o.recorder.RecordOutcome(context.WithoutCancel(ctx), r.id, seq, out); err != nil {
			r.log.Warn("record outcome", "error", err)
		}
	}
}

// interrupt marks every remaining recipient failed after a shutdown request.
func (r *run) interrupt(ctx context.Context, rest []recipient.Recipient, offset int, sum *progress.Summary) {
	r.log.Warn("run interrupted", "remaining", len(rest))
	r.say(fmt.Sprintf("⚠️ 종료 요청으로 %d명을 처리하지 못했습니다.", len(rest)))
	for i, t := range rest {
		r.tally(ctx, offset+i, delivery.Failed(t.Name, delivery.CategoryInterrupted, delivery.ReasonInterrupted), sum)
	}
}

func (o *Orchestrator) finish(r *run, s progress.Summary, started time.Time, recorded bool) progress.Summary {
	s = r.complete(s)
	if recorded && o.recorder != nil {
		if err := o.recorder.FinishRun(context.Background(), r.id, s, time.Now()); err != nil {
			r.log.Warn("record run finish", "error", err)
		}
	}
	if o.observer != nil {
		o.observer.RunFinished(s, time.Since(started))
	}
	r.log.Info("run finished", "delivered", s.Delivered, "total", s.Total, "failed", len(s.FailedNames))
	return s
}
