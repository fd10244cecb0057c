// Package delivery runs the per-recipient state machine: activate the
// application, search for the contact, confirm the result from recognized
// screen text, send the message and always return the UI to its baseline.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"kmsend/internal/automation"
	"kmsend/internal/capture"
	"kmsend/internal/retry"
	"kmsend/internal/verify"
)

// WindowFinder locates the application's main window.
type WindowFinder interface {
	FindWindow(ctx context.Context) (capture.Window, bool, error)
}

// Deps are the collaborators of a Machine. Observer, Sleeper and Logger are
// optional.
type Deps struct {
	Adapter    automation.Adapter
	Clipboard  automation.Clipboard
	Windows    WindowFinder
	Capturer   capture.Capturer
	Recognizer capture.Recognizer
	Verifier   *verify.Engine
	Sleeper    retry.Sleeper
	Observer   Observer
	Logger     *slog.Logger
	Timing     Timing
}

// Machine delivers one message at a time. Deliver must not be called
// concurrently; the UI session has a single focus and a single clipboard.
type Machine struct {
	adapter    automation.Adapter
	clipboard  automation.Clipboard
	windows    WindowFinder
	capturer   capture.Capturer
	recognizer capture.Recognizer
	verifier   *verify.Engine
	sleeper    retry.Sleeper
	observer   Observer
	logger     *slog.Logger

	mu     sync.RWMutex
	timing Timing
}

// New creates a machine.
func New(d Deps) *Machine {
	if d.Sleeper == nil {
		d.Sleeper = retry.Clock{}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Verifier == nil {
		d.Verifier = verify.New(verify.DefaultConfig())
	}
	return &Machine{
		adapter:    d.Adapter,
		clipboard:  d.Clipboard,
		windows:    d.Windows,
		capturer:   d.Capturer,
		recognizer: d.Recognizer,
		verifier:   d.Verifier,
		sleeper:    d.Sleeper,
		observer:   d.Observer,
		logger:     d.Logger.With("component", "delivery"),
		timing:     d.Timing.withDefaults(),
	}
}

// SetTiming replaces the pauses used by later deliveries.
func (m *Machine) SetTiming(t Timing) {
	m.mu.Lock()
	m.timing = t.withDefaults()
	m.mu.Unlock()
}

// Timing returns the active pauses.
func (m *Machine) Timing() Timing {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.timing
}

// Verifier returns the engine used in the Verifying step.
func (m *Machine) Verifier() *verify.Engine { return m.verifier }

// attempt is the state of one Deliver call.
type attempt struct {
	m      *Machine
	name   string
	timing Timing
	report Reporter
	state  State
	log    *slog.Logger
}

func (a *attempt) to(s State) {
	from := a.state
	a.state = s
	a.log.Debug("transition", "from", from.String(), "to", s.String())
	if a.m.observer != nil {
		a.m.observer.Transition(a.name, from, s)
	}
}

func (a *attempt) say(format string, args ...any) {
	if a.report != nil {
		a.report(fmt.Sprintf(format, args...))
	}
}

func (a *attempt) settle(ctx context.Context, d time.Duration) error {
	return a.m.sleeper.Sleep(ctx, d)
}

// Deliver runs the machine for one recipient. It never panics and never
// returns an error: every failure is an Outcome. Resetting runs exactly once
// on every path, even when ctx is already cancelled.
func (m *Machine) Deliver(ctx context.Context, name, message string, report Reporter) (out Outcome) {
	a := &attempt{
		m:      m,
		name:   name,
		timing: m.Timing(),
		report: report,
		state:  Idle,
		log:    m.logger.With("recipient", name),
	}

	defer func() {
		if p := recover(); p != nil {
			a.log.Error("adapter panic", "state", a.state.String(), "panic", p)
			out = Failed(name, CategoryAdapter, fmt.Sprintf("adapter panic: %v", p))
			a.say("   -> ❌ 오류 발생: %v", p)
		}
		if a.state != Skipped && a.state != Sent {
			a.to(Skipped)
		}
		a.to(Resetting)
		a.reset(context.WithoutCancel(ctx))
		a.to(Done)
	}()

	a.to(Activating)
	if err := a.activate(ctx); err != nil {
		a.say("   -> ❌ 카카오톡 창을 찾을 수 없습니다.")
		return a.fail(ctx, CategoryWindowUnavailable, ReasonWindowNotFound, err)
	}

	a.to(Searching)
	a.say("   -> 📋 '%s' 검색 중...", name)
	if err := a.search(ctx); err != nil {
		a.say("   -> ❌ 오류 발생: %v", err)
		return a.fail(ctx, CategoryAdapter, err.Error(), err)
	}

	a.to(Verifying)
	verdict, err := a.verify(ctx)
	if err != nil {
		a.say("   -> ❌ 카카오톡 창을 찾을 수 없습니다.")
		return a.fail(ctx, CategoryWindowUnavailable, ReasonWindowNotFound, err)
	}
	if !verdict.Confirmed {
		a.say("   -> ❌ '%s' 친구를 찾을 수 없습니다. (OCR 검증 실패)", name)
		a.to(Skipped)
		return Failed(name, CategoryVerification, ReasonNotFound)
	}
	a.say("   -> ✅ '%s' 친구 확인됨!", name)

	a.to(Sending)
	a.say("   -> 📤 메시지 전송 중...")
	if err := a.send(ctx, message); err != nil {
		a.say("   -> ❌ 오류 발생: %v", err)
		return a.fail(ctx, CategoryAdapter, err.Error(), err)
	}
	a.to(Sent)
	a.say("   -> ✅ 전송 완료!")
	return Outcome{Name: name, Delivered: true}
}

// fail classifies an error. A cancelled context wins over the step's own
// category so shutdown is reported as an interruption.
func (a *attempt) fail(ctx context.Context, c Category, reason string, err error) Outcome {
	a.to(Skipped)
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		a.log.Warn("delivery interrupted", "state", "skipped", "error", err)
		return Failed(a.name, CategoryInterrupted, ReasonInterrupted)
	}
	a.log.Warn("delivery failed", "category", string(c), "error", err)
	return Failed(a.name, c, reason)
}

var errNoWindow = errors.New("application window not found")

// activate retries activation until the main window is visible and focused.
func (a *attempt) activate(ctx context.Context) error {
	p := retry.Policy{MaxAttempts: a.timing.ActivateAttempts, Delay: a.timing.ActivateRetryDelay}
	_, err := p.Do(ctx, a.m.sleeper, func(ctx context.Context, n int) (bool, error) {
		ok, err := a.m.adapter.Activate(ctx)
		if err != nil {
			a.log.Debug("activate failed", "attempt", n, "error", err)
		}
		if err := a.settle(ctx, a.timing.ActivateSettle); err != nil {
			return false, err
		}
		_, found, err := a.m.windows.FindWindow(ctx)
		if err != nil {
			a.log.Debug("window lookup failed", "attempt", n, "error", err)
			return false, nil
		}
		if !ok || !found {
			return false, nil
		}
		if err := a.m.adapter.AssertFocus(ctx); err != nil {
			a.log.Debug("focus failed", "attempt", n, "error", err)
			return false, nil
		}
		return true, nil
	})
	if errors.Is(err, retry.ErrRetriesExhausted) {
		return errNoWindow
	}
	return err
}

// steps runs UI actions with StepDelay between them and stops at the first
// error.
func (a *attempt) steps(ctx context.Context, actions ...func(context.Context) error) error {
	for i, act := range actions {
		if i > 0 {
			if err := a.settle(ctx, a.timing.StepDelay); err != nil {
				return err
			}
		}
		if err := act(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (a *attempt) writeClipboard(text string) func(context.Context) error {
	return func(context.Context) error {
		if err := a.m.clipboard.WriteText(text); err != nil {
			return fmt.Errorf("clipboard: %w", err)
		}
		return nil
	}
}

func (a *attempt) search(ctx context.Context) error {
	ad := a.m.adapter
	err := a.steps(ctx,
		a.writeClipboard(a.name),
		ad.OpenSearch,
		ad.ClearQuery,
		ad.InjectPaste,
	)
	if err != nil {
		return err
	}
	if err := a.settle(ctx, a.timing.PasteSettle); err != nil {
		return err
	}
	for i := 0; i < a.timing.ResultSteps; i++ {
		if err := a.steps(ctx, ad.SelectNextResult); err != nil {
			return err
		}
		if err := a.settle(ctx, a.timing.StepDelay); err != nil {
			return err
		}
	}
	return a.settle(ctx, a.timing.SearchSettle)
}

// verify re-locates the window, which may change while the search overlay
// opens, then reads it. Capture and recognition failures yield no evidence
// rather than an error.
func (a *attempt) verify(ctx context.Context) (verify.Verdict, error) {
	w, found, err := a.m.windows.FindWindow(ctx)
	if err != nil {
		return verify.Verdict{}, err
	}
	if !found {
		return verify.Verdict{}, errNoWindow
	}

	a.say("   -> 🔍 OCR 검증 중...")
	lines := a.read(ctx, w.ID)
	v := a.m.verifier.Verify(a.name, lines)
	a.log.Debug("verdict",
		"lines", len(lines),
		"candidates", len(v.CandidateLines),
		"by_name", v.MatchedByName,
		"by_density", v.MatchedByDensity,
	)
	return v, nil
}

func (a *attempt) read(ctx context.Context, id capture.WindowID) []string {
	img, err := a.m.capturer.CaptureWindow(ctx, id)
	if err != nil {
		a.log.Warn("capture failed", "window", string(id), "error", err)
		return nil
	}
	if len(img) == 0 {
		return nil
	}
	lines, err := a.m.recognizer.RecognizeText(ctx, img)
	if err != nil {
		a.log.Warn("recognition failed", "error", err)
		return nil
	}
	return lines
}

// send refocuses the application first: keystrokes go to whichever window
// has focus, and focus may have moved during verification.
func (a *attempt) send(ctx context.Context, message string) error {
	ad := a.m.adapter
	if err := ad.AssertFocus(ctx); err != nil {
		return fmt.Errorf("focus: %w", err)
	}
	if err := a.steps(ctx, a.writeClipboard(message), ad.OpenSelected); err != nil {
		return err
	}
	if err := a.settle(ctx, a.timing.PasteSettle); err != nil {
		return err
	}
	if err := a.steps(ctx, ad.InjectPaste, ad.Submit, ad.CloseOverlay); err != nil {
		return err
	}
	return a.settle(ctx, a.timing.SendSettle)
}

// reset closes whatever is open and returns to the contact list. Errors and
// panics are logged only.
func (a *attempt) reset(ctx context.Context) {
	defer func() {
		if p := recover(); p != nil {
			a.log.Error("reset panic", "panic", p)
		}
	}()
	ad := a.m.adapter
	err := a.steps(ctx,
		func(ctx context.Context) error { return ad.PressKey(ctx, automation.KeyEscape) },
		ad.ShowBaseline,
	)
	if err != nil {
		a.log.Warn("reset failed", "error", err)
	}
	if err := a.settle(ctx, a.timing.ResetSettle); err != nil {
		a.log.Debug("reset settle interrupted", "error", err)
	}
}
