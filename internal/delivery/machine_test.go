package delivery

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kmsend/internal/automation"
	"kmsend/internal/capture"
	"kmsend/internal/retry"
	"kmsend/internal/verify"
)

type fakeAdapter struct {
	mu       sync.Mutex
	calls    []string
	failOn   map[string]error
	panicOn  string
	inactive bool

	// focusErrs answers AssertFocus calls in order, then nil.
	focusErrs []error
}

func (f *fakeAdapter) record(name string) error {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	f.mu.Unlock()
	if name == f.panicOn {
		panic("boom")
	}
	return f.failOn[name]
}

func (f *fakeAdapter) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeAdapter) count(name string) int {
	n := 0
	for _, c := range f.Calls() {
		if c == name {
			n++
		}
	}
	return n
}

func (f *fakeAdapter) Activate(context.Context) (bool, error) {
	return !f.inactive, f.record("Activate")
}
func (f *fakeAdapter) AssertFocus(context.Context) error {
	if err := f.record("AssertFocus"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.focusErrs) == 0 {
		return nil
	}
	err := f.focusErrs[0]
	f.focusErrs = f.focusErrs[1:]
	return err
}
func (f *fakeAdapter) InjectPaste(context.Context) error { return f.record("InjectPaste") }
func (f *fakeAdapter) PressKey(_ context.Context, k automation.Key) error {
	return f.record("PressKey:" + string(k))
}
func (f *fakeAdapter) OpenSearch(context.Context) error       { return f.record("OpenSearch") }
func (f *fakeAdapter) ClearQuery(context.Context) error       { return f.record("ClearQuery") }
func (f *fakeAdapter) SelectNextResult(context.Context) error { return f.record("SelectNextResult") }
func (f *fakeAdapter) OpenSelected(context.Context) error     { return f.record("OpenSelected") }
func (f *fakeAdapter) Submit(context.Context) error           { return f.record("Submit") }
func (f *fakeAdapter) CloseOverlay(context.Context) error     { return f.record("CloseOverlay") }
func (f *fakeAdapter) ShowBaseline(context.Context) error     { return f.record("ShowBaseline") }

type fakeClipboard struct {
	writes []string
	err    error
}

func (c *fakeClipboard) WriteText(s string) error {
	c.writes = append(c.writes, s)
	return c.err
}

// fakeWindows answers lookups from a queue; the last answer repeats.
type fakeWindows struct {
	answers []bool
	calls   int
}

func (w *fakeWindows) FindWindow(context.Context) (capture.Window, bool, error) {
	i := w.calls
	if i >= len(w.answers) {
		i = len(w.answers) - 1
	}
	w.calls++
	if !w.answers[i] {
		return capture.Window{}, false, nil
	}
	return capture.Window{ID: "101", Owner: "KakaoTalk", Width: 380, Height: 640}, true, nil
}

type fakeScreen struct {
	lines      []string
	captureErr error
	nilImage   bool
	captured   []capture.WindowID
}

func (s *fakeScreen) CaptureWindow(_ context.Context, id capture.WindowID) ([]byte, error) {
	s.captured = append(s.captured, id)
	if s.captureErr != nil {
		return nil, s.captureErr
	}
	if s.nilImage {
		return nil, nil
	}
	return []byte("png"), nil
}

func (s *fakeScreen) RecognizeText(context.Context, []byte) ([]string, error) {
	return s.lines, nil
}

type transitions struct {
	mu     sync.Mutex
	states []State
}

func (t *transitions) Transition(_ string, _, to State) {
	t.mu.Lock()
	t.states = append(t.states, to)
	t.mu.Unlock()
}

func (t *transitions) count(s State) int {
	n := 0
	for _, st := range t.states {
		if st == s {
			n++
		}
	}
	return n
}

type harness struct {
	adapter *fakeAdapter
	clip    *fakeClipboard
	windows *fakeWindows
	screen  *fakeScreen
	sleeper *retry.Recorder
	obs     *transitions
	machine *Machine
	msgs    []string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		adapter: &fakeAdapter{failOn: map[string]error{}},
		clip:    &fakeClipboard{},
		windows: &fakeWindows{answers: []bool{true}},
		screen:  &fakeScreen{lines: []string{"채팅", "김철수 (회사)", "오늘도 화이팅"}},
		sleeper: &retry.Recorder{},
		obs:     &transitions{},
	}
	h.machine = New(Deps{
		Adapter:    h.adapter,
		Clipboard:  h.clip,
		Windows:    h.windows,
		Capturer:   h.screen,
		Recognizer: h.screen,
		Verifier:   verify.New(verify.DefaultConfig()),
		Sleeper:    h.sleeper,
		Observer:   h.obs,
	})
	return h
}

func (h *harness) deliver(ctx context.Context, name string) Outcome {
	return h.machine.Deliver(ctx, name, name+"님!\n요청하신 리포트입니다.", func(msg string) {
		h.msgs = append(h.msgs, msg)
	})
}

func TestDeliverSuccess(t *testing.T) {
	h := newHarness(t)

	out := h.deliver(context.Background(), "김철수")

	assert.Equal(t, Outcome{Name: "김철수", Delivered: true}, out)
	assert.Equal(t, []State{Activating, Searching, Verifying, Sending, Sent, Resetting, Done}, h.obs.states)
	assert.Equal(t, []string{"김철수", "김철수님!\n요청하신 리포트입니다."}, h.clip.writes)
	assert.Equal(t, []string{
		"Activate", "AssertFocus",
		"OpenSearch", "ClearQuery", "InjectPaste",
		"SelectNextResult", "SelectNextResult",
		"AssertFocus", "OpenSelected", "InjectPaste", "Submit", "CloseOverlay",
		"PressKey:escape", "ShowBaseline",
	}, h.adapter.Calls())
	assert.Equal(t, []capture.WindowID{"101"}, h.screen.captured)
	assert.Contains(t, strings.Join(h.msgs, "\n"), "전송 완료")
}

func TestDeliverSettlingDelays(t *testing.T) {
	h := newHarness(t)
	h.deliver(context.Background(), "김철수")

	delays := h.sleeper.Delays()
	require.NotEmpty(t, delays)
	assert.Equal(t, 500*time.Millisecond, delays[0], "activation settle")
	assert.Contains(t, delays, 1500*time.Millisecond, "search settle")
	assert.Equal(t, 300*time.Millisecond, delays[len(delays)-1], "reset settle")
}

func TestDeliverVerificationFailure(t *testing.T) {
	h := newHarness(t)
	h.screen.lines = []string{"2", "•", "Q"}

	out := h.deliver(context.Background(), "철수")

	assert.Equal(t, Failed("철수", CategoryVerification, ReasonNotFound), out)
	assert.Zero(t, h.obs.count(Sending))
	assert.Equal(t, 1, h.obs.count(Resetting))
	assert.Zero(t, h.adapter.count("Submit"))
	assert.Equal(t, []string{"철수"}, h.clip.writes)
}

func TestDeliverWindowNotFound(t *testing.T) {
	h := newHarness(t)
	h.windows.answers = []bool{false}

	out := h.deliver(context.Background(), "김철수")

	assert.Equal(t, Failed("김철수", CategoryWindowUnavailable, ReasonWindowNotFound), out)
	assert.Equal(t, 3, h.adapter.count("Activate"))
	assert.Zero(t, h.obs.count(Searching))
	assert.Equal(t, 1, h.obs.count(Resetting))

	// three settles and two retry pauses before giving up
	delays := h.sleeper.Delays()
	assert.Equal(t, []time.Duration{
		500 * time.Millisecond, time.Second,
		500 * time.Millisecond, time.Second,
		500 * time.Millisecond,
	}, delays[:5])
}

func TestDeliverActivationRecovers(t *testing.T) {
	h := newHarness(t)
	h.windows.answers = []bool{false, true}

	out := h.deliver(context.Background(), "김철수")

	assert.True(t, out.Delivered)
	assert.Equal(t, 2, h.adapter.count("Activate"))
}

func TestDeliverFocusRetried(t *testing.T) {
	h := newHarness(t)
	h.adapter.focusErrs = []error{errors.New("windowfocus failed")}

	out := h.deliver(context.Background(), "김철수")

	assert.True(t, out.Delivered)
	assert.Equal(t, 2, h.adapter.count("Activate"))
	assert.Equal(t, 3, h.adapter.count("AssertFocus"))
}

func TestDeliverFocusLostBeforeSend(t *testing.T) {
	h := newHarness(t)
	h.adapter.focusErrs = []error{nil, errors.New("no KakaoTalk window")}

	out := h.deliver(context.Background(), "김철수")

	assert.Equal(t, CategoryAdapter, out.Category)
	assert.Contains(t, out.FailureReason, "focus")
	assert.Zero(t, h.adapter.count("OpenSelected"))
	assert.Zero(t, h.adapter.count("Submit"))
	assert.Equal(t, []string{"김철수"}, h.clip.writes, "message never reaches the clipboard")
	assert.Equal(t, 1, h.obs.count(Resetting))
}

func TestDeliverWindowLostBeforeCapture(t *testing.T) {
	h := newHarness(t)
	h.windows.answers = []bool{true, false}

	out := h.deliver(context.Background(), "김철수")

	assert.Equal(t, CategoryWindowUnavailable, out.Category)
	assert.Equal(t, ReasonWindowNotFound, out.FailureReason)
	assert.Empty(t, h.screen.captured)
	assert.Equal(t, 1, h.obs.count(Resetting))
}

func TestDeliverNoEvidence(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*fakeScreen)
	}{
		{"capture error", func(s *fakeScreen) { s.captureErr = errors.New("not permitted") }},
		{"nil image", func(s *fakeScreen) { s.nilImage = true }},
		{"empty recognition", func(s *fakeScreen) { s.lines = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			tt.modify(h.screen)
			out := h.deliver(context.Background(), "김철수")
			assert.Equal(t, Failed("김철수", CategoryVerification, ReasonNotFound), out)
		})
	}
}

func TestDeliverAdapterError(t *testing.T) {
	h := newHarness(t)
	h.adapter.failOn["Submit"] = errors.New("osascript: exit status 1")

	out := h.deliver(context.Background(), "김철수")

	assert.False(t, out.Delivered)
	assert.Equal(t, CategoryAdapter, out.Category)
	assert.Equal(t, "osascript: exit status 1", out.FailureReason)
	assert.Zero(t, h.adapter.count("CloseOverlay"))
	assert.Equal(t, 1, h.obs.count(Resetting))
	assert.Equal(t, 1, h.adapter.count("ShowBaseline"))
}

func TestDeliverClipboardError(t *testing.T) {
	h := newHarness(t)
	h.clip.err = errors.New("no clipboard utility")

	out := h.deliver(context.Background(), "김철수")

	assert.Equal(t, CategoryAdapter, out.Category)
	assert.Contains(t, out.FailureReason, "clipboard")
	assert.Zero(t, h.adapter.count("OpenSearch"))
}

func TestDeliverAdapterPanic(t *testing.T) {
	h := newHarness(t)
	h.adapter.panicOn = "OpenSearch"

	var out Outcome
	require.NotPanics(t, func() { out = h.deliver(context.Background(), "김철수") })

	assert.Equal(t, CategoryAdapter, out.Category)
	assert.Contains(t, out.FailureReason, "boom")
	assert.Equal(t, 1, h.obs.count(Resetting))
	assert.Equal(t, Done, h.obs.states[len(h.obs.states)-1])
}

func TestDeliverResetErrorIgnored(t *testing.T) {
	h := newHarness(t)
	h.adapter.failOn["ShowBaseline"] = errors.New("menu missing")

	out := h.deliver(context.Background(), "김철수")
	assert.True(t, out.Delivered)
}

func TestDeliverCancelledContext(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := h.deliver(ctx, "김철수")

	assert.Equal(t, Failed("김철수", CategoryInterrupted, ReasonInterrupted), out)
	assert.Equal(t, 1, h.obs.count(Resetting))
	assert.Equal(t, 1, h.adapter.count("ShowBaseline"), "reset must run despite cancellation")
}

func TestSetTiming(t *testing.T) {
	h := newHarness(t)
	h.machine.SetTiming(Timing{ResultSteps: 1, SearchSettle: 2 * time.Second})

	h.deliver(context.Background(), "김철수")

	assert.Equal(t, 1, h.adapter.count("SelectNextResult"))
	assert.Contains(t, h.sleeper.Delays(), 2*time.Second)
	assert.Equal(t, 3, h.machine.Timing().ActivateAttempts)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "resetting", Resetting.String())
	assert.Equal(t, "unknown", State(42).String())
}
