package batch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"kmsend/internal/delivery"
	"kmsend/internal/progress"
	"kmsend/internal/recipient"
	"kmsend/internal/retry"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// scriptedDeliverer fails the names in fail and delivers the rest.
type scriptedDeliverer struct {
	mu       sync.Mutex
	fail     map[string]string
	messages map[string]string
	order    []string
	gate     chan struct{}
	onCall   func(name string)
}

func (d *scriptedDeliverer) Deliver(_ context.Context, name, message string, report delivery.Reporter) delivery.Outcome {
	if d.gate != nil {
		<-d.gate
	}
	d.mu.Lock()
	d.order = append(d.order, name)
	if d.messages == nil {
		d.messages = map[string]string{}
	}
	d.messages[name] = message
	d.mu.Unlock()
	if d.onCall != nil {
		d.onCall(name)
	}
	report("   -> step for " + name)
	if reason, ok := d.fail[name]; ok {
		return delivery.Failed(name, delivery.CategoryVerification, reason)
	}
	return delivery.Outcome{Name: name, Delivered: true}
}

func (d *scriptedDeliverer) calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.order...)
}

type memRecorder struct {
	mu       sync.Mutex
	begun    []string
	outcomes []delivery.Outcome
	finished []progress.Summary
	err      error
}

func (m *memRecorder) BeginRun(_ context.Context, id, _ string, _ int, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.begun = append(m.begun, id)
	return m.err
}

func (m *memRecorder) RecordOutcome(_ context.Context, _ string, _ int, o delivery.Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, o)
	return m.err
}

func (m *memRecorder) FinishRun(_ context.Context, _ string, s progress.Summary, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finished = append(m.finished, s)
	return m.err
}

func members() []recipient.Recipient {
	return []recipient.Recipient{
		{Name: "김철수", RegistrationType: "이월", AgeGroup: "20대"},
		{Name: "박영희", RegistrationType: "신규", AgeGroup: "40대"},
		{Name: "이민호", RegistrationType: "재등록", AgeGroup: "30대"},
		{Name: "최지우", RegistrationType: "신규", AgeGroup: "20대"},
	}
}

// drain closes the stream and returns everything published.
func drain(t *testing.T, s *progress.Stream) []progress.Event {
	t.Helper()
	s.Close()
	var events []progress.Event
	for {
		e, err := s.Next(context.Background())
		if errors.Is(err, progress.ErrClosed) {
			return events
		}
		require.NoError(t, err)
		events = append(events, e)
	}
}

func split(events []progress.Event) (logs []string, completes []*progress.Summary) {
	for _, e := range events {
		switch e.Kind {
		case progress.KindLog:
			logs = append(logs, e.Message)
		case progress.KindComplete:
			completes = append(completes, e.Summary)
		}
	}
	return logs, completes
}

func newOrchestrator(d Deliverer, s *progress.Stream, rec Recorder, sleeper retry.Sleeper) *Orchestrator {
	return New(Deps{
		Deliverer: d,
		Events:    s,
		Recorder:  rec,
		Sleeper:   sleeper,
		Settings:  DefaultSettings(),
	})
}

func TestStartRunsInBackgroundAndRejectsSecondStart(t *testing.T) {
	d := &scriptedDeliverer{
		fail: map[string]string{"이민호": delivery.ReasonNotFound},
		gate: make(chan struct{}),
	}
	stream := progress.NewStream()
	o := newOrchestrator(d, stream, nil, &retry.Recorder{})

	require.True(t, o.Start(context.Background(), Job{Recipients: members()}))
	assert.True(t, o.Running())
	assert.NotEmpty(t, o.CurrentRun())
	assert.False(t, o.Start(context.Background(), Job{Recipients: members()}), "second start must be rejected")

	_, err := o.Run(context.Background(), Job{Recipients: members()})
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	close(d.gate)
	o.Wait()
	assert.False(t, o.Running())
	assert.Empty(t, o.CurrentRun())

	logs, completes := split(drain(t, stream))
	require.Len(t, completes, 1)
	assert.Equal(t, progress.Summary{Total: 3, Delivered: 2, FailedNames: []string{"이민호"}}, *completes[0])
	assert.GreaterOrEqual(t, len(logs), 3)
	assert.Equal(t, []string{"김철수", "이민호", "최지우"}, d.calls())
}

func TestRunLogsAndSummary(t *testing.T) {
	d := &scriptedDeliverer{fail: map[string]string{"최지우": delivery.ReasonNotFound}}
	stream := progress.NewStream()
	o := newOrchestrator(d, stream, nil, &retry.Recorder{})

	sum, err := o.Run(context.Background(), Job{ID: "run-1", Recipients: members()})
	require.NoError(t, err)
	assert.Equal(t, progress.Summary{Total: 3, Delivered: 2, FailedNames: []string{"최지우"}}, sum)

	events := drain(t, stream)
	for _, e := range events {
		assert.Equal(t, "run-1", e.RunID)
	}
	logs, completes := split(events)
	require.Len(t, completes, 1)
	assert.Equal(t, progress.KindComplete, events[len(events)-1].Kind, "complete must be last")

	joined := strings.Join(logs, "\n")
	assert.Contains(t, joined, "전체 4명 로드됨")
	assert.Contains(t, joined, "타겟 멤버 3명 필터링됨")
	assert.Contains(t, joined, "[1/3] 김철수님 처리 중...")
	assert.Contains(t, joined, "   -> step for 김철수")
	assert.Contains(t, joined, "완료! (성공: 2/3)")
	assert.Contains(t, joined, "   • 최지우")
}

func TestRunMessageTemplate(t *testing.T) {
	d := &scriptedDeliverer{}
	o := newOrchestrator(d, progress.NewStream(), nil, &retry.Recorder{})

	_, err := o.Run(context.Background(), Job{Recipients: members()[:1]})
	require.NoError(t, err)
	assert.Equal(t, "김철수님!\n요청하신 리포트입니다.\n감사합니다.", d.messages["김철수"])

	_, err = o.Run(context.Background(), Job{Recipients: members()[:1], Template: "안녕 {name}, {name}!"})
	require.NoError(t, err)
	assert.Equal(t, "안녕 김철수, 김철수!", d.messages["김철수"])
}

func TestRunInterRecipientDelay(t *testing.T) {
	sleeper := &retry.Recorder{}
	o := newOrchestrator(&scriptedDeliverer{fail: map[string]string{"김철수": "x"}}, progress.NewStream(), nil, sleeper)

	_, err := o.Run(context.Background(), Job{Recipients: members()})
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second, 2 * time.Second}, sleeper.Delays())
}

func TestRunSourceFailure(t *testing.T) {
	d := &scriptedDeliverer{}
	stream := progress.NewStream()
	rec := &memRecorder{}
	o := newOrchestrator(d, stream, rec, &retry.Recorder{})

	sum, err := o.Run(context.Background(), Job{Load: func(context.Context) ([]recipient.Recipient, error) {
		return nil, errors.New("missing column: 등록형태")
	}})
	require.NoError(t, err)
	assert.Equal(t, progress.Summary{FailedNames: []string{}}, sum)
	assert.Empty(t, d.calls())
	assert.Empty(t, rec.begun)

	logs, completes := split(drain(t, stream))
	require.Len(t, logs, 1)
	assert.Contains(t, logs[0], "등록형태")
	require.Len(t, completes, 1)
	assert.Equal(t, progress.Summary{FailedNames: []string{}}, *completes[0])
}

func TestRunNoTargets(t *testing.T) {
	d := &scriptedDeliverer{}
	stream := progress.NewStream()
	o := newOrchestrator(d, stream, nil, &retry.Recorder{})

	_, err := o.Run(context.Background(), Job{Recipients: []recipient.Recipient{
		{Name: "박영희", RegistrationType: "신규", AgeGroup: "40대"},
	}})
	require.NoError(t, err)
	assert.Empty(t, d.calls())

	logs, completes := split(drain(t, stream))
	assert.Contains(t, logs[len(logs)-1], "타겟 멤버가 없습니다")
	require.Len(t, completes, 1)
	assert.Zero(t, completes[0].Total)
}

func TestRunInterruptedByShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d := &scriptedDeliverer{onCall: func(name string) {
		if name == "김철수" {
			cancel()
		}
	}}
	stream := progress.NewStream()
	rec := &memRecorder{}
	o := newOrchestrator(d, stream, rec, retry.Clock{})

	sum, err := o.Run(ctx, Job{Recipients: members()})
	require.NoError(t, err)

	assert.Equal(t, []string{"김철수"}, d.calls())
	assert.Equal(t, progress.Summary{Total: 3, Delivered: 1, FailedNames: []string{"이민호", "최지우"}}, sum)
	require.Len(t, rec.outcomes, 3)
	assert.Equal(t, delivery.CategoryInterrupted, rec.outcomes[2].Category)
	require.Len(t, rec.finished, 1)

	_, completes := split(drain(t, stream))
	assert.Len(t, completes, 1)
}

func TestRecorderErrorsDoNotStopRun(t *testing.T) {
	rec := &memRecorder{err: errors.New("disk full")}
	o := newOrchestrator(&scriptedDeliverer{}, progress.NewStream(), rec, &retry.Recorder{})

	sum, err := o.Run(context.Background(), Job{Recipients: members()})
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Delivered)
	assert.Len(t, rec.outcomes, 3)
}

func TestSettingsApplyToNextRun(t *testing.T) {
	d := &scriptedDeliverer{}
	o := newOrchestrator(d, progress.NewStream(), nil, &retry.Recorder{})

	set := o.Settings()
	set.Filter.AgeGroups = append(set.Filter.AgeGroups, "40대")
	set.Template = ""
	o.SetSettings(set)

	sum, err := o.Run(context.Background(), Job{Recipients: members()})
	require.NoError(t, err)
	assert.Equal(t, 4, sum.Total)
	assert.Equal(t, DefaultTemplate, o.Settings().Template)
}

func TestFormatMessage(t *testing.T) {
	assert.Equal(t, "김철수님!", FormatMessage("{name}님!", "김철수"))
	assert.Equal(t, "no placeholder", FormatMessage("no placeholder", "김철수"))
}

func TestRunState(t *testing.T) {
	var r RunState
	assert.True(t, r.TryStart())
	assert.False(t, r.TryStart())
	r.MarkDone()
	assert.True(t, r.TryStart())
}
