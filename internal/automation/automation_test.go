package automation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ Adapter = (*MacOS)(nil)
	_ Adapter = (*Xdotool)(nil)
)

type call struct {
	stdin string
	name  string
	args  []string
}

// fakeRunner records commands and answers from a script of responses.
type fakeRunner struct {
	mu      sync.Mutex
	calls   []call
	respond func(c call) ([]byte, error)
}

func (f *fakeRunner) Run(_ context.Context, stdin, name string, args ...string) ([]byte, error) {
	c := call{stdin: stdin, name: name, args: args}
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()
	if f.respond != nil {
		return f.respond(c)
	}
	return nil, nil
}

func (f *fakeRunner) last() call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

func TestMacOSActivate(t *testing.T) {
	r := &fakeRunner{respond: func(call) ([]byte, error) { return []byte("true\n"), nil }}
	m := NewMacOS(DefaultConfig(), r)

	ok, err := m.Activate(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	c := r.last()
	assert.Equal(t, "osascript", c.name)
	assert.Equal(t, []string{"-"}, c.args)
	assert.Contains(t, c.stdin, `tell application "KakaoTalk" to activate`)
	assert.Contains(t, c.stdin, `keystroke "n" using command down`)
	assert.Contains(t, c.stdin, "delay 0.3")
}

func TestMacOSActivateNoWindow(t *testing.T) {
	r := &fakeRunner{respond: func(call) ([]byte, error) { return []byte("false"), nil }}
	ok, err := NewMacOS(DefaultConfig(), r).Activate(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMacOSErrorsWrapped(t *testing.T) {
	boom := &CommandError{Name: "osascript", Stderr: "not authorized", Err: errors.New("exit status 1")}
	r := &fakeRunner{respond: func(call) ([]byte, error) { return nil, boom }}

	err := NewMacOS(DefaultConfig(), r).Submit(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "not authorized")
}

func TestMacOSKeyScripts(t *testing.T) {
	tests := []struct {
		name string
		do   func(*MacOS) error
		want []string
	}{
		{"open search", func(m *MacOS) error { return m.OpenSearch(context.Background()) },
			[]string{`keystroke "1" using command down`, "key code 3 using command down"}},
		{"clear query", func(m *MacOS) error { return m.ClearQuery(context.Background()) },
			[]string{"key code 0 using command down", "key code 51"}},
		{"next result", func(m *MacOS) error { return m.SelectNextResult(context.Background()) },
			[]string{"key code 125"}},
		{"submit", func(m *MacOS) error { return m.Submit(context.Background()) },
			[]string{"key code 36"}},
		{"close overlay", func(m *MacOS) error { return m.CloseOverlay(context.Background()) },
			[]string{"key code 53\n\tdelay 0.3\n\tkey code 53"}},
		{"baseline", func(m *MacOS) error { return m.ShowBaseline(context.Background()) },
			[]string{`keystroke "1" using command down`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &fakeRunner{}
			require.NoError(t, tt.do(NewMacOS(DefaultConfig(), r)))
			script := r.last().stdin
			assert.Contains(t, script, `tell process "KakaoTalk" to set frontmost to true`)
			for _, w := range tt.want {
				assert.Contains(t, script, w)
			}
		})
	}
}

func TestMacOSPasteFallbacks(t *testing.T) {
	r := &fakeRunner{}
	require.NoError(t, NewMacOS(DefaultConfig(), r).InjectPaste(context.Background()))

	script := r.last().stdin
	first := strings.Index(script, `click menu item "붙여넣기" of menu "편집"`)
	second := strings.Index(script, `click menu item "Paste" of menu "편집"`)
	third := strings.Index(script, `click menu item "Paste" of menu "Edit"`)
	require.True(t, first >= 0 && second > first && third > second, "fallbacks out of order:\n%s", script)
	assert.Equal(t, 2, strings.Count(script, "on error"))
	assert.Equal(t, 2, strings.Count(script, "end try"))
}

func TestMacOSUnknownKey(t *testing.T) {
	err := NewMacOS(DefaultConfig(), &fakeRunner{}).PressKey(context.Background(), Key("f13"))
	assert.Error(t, err)
}

func TestQuote(t *testing.T) {
	assert.Equal(t, `"a\"b\\c"`, quote(`a"b\c`))
}

func TestXdotoolActivate(t *testing.T) {
	r := &fakeRunner{respond: func(c call) ([]byte, error) {
		if c.args[0] == "search" {
			return []byte("44040199\n44040200\n"), nil
		}
		return nil, nil
	}}
	x := NewXdotool(DefaultConfig(), r)

	ok, err := x.Activate(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"windowactivate", "--sync", "44040199"}, r.last().args)
}

func TestXdotoolActivateNoWindow(t *testing.T) {
	r := &fakeRunner{respond: func(call) ([]byte, error) {
		return nil, &CommandError{Name: "xdotool", Err: errors.New("exit status 1")}
	}}
	ok, err := NewXdotool(DefaultConfig(), r).Activate(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestXdotoolKeys(t *testing.T) {
	r := &fakeRunner{}
	cfg := DefaultConfig()
	cfg.KeyDelay = 150 * time.Millisecond
	x := NewXdotool(cfg, r)

	require.NoError(t, x.ClearQuery(context.Background()))
	assert.Equal(t, []string{"key", "--clearmodifiers", "--delay", "150", "ctrl+a", "BackSpace"}, r.last().args)

	require.NoError(t, x.PressKey(context.Background(), KeyEscape))
	assert.Equal(t, "Escape", r.last().args[len(r.last().args)-1])
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{AppName: "Other"}.withDefaults()
	assert.Equal(t, "Other", cfg.ProcessName)
	assert.Equal(t, "Other", cfg.WindowClass)
	assert.Len(t, cfg.PasteMenus, 3)
}
