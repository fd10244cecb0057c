// Package verify decides, from recognized on-screen text, whether a searched
// contact name is confirmed as the active search result.
//
// The chat application exposes no query API for its search results, so the
// only available evidence is what text recognition reads back from the
// window. The decision is a heuristic:
//   - a surviving line contains the searched name (name match), or
//   - enough non-trivial lines survive filtering (density match), which
//     catches result rows whose name glyphs the recognizer failed to read.
package verify

import (
	"strings"
	"sync/atomic"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Config holds the tunable data of the heuristic.
type Config struct {
	// ChromeTokens are exact lines produced by the application's own UI
	// (tab labels, ellipses, bullet glyphs, lone digits).
	ChromeTokens []string `toml:"chrome_tokens" json:"chrome_tokens" yaml:"chrome_tokens"`

	// PromptPrefixes mark the application's echo of the query inside its
	// search field or "did you mean" prompt. A line that starts with one of
	// these and contains the searched name is discarded.
	PromptPrefixes []string `toml:"prompt_prefixes" json:"prompt_prefixes" yaml:"prompt_prefixes"`

	// DensityThreshold is the number of surviving lines of at least
	// MinLineLength runes needed for a density match.
	DensityThreshold int `toml:"density_threshold" json:"density_threshold" yaml:"density_threshold"`

	// MinLineLength is measured in runes.
	MinLineLength int `toml:"min_line_length" json:"min_line_length" yaml:"min_line_length"`

	// DropQueryEcho discards lines that equal the searched name exactly,
	// treating them as the query echoed in the search field.
	DropQueryEcho bool `toml:"drop_query_echo" json:"drop_query_echo" yaml:"drop_query_echo"`
}

// DefaultConfig returns the thresholds tuned against the KakaoTalk desktop
// client.
func DefaultConfig() Config {
	return Config{
		ChromeTokens:     []string{"채팅", "친구", "...", "..", "•", "2", "8", "Q"},
		PromptPrefixes:   []string{"Q", "?", "？"},
		DensityThreshold: 2,
		MinLineLength:    2,
		DropQueryEcho:    true,
	}
}

// Verdict is the result of one verification.
type Verdict struct {
	Confirmed        bool     `json:"confirmed"`
	MatchedByName    bool     `json:"matched_by_name"`
	MatchedByDensity bool     `json:"matched_by_density"`
	CandidateLines   []string `json:"candidate_lines"`
}

// Engine evaluates recognized lines against a Config. Its configuration can
// be replaced while other goroutines verify.
type Engine struct {
	snap atomic.Pointer[snapshot]
}

type snapshot struct {
	cfg    Config
	chrome map[string]struct{}
}

// New creates an engine. Zero thresholds fall back to the defaults.
func New(cfg Config) *Engine {
	e := &Engine{}
	e.SetConfig(cfg)
	return e
}

// SetConfig atomically replaces the engine configuration.
func (e *Engine) SetConfig(cfg Config) {
	def := DefaultConfig()
	if cfg.DensityThreshold <= 0 {
		cfg.DensityThreshold = def.DensityThreshold
	}
	if cfg.MinLineLength <= 0 {
		cfg.MinLineLength = def.MinLineLength
	}
	cfg.ChromeTokens = append([]string(nil), cfg.ChromeTokens...)
	cfg.PromptPrefixes = append([]string(nil), cfg.PromptPrefixes...)

	chrome := make(map[string]struct{}, len(cfg.ChromeTokens))
	for _, tok := range cfg.ChromeTokens {
		chrome[normalize(tok)] = struct{}{}
	}
	e.snap.Store(&snapshot{cfg: cfg, chrome: chrome})
}

// Config returns a copy of the active configuration.
func (e *Engine) Config() Config {
	cfg := e.snap.Load().cfg
	cfg.ChromeTokens = append([]string(nil), cfg.ChromeTokens...)
	cfg.PromptPrefixes = append([]string(nil), cfg.PromptPrefixes...)
	return cfg
}

// Verify filters lines and reports whether searchedName is confirmed.
func (e *Engine) Verify(searchedName string, lines []string) Verdict {
	s := e.snap.Load()
	name := normalize(searchedName)

	v := Verdict{CandidateLines: candidates(s, name, lines)}
	if name == "" {
		return v
	}

	dense := 0
	for _, line := range v.CandidateLines {
		if strings.Contains(line, name) {
			v.MatchedByName = true
		}
		if utf8.RuneCountInString(line) >= s.cfg.MinLineLength {
			dense++
		}
	}
	v.MatchedByDensity = dense >= s.cfg.DensityThreshold
	v.Confirmed = v.MatchedByName || v.MatchedByDensity
	return v
}

// candidates returns the lines that survive chrome and echo filtering. The
// result is never nil.
func candidates(s *snapshot, name string, lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, raw := range lines {
		line := normalize(raw)
		if line == "" {
			continue
		}
		if _, ok := s.chrome[line]; ok {
			continue
		}
		if name != "" {
			if s.cfg.DropQueryEcho && line == name {
				continue
			}
			if isPromptEcho(line, name, s.cfg.PromptPrefixes) {
				continue
			}
		}
		out = append(out, line)
	}
	return out
}

func isPromptEcho(line, name string, prefixes []string) bool {
	if !strings.Contains(line, name) {
		return false
	}
	for _, p := range prefixes {
		if p != "" && strings.HasPrefix(line, p) {
			return true
		}
	}
	return false
}

// normalize composes Hangul jamo (macOS recognizers may emit NFD) and trims.
func normalize(s string) string {
	return strings.TrimSpace(norm.NFC.String(s))
}
