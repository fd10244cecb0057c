package capture

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"kmsend/internal/automation"
)

// RecognitionConfig configures the tesseract command.
type RecognitionConfig struct {
	Command string `toml:"command" json:"command" yaml:"command"`

	// Languages is a tesseract language list such as "kor+eng".
	Languages string `toml:"languages" json:"languages" yaml:"languages"`

	// PageSegMode 11 finds sparse text, which suits a list of contacts.
	PageSegMode int `toml:"page_seg_mode" json:"page_seg_mode" yaml:"page_seg_mode"`

	ExtraArgs []string `toml:"extra_args" json:"extra_args" yaml:"extra_args"`
}

// DefaultRecognitionConfig reads Korean and English.
func DefaultRecognitionConfig() RecognitionConfig {
	return RecognitionConfig{Command: "tesseract", Languages: "kor+eng", PageSegMode: 11}
}

// Tesseract recognizes text with the tesseract CLI, reading the image from
// stdin and the text from stdout.
type Tesseract struct {
	cfg    RecognitionConfig
	runner automation.Runner
}

// NewTesseract creates a recognizer. Empty fields take defaults.
func NewTesseract(cfg RecognitionConfig, r automation.Runner) *Tesseract {
	def := DefaultRecognitionConfig()
	if cfg.Command == "" {
		cfg.Command = def.Command
	}
	if cfg.Languages == "" {
		cfg.Languages = def.Languages
	}
	if cfg.PageSegMode <= 0 {
		cfg.PageSegMode = def.PageSegMode
	}
	if r == nil {
		r = automation.ExecRunner{}
	}
	return &Tesseract{cfg: cfg, runner: r}
}

// Args returns the command line arguments.
func (t *Tesseract) Args() []string {
	args := []string{"stdin", "stdout", "-l", t.cfg.Languages, "--psm", strconv.Itoa(t.cfg.PageSegMode)}
	return append(args, t.cfg.ExtraArgs...)
}

// Command returns the executable name.
func (t *Tesseract) Command() string { return t.cfg.Command }

func (t *Tesseract) RecognizeText(ctx context.Context, png []byte) ([]string, error) {
	if len(png) == 0 {
		return []string{}, nil
	}
	out, err := t.runner.Run(ctx, string(png), t.cfg.Command, t.Args()...)
	if err != nil {
		return nil, fmt.Errorf("recognize: %w", err)
	}
	return splitLines(string(out)), nil
}

// splitLines drops blank lines and the form feed tesseract appends per page.
func splitLines(out string) []string {
	lines := make([]string, 0)
	for _, l := range strings.Split(out, "\n") {
		l = strings.TrimSpace(strings.Trim(l, "\f"))
		if l != "" {
			lines = append(lines, l)
		}
	}
	return lines
}
