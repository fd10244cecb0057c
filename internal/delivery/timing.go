package delivery

import "time"

// Timing holds the settling pauses that give the application time to react.
type Timing struct {
	ActivateAttempts   int           `toml:"activate_attempts" json:"activate_attempts" yaml:"activate_attempts"`
	ActivateSettle     time.Duration `toml:"activate_settle" json:"activate_settle" yaml:"activate_settle"`
	ActivateRetryDelay time.Duration `toml:"activate_retry_delay" json:"activate_retry_delay" yaml:"activate_retry_delay"`

	// StepDelay separates consecutive UI actions.
	StepDelay time.Duration `toml:"step_delay" json:"step_delay" yaml:"step_delay"`

	// PasteSettle follows a query paste and the opening of a chat.
	PasteSettle time.Duration `toml:"paste_settle" json:"paste_settle" yaml:"paste_settle"`

	// ResultSteps is how many times the result cursor is moved down.
	ResultSteps int `toml:"result_steps" json:"result_steps" yaml:"result_steps"`

	// SearchSettle lets search results render before capture.
	SearchSettle time.Duration `toml:"search_settle" json:"search_settle" yaml:"search_settle"`

	SendSettle  time.Duration `toml:"send_settle" json:"send_settle" yaml:"send_settle"`
	ResetSettle time.Duration `toml:"reset_settle" json:"reset_settle" yaml:"reset_settle"`
}

// DefaultTiming returns pauses measured against the desktop client.
func DefaultTiming() Timing {
	return Timing{
		ActivateAttempts:   3,
		ActivateSettle:     500 * time.Millisecond,
		ActivateRetryDelay: time.Second,
		StepDelay:          200 * time.Millisecond,
		PasteSettle:        time.Second,
		ResultSteps:        2,
		SearchSettle:       1500 * time.Millisecond,
		SendSettle:         500 * time.Millisecond,
		ResetSettle:        300 * time.Millisecond,
	}
}

// withDefaults fills unset fields. ResultSteps may legitimately be zero only
// when set negative, which is clamped to zero.
func (t Timing) withDefaults() Timing {
	def := DefaultTiming()
	if t.ActivateAttempts <= 0 {
		t.ActivateAttempts = def.ActivateAttempts
	}
	if t.ActivateSettle == 0 {
		t.ActivateSettle = def.ActivateSettle
	}
	if t.ActivateRetryDelay == 0 {
		t.ActivateRetryDelay = def.ActivateRetryDelay
	}
	if t.StepDelay == 0 {
		t.StepDelay = def.StepDelay
	}
	if t.PasteSettle == 0 {
		t.PasteSettle = def.PasteSettle
	}
	switch {
	case t.ResultSteps == 0:
		t.ResultSteps = def.ResultSteps
	case t.ResultSteps < 0:
		t.ResultSteps = 0
	}
	if t.SearchSettle == 0 {
		t.SearchSettle = def.SearchSettle
	}
	if t.SendSettle == 0 {
		t.SendSettle = def.SendSettle
	}
	if t.ResetSettle == 0 {
		t.ResetSettle = def.ResetSettle
	}
	return t
}
