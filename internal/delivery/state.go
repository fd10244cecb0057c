package delivery

// State is a step of the per-recipient machine.
type State int

const (
	Idle State = iota
	Activating
	Searching
	Verifying
	Sending
	Sent
	Skipped
	Resetting
	Done
)

var stateNames = [...]string{
	Idle:       "idle",
	Activating: "activating",
	Searching:  "searching",
	Verifying:  "verifying",
	Sending:    "sending",
	Sent:       "sent",
	Skipped:    "skipped",
	Resetting:  "resetting",
	Done:       "done",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Category classifies a failed delivery.
type Category string

const (
	CategoryNone              Category = ""
	CategoryWindowUnavailable Category = "window-unavailable"
	CategoryVerification      Category = "verification"
	CategoryAdapter           Category = "adapter"
	CategoryInterrupted       Category = "interrupted"
)

// Failure reasons with fixed text.
const (
	ReasonWindowNotFound = "window not found"
	ReasonNotFound       = "not found"
	ReasonInterrupted    = "interrupted"
)

// Outcome is the result of one delivery attempt.
type Outcome struct {
	Name          string   `json:"name"`
	Delivered     bool     `json:"delivered"`
	FailureReason string   `json:"failure_reason,omitempty"`
	Category      Category `json:"category,omitempty"`
}

// Failed builds a failed outcome.
func Failed(name string, c Category, reason string) Outcome {
	return Outcome{Name: name, FailureReason: reason, Category: c}
}

// Observer is told about every state change.
type Observer interface {
	Transition(name string, from, to State)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(name string, from, to State)

func (f ObserverFunc) Transition(name string, from, to State) { f(name, from, to) }

// Reporter receives human-readable step messages.
type Reporter func(msg string)
