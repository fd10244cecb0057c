// Package progress carries run progress from the delivery worker to its
// observers: the event model, its wire encoding, an order-preserving queue
// and the sinks that drain it.
package progress

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Kind distinguishes log lines from the final summary.
type Kind string

const (
	KindLog      Kind = "log"
	KindComplete Kind = "complete"
)

// Summary is the result of a whole run. Delivered plus the number of failed
// names always equals Total.
type Summary struct {
	Total       int      `json:"total"`
	Delivered   int      `json:"success"`
	FailedNames []string `json:"failed_names"`
}

// Check reports a summary whose counts do not add up.
func (s Summary) Check() error {
	if s.Total < 0 || s.Delivered < 0 {
		return fmt.Errorf("negative counts: total=%d delivered=%d", s.Total, s.Delivered)
	}
	if s.Delivered+len(s.FailedNames) != s.Total {
		return fmt.Errorf("summary does not add up: %d delivered + %d failed != %d total",
			s.Delivered, len(s.FailedNames), s.Total)
	}
	return nil
}

// Event is one progress notification. RunID and Time are local metadata and
// are not part of the wire record.
type Event struct {
	Kind    Kind
	Message string
	Summary *Summary
	RunID   string
	Time    time.Time
}

// Log creates a log event.
func Log(runID, msg string) Event {
	return Event{Kind: KindLog, Message: msg, RunID: runID, Time: time.Now()}
}

// Complete creates the terminal event of a run.
func Complete(runID string, s Summary) Event {
	if s.FailedNames == nil {
		s.FailedNames = []string{}
	}
	return Event{Kind: KindComplete, Summary: &s, RunID: runID, Time: time.Now()}
}

type logRecord struct {
	Type    Kind   `json:"type"`
	Message string `json:"message"`
}

type completeRecord struct {
	Type Kind `json:"type"`
	Summary
}

// MarshalJSON encodes the wire record:
//
//	{"type":"log","message":"..."}
//	{"type":"complete","success":2,"total":3,"failed_names":["..."]}
func (e Event) MarshalJSON() ([]byte, error) {
	switch e.Kind {
	case KindLog:
		return json.Marshal(logRecord{Type: KindLog, Message: e.Message})
	case KindComplete:
		var s Summary
		if e.Summary != nil {
			s = *e.Summary
		}
		if s.FailedNames == nil {
			s.FailedNames = []string{}
		}
		return json.Marshal(completeRecord{Type: KindComplete, Summary: s})
	default:
		return nil, fmt.Errorf("progress: unknown event kind %q", e.Kind)
	}
}

// UnmarshalJSON decodes a wire record.
func (e *Event) UnmarshalJSON(data []byte) error {
	var head struct {
		Type Kind `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	switch head.Type {
	case KindLog:
		var r logRecord
		if err := json.Unmarshal(data, &r); err != nil {
			return err
		}
		*e = Event{Kind: KindLog, Message: r.Message}
	case KindComplete:
		var r completeRecord
		if err := json.Unmarshal(data, &r); err != nil {
			return err
		}
		if r.FailedNames == nil {
			r.FailedNames = []string{}
		}
		s := r.Summary
		*e = Event{Kind: KindComplete, Summary: &s}
	default:
		return errors.New("progress: record has no known type")
	}
	return nil
}
