package progress

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWireRecords(t *testing.T) {
	tests := []struct {
		name  string
		event Event
		want  string
	}{
		{
			name:  "log",
			event: Log("run-1", "[1/3] 김철수님 처리 중..."),
			want:  `{"type":"log","message":"[1/3] 김철수님 처리 중..."}`,
		},
		{
			name:  "complete",
			event: Complete("run-1", Summary{Total: 3, Delivered: 2, FailedNames: []string{"박영희"}}),
			want:  `{"type":"complete","total":3,"success":2,"failed_names":["박영희"]}`,
		},
		{
			name:  "complete without failures",
			event: Complete("run-1", Summary{}),
			want:  `{"type":"complete","total":0,"success":0,"failed_names":[]}`,
		},
		{
			name:  "complete with nil summary",
			event: Event{Kind: KindComplete},
			want:  `{"type":"complete","total":0,"success":0,"failed_names":[]}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.event)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(data))
			assert.NoError(t, ValidateRecord(data))
		})
	}
}

func TestUnknownKind(t *testing.T) {
	_, err := json.Marshal(Event{Kind: "other"})
	assert.Error(t, err)
}

func TestDecodeRecord(t *testing.T) {
	var e Event
	require.NoError(t, json.Unmarshal([]byte(`{"type":"complete","success":1,"total":1,"failed_names":null}`), &e))
	require.NotNil(t, e.Summary)
	assert.Equal(t, KindComplete, e.Kind)
	assert.Equal(t, []string{}, e.Summary.FailedNames)

	assert.Error(t, json.Unmarshal([]byte(`{"type":"bogus"}`), &e))
}

func TestValidateRecordRejects(t *testing.T) {
	bad := map[string]string{
		"counts do not add up": `{"type":"complete","success":2,"total":3,"failed_names":[]}`,
		"null failed names":    `{"type":"complete","success":0,"total":0,"failed_names":null}`,
		"missing message":      `{"type":"log"}`,
		"extra field":          `{"type":"log","message":"x","level":"info"}`,
		"negative total":       `{"type":"complete","success":0,"total":-1,"failed_names":[]}`,
		"not json":             `{`,
	}
	for name, rec := range bad {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, ValidateRecord([]byte(rec)))
		})
	}
}

func TestSummaryCheck(t *testing.T) {
	assert.NoError(t, Summary{Total: 2, Delivered: 1, FailedNames: []string{"a"}}.Check())
	assert.Error(t, Summary{Total: 2, Delivered: 2, FailedNames: []string{"a"}}.Check())
}
