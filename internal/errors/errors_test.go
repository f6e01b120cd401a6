package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodedErrors(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		predicate func(error) bool
		fatal     bool
		retryable bool
	}{
		{"duplicate node", DuplicateNode("commit:abc"), IsDuplicateNode, true, false},
		{"dangling edge", DanglingEdge("e1", "issue:1"), IsDanglingEdge, true, false},
		{"scoring", ScoringErrorf("wu1", "bad node %s", "x"), IsScoring, false, false},
		{"sink write", SinkWriteError(fmt.Errorf("conn reset"), "wu1"), IsSinkWrite, false, true},
		{"run write failures", SinkWritesFailed("run-1", 3), IsSinkWrite, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("outer: %w", tt.err)
			assert.True(t, tt.predicate(wrapped))
			assert.Equal(t, tt.fatal, IsFatal(wrapped))
			assert.Equal(t, tt.retryable, IsRetryable(wrapped))
		})
	}
}

func TestIsMatchesTypeAndCode(t *testing.T) {
	err := DuplicateNode("n1")

	assert.True(t, stderrors.Is(err, &Error{Type: ErrorTypeGraph}))
	assert.True(t, stderrors.Is(err, &Error{Type: ErrorTypeGraph, Code: CodeDuplicateNode}))
	assert.False(t, stderrors.Is(err, &Error{Type: ErrorTypeGraph, Code: CodeDanglingEdge}))
	assert.False(t, stderrors.Is(err, &Error{Type: ErrorTypeSink}))
}

func TestErrorMessage(t *testing.T) {
	err := SinkWriteError(fmt.Errorf("timeout"), "wu9")
	assert.Equal(t, "SinkWriteError: write work unit wu9: timeout", err.Error())
	assert.Nil(t, SinkWriteError(nil, "wu9"))

	detail := err.DetailedString()
	assert.Contains(t, detail, "[HIGH] [SINK]")
	assert.Contains(t, detail, "work_unit_id: wu9")
}

func TestPlainErrors(t *testing.T) {
	plain := fmt.Errorf("boom")
	assert.False(t, IsFatal(plain))
	assert.True(t, IsRetryable(plain), "unclassified errors are assumed transient")
	assert.False(t, IsRetryable(nil))
	assert.Equal(t, SeverityMedium, GetSeverity(plain))
	assert.Equal(t, ErrorTypeInternal, GetType(plain))
	assert.Equal(t, SeverityLow, GetSeverity(nil))
}

func TestFields(t *testing.T) {
	fields := DanglingEdge("e7", "commit:abc").Fields()
	assert.Equal(t, "GRAPH", fields["error_type"])
	assert.Equal(t, "CRITICAL", fields["severity"])
	assert.Equal(t, "DanglingEdgeError", fields["error_code"])
	assert.Equal(t, "e7", fields["edge_id"])

	_, hasCode := ConfigErrorf("missing %s", "x").Fields()["error_code"]
	assert.False(t, hasCode)
	assert.Equal(t, "UNKNOWN", ErrorType(42).String())
}
