package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestClassify_ExplicitMarkers(t *testing.T) {
	transient := Classify(Transient(errors.New("rpc timed out")))
	assert.Equal(t, ClassTransient, transient.Class)
	assert.Equal(t, "explicit_transient", transient.Reason)

	terminal := Classify(Terminal(errors.New("invalid params")))
	assert.Equal(t, ClassTerminal, terminal.Class)
	assert.Equal(t, "explicit_terminal", terminal.Reason)
}

func TestClassify_MarkersSurviveWrapping(t *testing.T) {
	err := fmt.Errorf("apply event: %w", Transient(errors.New("pool exhausted")))
	assert.True(t, Classify(err).IsTransient())
}

func TestClassify_BareEOFIsTransient(t *testing.T) {
	// A dying websocket subscription can yield io.EOF with no decoration;
	// the process must reconnect rather than exit.
	decision := Classify(io.EOF)
	assert.Equal(t, ClassTransient, decision.Class)
	assert.Equal(t, "connection_eof", decision.Reason)

	wrapped := Classify(fmt.Errorf("log subscription: %w", io.ErrUnexpectedEOF))
	assert.True(t, wrapped.IsTransient())

	stringified := Classify(errors.New("read tcp 10.0.0.1:443: unexpected EOF"))
	assert.True(t, stringified.IsTransient())
}

func TestClassify_RepresentativeRuntimeErrors(t *testing.T) {
	testCases := []struct {
		name          string
		err           error
		expectedClass Class
	}{
		{
			name:          "context canceled terminal",
			err:           context.Canceled,
			expectedClass: ClassTerminal,
		},
		{
			name:          "context deadline transient",
			err:           context.DeadlineExceeded,
			expectedClass: ClassTransient,
		},
		{
			name:          "pg deadlock transient",
			err:           &pq.Error{Code: "40P01", Message: "deadlock detected"},
			expectedClass: ClassTransient,
		},
		{
			name:          "pg connection failure transient",
			err:           &pq.Error{Code: "08006", Message: "connection failure"},
			expectedClass: ClassTransient,
		},
		{
			name:          "pg unique violation terminal",
			err:           &pq.Error{Code: "23505", Message: "duplicate key value"},
			expectedClass: ClassTerminal,
		},
		{
			name:          "rate limit message transient",
			err:           errors.New("request failed: too many requests"),
			expectedClass: ClassTransient,
		},
		{
			name:          "websocket close transient",
			err:           errors.New("read: websocket: close 1006 (abnormal closure)"),
			expectedClass: ClassTransient,
		},
		{
			name:          "execution reverted terminal",
			err:           errors.New("execution reverted: subscription does not exist"),
			expectedClass: ClassTerminal,
		},
		{
			name:          "unknown defaults terminal",
			err:           errors.New("unexpected failure"),
			expectedClass: ClassTerminal,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			decision := Classify(tc.err)
			assert.Equal(t, tc.expectedClass, decision.Class)
		})
	}
}
