package logging

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  LogLevel
		ok    bool
	}{
		{"ERROR", LevelError, true},
		{"warn", LevelWarn, true},
		{" Debug ", LevelDebug, true},
		{"TRACE", LevelTrace, true},
		{"verbose", LevelInfo, false},
		{"", LevelInfo, false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := ParseLevel(tt.input)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger("TEST")
	l.SetOutput(&buf)

	l.Debug("hidden %d", 1)
	assert.Empty(t, buf.String())

	l.Info("shown %d", 2)
	assert.Contains(t, buf.String(), "shown 2")
	assert.Contains(t, buf.String(), "TEST")
}

func TestWithPrefixSharesLevel(t *testing.T) {
	var buf bytes.Buffer
	root := NewLogger("ROOT")
	root.SetOutput(&buf)
	child := root.WithPrefix("child")

	child.Trace("before")
	require.Empty(t, buf.String())

	root.SetLevel(LevelTrace)
	child.Trace("after")
	assert.Contains(t, buf.String(), "after")
	assert.Contains(t, buf.String(), "child")
	assert.Equal(t, LevelTrace, child.Level())
}
