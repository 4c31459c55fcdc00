package sandbox

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vmcpmesh/gateway/internal/strategy"
)

func TestConsoleBuffer_AccumulatesEntriesInOrder(t *testing.T) {
	t.Parallel()

	var c consoleBuffer
	c.add("log", "first")
	c.add("error", "second")

	entries := c.entries()
	require.Len(t, entries, 2)
	assert.Equal(t, strategy.ConsoleEntry{Type: "log", Content: "first"}, entries[0])
	assert.Equal(t, strategy.ConsoleEntry{Type: "error", Content: "second"}, entries[1])
}

func TestConsoleBuffer_EmptyIsNonNil(t *testing.T) {
	t.Parallel()

	var c consoleBuffer
	assert.NotNil(t, c.entries())
	assert.Empty(t, c.entries())
}

func TestSandbox_Run_InvalidBase64ReturnsError(t *testing.T) {
	t.Parallel()

	s := New()
	_, err := s.Run(context.Background(), "not-valid-base64!!!", nil)
	require.Error(t, err)
}

func TestSandbox_Run_InvalidWasmModuleFails(t *testing.T) {
	t.Parallel()

	s := New()
	_, err := s.Run(context.Background(), "bm90LXdhc20=", nil) // base64("not-wasm")
	require.Error(t, err)
}
