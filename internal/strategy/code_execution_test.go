package strategy

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vmcpmesh/gateway/internal/aggregator"
	"github.com/vmcpmesh/gateway/internal/outbound"
)

type fakeSandbox struct {
	result    *CodeResult
	err       error
	lastCode  string
	lastCall  ToolCaller
}

func (f *fakeSandbox) Run(ctx context.Context, code string, caller ToolCaller) (*CodeResult, error) {
	f.lastCode = code
	f.lastCall = caller
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func TestCodeExecution_ListToolsIncludesRunCode(t *testing.T) {
	t.Parallel()

	agg := &fakeAggregator{}
	c := NewCodeExecution(agg, &fakeSandbox{})

	tools, err := c.ListTools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 5)
	assert.Equal(t, toolRunCode, tools[len(tools)-1].Name)
	assert.Equal(t, "code_execution", c.Name())
}

func TestCodeExecution_RunCodeRequiresCode(t *testing.T) {
	t.Parallel()

	agg := &fakeAggregator{}
	c := NewCodeExecution(agg, &fakeSandbox{})

	result, err := c.CallTool(context.Background(), toolRunCode, map[string]any{})
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestCodeExecution_RunCodeReturnsSandboxResult(t *testing.T) {
	t.Parallel()

	sandbox := &fakeSandbox{result: &CodeResult{ReturnValue: "done", ConsoleLogs: []ConsoleEntry{{Type: "log", Content: "hi"}}}}
	agg := &fakeAggregator{}
	c := NewCodeExecution(agg, sandbox)

	result, err := c.CallTool(context.Background(), toolRunCode, map[string]any{"code": "return 1"})
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, "return 1", sandbox.lastCode)
}

func TestCodeExecution_RunCodeSandboxErrorBecomesContentError(t *testing.T) {
	t.Parallel()

	sandbox := &fakeSandbox{err: errors.New("script panicked")}
	agg := &fakeAggregator{}
	c := NewCodeExecution(agg, sandbox)

	result, err := c.CallTool(context.Background(), toolRunCode, map[string]any{"code": "throw"})
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestCodeExecution_RunCodeCallerForwardsToAggregator(t *testing.T) {
	t.Parallel()

	var forwarded string
	agg := &fakeAggregator{tools: []aggregator.Tool{tool("c1", "fetch", "")}, callToolFn: func(name string, _ map[string]any) (*outbound.ToolCallResult, error) {
		forwarded = name
		result := outbound.TextResult("ok")
		return &result, nil
	}}
	sandbox := &fakeSandbox{result: &CodeResult{}}
	c := NewCodeExecution(agg, sandbox)

	_, err := c.CallTool(context.Background(), toolRunCode, map[string]any{"code": "call fetch"})
	require.NoError(t, err)
	require.NotNil(t, sandbox.lastCall)

	_, err = sandbox.lastCall(context.Background(), "fetch", nil)
	require.NoError(t, err)
	assert.Equal(t, "fetch", forwarded)
}

func TestCodeExecution_OtherNamesDeferToSmartSelection(t *testing.T) {
	t.Parallel()

	agg := &fakeAggregator{tools: []aggregator.Tool{tool("c1", "fetch", "")}}
	c := NewCodeExecution(agg, &fakeSandbox{})

	result, err := c.CallTool(context.Background(), toolListConnections, nil)
	require.NoError(t, err)
	assert.False(t, result.IsError)
}
