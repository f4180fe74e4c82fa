package tools

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/cortexvoice/internal/config"
)

func echoSession(tools ...string) *fakeSession {
	var descriptors []*mcpsdk.Tool
	for _, name := range tools {
		descriptors = append(descriptors, textTool(name))
	}
	return &fakeSession{
		tools: descriptors,
		callFn: func(ctx context.Context, name string, args map[string]any) (*mcpsdk.CallToolResult, error) {
			return &mcpsdk.CallToolResult{
				Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "echo:" + name}},
			}, nil
		},
	}
}

func newTestDispatcher(t *testing.T, session *fakeSession, maxConcurrency int) *Dispatcher {
	t.Helper()
	stubDialer(t, map[string]*fakeSession{"srv": session})

	cfg := config.ToolsConfig{CallTimeout: time.Second, MaxConcurrency: maxConcurrency}
	registry := NewRegistry(cfg, nil, zerolog.Nop())
	registry.ConnectAll(context.Background(), []config.ToolServerConfig{{Name: "srv", Transport: "stdio://srv"}})
	return NewDispatcher(registry, cfg, nil, zerolog.Nop())
}

func TestDispatcher_OneResultPerRequest(t *testing.T) {
	d := newTestDispatcher(t, echoSession("alpha", "beta", "gamma"), 0)

	reqs := []CallRequest{
		{ID: "c1", Name: "alpha"},
		{ID: "c2", Name: "beta"},
		{ID: "c3", Name: "gamma"},
	}
	results := d.ExecuteAll(context.Background(), reqs)

	require.Len(t, results, len(reqs))
	for i, result := range results {
		assert.Equal(t, reqs[i].ID, result.ID, "results must come back in request order")
		assert.True(t, result.OK())
		assert.Equal(t, "echo:"+reqs[i].Name, result.Text)
	}
}

func TestDispatcher_FailureDoesNotCancelSiblings(t *testing.T) {
	d := newTestDispatcher(t, echoSession("good"), 0)

	results := d.ExecuteAll(context.Background(), []CallRequest{
		{ID: "c1", Name: "missing"},
		{ID: "c2", Name: "good"},
	})

	require.Len(t, results, 2)
	assert.False(t, results[0].OK())
	assert.True(t, results[1].OK())
	assert.Equal(t, "echo:good", results[1].Text)
}

func TestDispatcher_ResultsInRequestOrderDespiteCompletionOrder(t *testing.T) {
	session := echoSession("fast", "slow")
	session.callFn = func(ctx context.Context, name string, args map[string]any) (*mcpsdk.CallToolResult, error) {
		if name == "slow" {
			time.Sleep(50 * time.Millisecond)
		}
		return &mcpsdk.CallToolResult{
			Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: name}},
		}, nil
	}
	d := newTestDispatcher(t, session, 0)

	results := d.ExecuteAll(context.Background(), []CallRequest{
		{ID: "c1", Name: "slow"},
		{ID: "c2", Name: "fast"},
	})

	require.Len(t, results, 2)
	assert.Equal(t, "slow", results[0].Text)
	assert.Equal(t, "fast", results[1].Text)
}

func TestDispatcher_RespectsConcurrencyCeiling(t *testing.T) {
	var active, peak atomic.Int32
	session := echoSession("work")
	session.callFn = func(ctx context.Context, name string, args map[string]any) (*mcpsdk.CallToolResult, error) {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		active.Add(-1)
		return &mcpsdk.CallToolResult{
			Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "done"}},
		}, nil
	}
	d := newTestDispatcher(t, session, 2)

	reqs := make([]CallRequest, 6)
	for i := range reqs {
		reqs[i] = CallRequest{ID: "c", Name: "work"}
	}
	d.ExecuteAll(context.Background(), reqs)

	assert.LessOrEqual(t, peak.Load(), int32(2), "no more than MaxConcurrency calls in flight")
}

func TestDispatcher_EmptyBatch(t *testing.T) {
	d := newTestDispatcher(t, echoSession(), 0)
	assert.Nil(t, d.ExecuteAll(context.Background(), nil))
}
